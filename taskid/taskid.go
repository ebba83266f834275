// Package taskid implements the qualified task identifier format used across
// all task backends: "{backendPrefix}#{localId}", e.g. "md#123" or "tr#456".
//
// Legacy bare forms ("123", "#123") are accepted at every entry point and
// normalize to the default backend's canonical form. Normalization is
// idempotent and total: two spellings that denote the same task always
// compare equal after Parse.
package taskid

import (
	"fmt"
	"strings"
)

// ID is a parsed, canonical task identifier.
type ID struct {
	Backend string // backend prefix, e.g. "md"
	Local   string // backend-local identifier, e.g. "123"
}

// String renders the canonical qualified form.
func (id ID) String() string {
	return id.Backend + "#" + id.Local
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool {
	return id.Backend == "" && id.Local == ""
}

// Equal reports whether two IDs denote the same task.
func (id ID) Equal(other ID) bool {
	return id.Backend == other.Backend && id.Local == other.Local
}

// Parse normalizes a raw identifier to canonical form. Accepted spellings:
//
//	"md#123"  fully qualified
//	"#123"    legacy, resolves against defaultBackend
//	"123"     legacy, resolves against defaultBackend
//
// Parse is idempotent: feeding a canonical form back in yields the same ID.
func Parse(raw, defaultBackend string) (ID, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ID{}, fmt.Errorf("empty task id")
	}

	backend := strings.ToLower(strings.TrimSpace(defaultBackend))

	if before, after, ok := strings.Cut(s, "#"); ok {
		prefix := strings.ToLower(strings.TrimSpace(before))
		local := strings.TrimSpace(after)
		if local == "" {
			return ID{}, fmt.Errorf("task id %q has no local part", raw)
		}
		if strings.Contains(local, "#") {
			return ID{}, fmt.Errorf("task id %q has multiple '#' separators", raw)
		}
		if prefix == "" {
			// Legacy "#123" form.
			prefix = backend
		}
		if prefix == "" {
			return ID{}, fmt.Errorf("task id %q has no backend prefix and no default backend is set", raw)
		}
		return ID{Backend: prefix, Local: local}, nil
	}

	// Legacy bare form "123".
	if backend == "" {
		return ID{}, fmt.Errorf("task id %q has no backend prefix and no default backend is set", raw)
	}
	return ID{Backend: backend, Local: s}, nil
}

// MustParse is Parse for identifiers known to be canonical, panicking on
// malformed input. Intended for literals in tests.
func MustParse(raw string) ID {
	id, err := Parse(raw, "")
	if err != nil {
		panic(err)
	}
	return id
}

// Normalize returns the canonical string form of a raw identifier.
func Normalize(raw, defaultBackend string) (string, error) {
	id, err := Parse(raw, defaultBackend)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
