// Package workspace determines whether a filesystem path lies inside a
// session workspace, and which one. The lifecycle operations use it to block
// nested session creation and to auto-detect the target session.
package workspace

import (
	"path/filepath"
	"strings"

	"github.com/stint-dev/stint-core/store"
)

// Detection is the result of locating a path relative to the session
// workspaces.
type Detection struct {
	// Session is the record whose workspace contains the path, or nil.
	Session *store.SessionRecord

	// Unregistered is true when the path sits under the workspaces root
	// but no record matches — the signature of a crashed session start.
	Unregistered bool

	// WorkspacePath is the workspace directory the path falls under. Set
	// for both registered and unregistered detections.
	WorkspacePath string

	// Name is the session name implied by the directory, for repair.
	Name string
}

// InsideSession reports whether the path is inside a registered session.
func (d *Detection) InsideSession() bool {
	return d.Session != nil
}

// Detector locates paths against the session store.
type Detector struct {
	store *store.Store
}

// NewDetector creates a detector over the given store.
func NewDetector(s *store.Store) *Detector {
	return &Detector{store: s}
}

// Detect reports which session workspace, if any, contains path.
func (d *Detector) Detect(path string) *Detection {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	abs = normalize(abs)

	for _, rec := range d.store.List() {
		wsPath := normalize(d.store.ResolveWorkspacePath(&rec))
		if within(abs, wsPath) {
			r := rec
			return &Detection{Session: &r, WorkspacePath: wsPath, Name: rec.Name}
		}
	}

	// Not registered — check whether the path at least lives under the
	// workspaces root, which means a workspace directory without a record.
	root := normalize(d.store.WorkspaceRoot())
	if root != "" && within(abs, root) && abs != root {
		rel := strings.TrimPrefix(abs, root+string(filepath.Separator))
		name := rel
		if idx := strings.IndexRune(rel, filepath.Separator); idx >= 0 {
			name = rel[:idx]
		}
		return &Detection{
			Unregistered:  true,
			WorkspacePath: filepath.Join(root, name),
			Name:          name,
		}
	}

	return &Detection{}
}

// normalize resolves symlinks where possible for consistent comparison
// (e.g. /tmp vs /private/tmp on macOS).
func normalize(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return filepath.Clean(resolved)
	}
	return filepath.Clean(path)
}

// within reports whether path equals dir or lives underneath it.
func within(path, dir string) bool {
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}
