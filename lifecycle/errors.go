package lifecycle

import "fmt"

// ValidationError reports missing or contradictory input, raised before any
// side effect.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an absent session or task.
type NotFoundError struct {
	Kind string // "session" or "task"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// ConflictError reports a state the operation refuses to push through: merge
// conflicts, a dirty worktree, or a workspace the store disagrees with. It
// carries the affected files and concrete remediation commands so the caller
// can present guidance instead of a raw failure.
type ConflictError struct {
	Msg         string
	Files       []string
	Remediation []string
}

func (e *ConflictError) Error() string {
	return e.Msg
}

// OperationalError wraps a failure from the version-control tool or storage
// I/O with the operation that hit it. The underlying message is preserved
// unchanged.
type OperationalError struct {
	Op  string
	Err error
}

func (e *OperationalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OperationalError) Unwrap() error {
	return e.Err
}

func operational(op string, err error) error {
	return &OperationalError{Op: op, Err: err}
}
