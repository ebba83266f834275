// Package task defines the task model and the multi-backend task registry.
// Backends (document checklist, file database, remote tracker) implement one
// uniform contract and are routed to by qualified task id prefix.
package task

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stint-dev/stint-core/taskid"
)

// Status is the closed set of task states.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN-PROGRESS"
	StatusInReview   Status = "IN-REVIEW"
	StatusDone       Status = "DONE"
	StatusBlocked    Status = "BLOCKED"
	StatusClosed     Status = "CLOSED"
)

// allStatuses lists every valid status, in lifecycle order.
var allStatuses = []Status{
	StatusTodo, StatusInProgress, StatusInReview,
	StatusDone, StatusBlocked, StatusClosed,
}

// ErrNotFound is returned when a task does not exist in its backend.
var ErrNotFound = errors.New("task not found")

// ErrInvalidStatus is returned when a status outside the closed enum is used.
var ErrInvalidStatus = errors.New("invalid task status")

// ParseStatus validates a raw status string against the closed enum.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	for _, valid := range allStatuses {
		if s == valid {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q (valid: %s)", ErrInvalidStatus, raw, statusList())
}

// Valid reports whether the status is a member of the closed enum.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Completed reports whether the status is terminal (DONE or CLOSED).
func (s Status) Completed() bool {
	return s == StatusDone || s == StatusClosed
}

func statusList() string {
	parts := make([]string, len(allStatuses))
	for i, s := range allStatuses {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}

// MergeMetadata records how a task's session was merged.
type MergeMetadata struct {
	Commit     string    `json:"commit"`
	MergedAt   time.Time `json:"merged_at"`
	MergedBy   string    `json:"merged_by"`
	BaseBranch string    `json:"base_branch,omitempty"`
	PRBranch   string    `json:"pr_branch,omitempty"`
}

// Task is a trackable unit of work.
type Task struct {
	ID          taskid.ID
	Title       string
	Status      Status
	SpecPath    string // Path or link to the task's specification document
	Description string // Free-text description collected from the backend
	Merge       *MergeMetadata
}

// Filter narrows List results.
type Filter struct {
	// Statuses restricts results to the given statuses. Empty means all.
	Statuses []Status
	// IncludeCompleted includes DONE and CLOSED tasks. Off by default.
	IncludeCompleted bool
}

// Matches reports whether a task passes the filter. An explicit status
// selection takes precedence over the completed cutoff.
func (f Filter) Matches(t Task) bool {
	if len(f.Statuses) > 0 {
		return f.selects(t.Status)
	}
	if !f.IncludeCompleted && t.Status.Completed() {
		return false
	}
	return true
}

func (f Filter) selects(s Status) bool {
	for _, want := range f.Statuses {
		if want == s {
			return true
		}
	}
	return false
}

// Backend is the uniform contract every task storage implements.
// All methods receive canonical ids; normalization of raw input happens in
// the Registry, once, at every public entry point.
type Backend interface {
	// Prefix returns the backend's qualified-id prefix (e.g. "md").
	Prefix() string

	// Name returns the human-readable backend name.
	Name() string

	// Available reports whether the backend is configured and usable.
	Available() bool

	// List returns tasks passing the filter.
	List(filter Filter) ([]Task, error)

	// Get returns the task with the given id, or ErrNotFound.
	Get(id taskid.ID) (*Task, error)

	// GetStatus returns the task's current status.
	GetStatus(id taskid.ID) (Status, error)

	// SetStatus transitions the task. The status is already validated.
	SetStatus(id taskid.ID, status Status) error

	// SetMergeMetadata records merge details on the task.
	SetMergeMetadata(id taskid.ID, merge MergeMetadata) error

	// Create adds a task from a specification source and returns it.
	Create(specSource string) (*Task, error)

	// Delete removes the task, or returns ErrNotFound.
	Delete(id taskid.ID) error

	// SpecContent returns the task's specification document content.
	SpecContent(id taskid.ID) (string, error)
}
