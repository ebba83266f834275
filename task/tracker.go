package task

import (
	"fmt"

	"github.com/stint-dev/stint-core/config"
	"github.com/stint-dev/stint-core/taskid"
)

// TrackerPrefix is the qualified-id prefix of the remote-tracker backend.
const TrackerPrefix = "tr"

// TrackerClient is the contract a remote issue-tracker client fulfills.
// The concrete network client is an external collaborator: callers inject
// one, and this backend confines itself to id normalization, status-enum
// enforcement, and availability checks.
type TrackerClient interface {
	// ListIssues returns the project's issues as tasks (ids bare, unqualified).
	ListIssues(project string) ([]Task, error)

	// GetIssue returns one issue, or an error satisfying errors.Is(err, ErrNotFound).
	GetIssue(project, localID string) (*Task, error)

	// SetIssueStatus transitions an issue.
	SetIssueStatus(project, localID string, status Status) error

	// SetIssueMergeMetadata records merge details on an issue.
	SetIssueMergeMetadata(project, localID string, merge MergeMetadata) error

	// CreateIssue creates an issue from a specification source.
	CreateIssue(project, specSource string) (*Task, error)

	// DeleteIssue removes an issue.
	DeleteIssue(project, localID string) error

	// IssueSpec returns the issue's specification content.
	IssueSpec(project, localID string) (string, error)
}

// TrackerBackend adapts an injected TrackerClient to the Backend contract.
type TrackerBackend struct {
	client TrackerClient
	cfg    *config.TrackerConfig
}

// NewTrackerBackend creates the tracker backend. A nil client is allowed;
// the backend then reports itself unavailable.
func NewTrackerBackend(client TrackerClient, cfg *config.TrackerConfig) *TrackerBackend {
	return &TrackerBackend{client: client, cfg: cfg}
}

// Prefix returns "tr".
func (b *TrackerBackend) Prefix() string { return TrackerPrefix }

// Name returns the human-readable backend name.
func (b *TrackerBackend) Name() string { return "Remote tracker" }

// Available reports whether a client is injected and the tracker config is
// complete (enabled, project mapping, token present in the environment).
func (b *TrackerBackend) Available() bool {
	return b.client != nil && b.cfg.Configured()
}

// qualify stamps the tracker prefix onto tasks coming back from the client.
func (b *TrackerBackend) qualify(t *Task) {
	t.ID = taskid.ID{Backend: TrackerPrefix, Local: t.ID.Local}
}

// List returns tracker issues passing the filter.
func (b *TrackerBackend) List(filter Filter) ([]Task, error) {
	tasks, err := b.client.ListIssues(b.cfg.Project)
	if err != nil {
		return nil, fmt.Errorf("tracker list: %w", err)
	}

	var out []Task
	for i := range tasks {
		b.qualify(&tasks[i])
		if filter.Matches(tasks[i]) {
			out = append(out, tasks[i])
		}
	}
	return out, nil
}

// Get returns one tracker issue.
func (b *TrackerBackend) Get(id taskid.ID) (*Task, error) {
	t, err := b.client.GetIssue(b.cfg.Project, id.Local)
	if err != nil {
		return nil, err
	}
	b.qualify(t)
	return t, nil
}

// GetStatus returns the issue's current status.
func (b *TrackerBackend) GetStatus(id taskid.ID) (Status, error) {
	t, err := b.Get(id)
	if err != nil {
		return "", err
	}
	return t.Status, nil
}

// SetStatus transitions the issue.
func (b *TrackerBackend) SetStatus(id taskid.ID, status Status) error {
	return b.client.SetIssueStatus(b.cfg.Project, id.Local, status)
}

// SetMergeMetadata records merge details on the issue.
func (b *TrackerBackend) SetMergeMetadata(id taskid.ID, merge MergeMetadata) error {
	return b.client.SetIssueMergeMetadata(b.cfg.Project, id.Local, merge)
}

// Create creates a tracker issue from a specification source.
func (b *TrackerBackend) Create(specSource string) (*Task, error) {
	t, err := b.client.CreateIssue(b.cfg.Project, specSource)
	if err != nil {
		return nil, err
	}
	b.qualify(t)
	return t, nil
}

// Delete removes a tracker issue.
func (b *TrackerBackend) Delete(id taskid.ID) error {
	return b.client.DeleteIssue(b.cfg.Project, id.Local)
}

// SpecContent returns the issue's specification content.
func (b *TrackerBackend) SpecContent(id taskid.ID) (string, error) {
	return b.client.IssueSpec(b.cfg.Project, id.Local)
}

var _ Backend = (*TrackerBackend)(nil)
