package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/stint-dev/stint-core/store"
	"github.com/stint-dev/stint-core/task"
	"github.com/stint-dev/stint-core/taskid"
)

// StartParams configures session creation.
type StartParams struct {
	// Name is the session name. Derived from the task when empty.
	Name string

	// Repo is the repository clone URL or local path. When empty and a
	// task is given, the configured workspace repository is required from
	// the caller, so Repo stays mandatory here.
	Repo string

	// Task optionally links the session to a task (qualified or bare id).
	Task string

	// Branch overrides the session branch name. Defaults to the session
	// name.
	Branch string

	// Base is the branch to clone. Empty means the remote's default.
	Base string

	// Dir is the caller's working directory, used to block nested
	// session creation. Defaults to the process cwd.
	Dir string
}

// StartResult reports a created session.
type StartResult struct {
	Record        store.SessionRecord
	WorkspacePath string

	// Warnings collects non-fatal sub-step failures (e.g. the linked
	// task's status transition). The session itself was created.
	Warnings []string
}

// Start creates a session: resolve the repository, clone into the session's
// reserved directory, create the branch, and only then register the record.
// Any clone or branch failure removes the partial directory and leaves no
// record behind.
func Start(ctx context.Context, p StartParams, d Deps) (*StartResult, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	log := d.log()

	// All preconditions are checked before any side effect.
	if det := d.detector().Detect(workingDir(p.Dir)); det.InsideSession() {
		return nil, validationf("cannot start a session from inside session %q; run from outside the workspace", det.Session.Name)
	}

	var linked taskid.ID
	if p.Task != "" {
		id, _, err := d.Tasks.Resolve(p.Task)
		if err != nil {
			return nil, taskLookupError(p.Task, err)
		}
		if _, err := d.Tasks.Get(id.String()); err != nil {
			return nil, taskLookupError(id.String(), err)
		}
		if existing := d.Store.GetByTaskID(id.String()); existing != nil {
			return nil, validationf("task %s is already claimed by session %q", id, existing.Name)
		}
		linked = id
	}

	name := p.Name
	if name == "" {
		if linked.IsZero() {
			return nil, validationf("either a session name or a task id is required")
		}
		name = "task-" + linked.String()
	}
	if d.Store.Get(name) != nil {
		return nil, validationf("session %q already exists", name)
	}

	if p.Repo == "" {
		return nil, validationf("a repository URL is required")
	}

	branch := p.Branch
	if branch == "" {
		branch = name
	}

	wsPath := filepath.Join(d.Store.WorkspaceRoot(), name)
	if _, err := os.Stat(wsPath); err == nil {
		return nil, validationf("workspace directory %s already exists; remove it or pick another session name", wsPath)
	}

	g := d.gateway()
	log.Info("starting session", "session", name, "repo", p.Repo, "branch", branch)

	if err := g.Clone(ctx, p.Repo, wsPath, p.Base); err != nil {
		removePartial(d, wsPath)
		return nil, operational("clone failed", err)
	}
	if err := g.CreateBranch(ctx, wsPath, branch); err != nil {
		removePartial(d, wsPath)
		return nil, operational("branch creation failed", err)
	}

	rec := store.SessionRecord{
		ID:            uuid.NewString(),
		Name:          name,
		Repo:          repoNameFromURL(p.Repo),
		RepoURL:       p.Repo,
		CreatedAt:     time.Now(),
		WorkspacePath: wsPath,
		Branch:        branch,
	}
	if !linked.IsZero() {
		rec.TaskID = linked.String()
		rec.Backend = linked.Backend
	}
	if err := d.Store.Add(rec); err != nil {
		removePartial(d, wsPath)
		return nil, operational("registering session failed", err)
	}

	result := &StartResult{Record: rec, WorkspacePath: wsPath}
	if !linked.IsZero() {
		if err := d.Tasks.SetStatus(linked.String(), string(task.StatusInProgress)); err != nil {
			log.Warn("task status transition failed", "task", linked.String(), "error", err)
			result.Warnings = append(result.Warnings, fmt.Sprintf("could not move task %s to IN-PROGRESS: %v", linked, err))
		}
	}
	log.Info("session started", "session", name, "workspace", wsPath)
	return result, nil
}

// removePartial deletes a half-created workspace directory. Failures are
// logged, never surfaced over the original error.
func removePartial(d Deps, path string) {
	if err := os.RemoveAll(path); err != nil {
		d.log().Warn("could not remove partial workspace", "path", path, "error", err)
	}
}

func taskLookupError(raw string, err error) error {
	if errors.Is(err, task.ErrNotFound) {
		return &NotFoundError{Kind: "task", Name: raw}
	}
	return validationf("invalid task id %q: %v", raw, err)
}
