package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/stint-dev/stint-core/git"
	"github.com/stint-dev/stint-core/task"
)

// SubmitParams configures submit-for-review.
type SubmitParams struct {
	// Dir is the caller's working directory; it must be inside a session
	// workspace. Defaults to the process cwd.
	Dir string

	// SkipUpdate submits without bringing the session up to date first.
	SkipUpdate bool

	// Remote defaults to "origin".
	Remote string

	// Base is passed through to the implicit update.
	Base string
}

// SubmitResult reports a created or refreshed review branch.
type SubmitResult struct {
	Session  string
	PRBranch string
	Updated  bool
	Warnings []string
}

// Submit creates or refreshes the session's review branch, pr/{session},
// from the session branch and pushes it. Only valid from inside a session
// workspace, never from a pr/* branch, and never with uncommitted changes.
// A linked task moves to IN-REVIEW.
func Submit(ctx context.Context, p SubmitParams, d Deps) (*SubmitResult, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	log := d.log()
	g := d.gateway()

	det := d.detector().Detect(workingDir(p.Dir))
	if !det.InsideSession() {
		if det.Unregistered {
			return nil, validationf("directory %s has no session record; run update to repair it first", det.WorkspacePath)
		}
		return nil, validationf("submit must run from inside a session workspace")
	}
	rec := det.Session
	ws := d.Store.ResolveWorkspacePath(rec)
	remote := defaultRemote(p.Remote)

	current, err := g.CurrentBranch(ctx, ws)
	if err != nil {
		return nil, operational("reading current branch", err)
	}
	if strings.HasPrefix(current, PRBranchPrefix) {
		return nil, validationf("already on review branch %q; switch back to %q first", current, rec.Branch)
	}

	status, err := g.WorktreeStatus(ctx, ws)
	if err != nil {
		return nil, operational("reading worktree status", err)
	}
	if status.HasChanges() {
		return nil, &ConflictError{
			Msg:   "uncommitted changes in the workspace",
			Files: status.Files(),
			Remediation: []string{
				"commit the changes: git add -A && git commit",
				"or stash them: git stash",
				"then re-run submit",
			},
		}
	}

	result := &SubmitResult{Session: rec.Name, PRBranch: PRBranch(rec.Name)}

	if !p.SkipUpdate {
		upd, err := Update(ctx, UpdateParams{Session: rec.Name, Remote: remote, Base: p.Base}, d)
		if err != nil {
			return nil, err
		}
		result.Updated = true
		result.Warnings = append(result.Warnings, upd.Warnings...)
	}

	// Refresh: an existing review branch is rebuilt from the current
	// session branch head.
	if g.BranchExists(ctx, ws, result.PRBranch) {
		if err := g.DeleteBranch(ctx, ws, result.PRBranch); err != nil {
			return nil, operational("refreshing review branch", err)
		}
	}
	if err := g.CreateBranch(ctx, ws, result.PRBranch); err != nil {
		return nil, operational("creating review branch", err)
	}
	if err := g.Push(ctx, git.PushOptions{Dir: ws, Remote: remote, Branch: result.PRBranch, SetUpstream: true, Force: true}); err != nil {
		return nil, operational("pushing review branch", err)
	}
	// Leave the workspace on the session branch; the review branch is a
	// pointer, not a place to work.
	if err := g.Checkout(ctx, ws, rec.Branch); err != nil {
		log.Warn("could not switch back to session branch", "session", rec.Name, "error", err)
		result.Warnings = append(result.Warnings, fmt.Sprintf("workspace left on %s: %v", result.PRBranch, err))
	}

	if rec.TaskID != "" {
		if err := d.Tasks.SetStatus(rec.TaskID, string(task.StatusInReview)); err != nil {
			log.Warn("task status transition failed", "task", rec.TaskID, "error", err)
			result.Warnings = append(result.Warnings, fmt.Sprintf("could not move task %s to IN-REVIEW: %v", rec.TaskID, err))
		}
	}

	log.Info("session submitted for review", "session", rec.Name, "branch", result.PRBranch)
	return result, nil
}
