package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/stint-dev/stint-core/git"
	"github.com/stint-dev/stint-core/store"
	"github.com/stint-dev/stint-core/task"
)

// ApproveParams configures approval. The target session is resolved by
// Session, then Task, then auto-detection from Dir, in that order.
type ApproveParams struct {
	Session string
	Task    string
	Dir     string

	// RepoRoot is the original repository's checkout, where the merge
	// runs. Defaults to the record's repository URL when that is a local
	// directory.
	RepoRoot string

	// Remote defaults to "origin".
	Remote string

	// Base overrides the branch merged into.
	Base string
}

// ApproveResult reports a merge, or that one already happened.
type ApproveResult struct {
	Session         string
	PRBranch        string
	Base            string
	AlreadyApproved bool
	Commit          string
	MergedBy        string
	MergedAt        time.Time
	Warnings        []string
}

// Approve fast-forward-merges the session's local review branch into the
// base branch of the original repository, records merge metadata on the
// linked task, and cleans up the branches. Everything runs in the original
// repository root; the session workspace is irrelevant once a review branch
// exists.
//
// Approve is idempotent: when pr/{session} is already an ancestor of the
// base branch the call reports AlreadyApproved and performs no merge, push,
// or branch deletion.
func Approve(ctx context.Context, p ApproveParams, d Deps) (*ApproveResult, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	log := d.log()
	g := d.gateway()

	rec, err := resolveApprovalTarget(p, d)
	if err != nil {
		return nil, err
	}

	root, err := resolveRepoRoot(p, rec)
	if err != nil {
		return nil, err
	}

	remote := defaultRemote(p.Remote)
	base := d.resolveBase(ctx, g, root, p.Base)
	prBranch := PRBranch(rec.Name)

	result := &ApproveResult{Session: rec.Name, PRBranch: prBranch, Base: base}

	if !g.BranchExists(ctx, root, prBranch) {
		if rec.TaskID != "" {
			if status, serr := d.Tasks.GetStatus(rec.TaskID); serr == nil && status == task.StatusDone {
				result.AlreadyApproved = true
				return result, nil
			}
		}
		return nil, &NotFoundError{Kind: "review branch", Name: prBranch}
	}

	if err := g.Checkout(ctx, root, base); err != nil {
		return nil, operational("checking out base branch", err)
	}
	if err := g.Fetch(ctx, root, remote); err != nil {
		return nil, operational("fetch failed", err)
	}

	if g.IsAncestor(ctx, root, prBranch, base) {
		log.Info("session already approved", "session", rec.Name)
		result.AlreadyApproved = true
		return result, nil
	}

	// The merge authority is the local review branch, never its remote
	// copy.
	if err := g.MergeFFOnly(ctx, root, prBranch); err != nil {
		return nil, &ConflictError{
			Msg:   fmt.Sprintf("cannot fast-forward %s into %s: %v", prBranch, base, err),
			Remediation: []string{
				fmt.Sprintf("update the session so %s descends from %s", prBranch, base),
				"re-run submit, then approve again",
			},
		}
	}

	commit, err := g.Head(ctx, root)
	if err != nil {
		return nil, operational("reading merge commit", err)
	}
	identity, err := g.UserIdentity(ctx, root)
	if err != nil {
		log.Warn("could not read merger identity", "error", err)
	}
	result.Commit = commit
	result.MergedBy = identity
	result.MergedAt = time.Now()

	if err := g.Push(ctx, git.PushOptions{Dir: root, Remote: remote, Branch: base}); err != nil {
		return nil, operational("pushing base branch", err)
	}

	// Branch cleanup and task bookkeeping are best-effort: the merge is
	// already pushed, so failures here become warnings.
	if g.RemoteRefExists(ctx, root, remote, prBranch) {
		if err := g.DeleteRemoteBranch(ctx, root, remote, prBranch); err != nil {
			warn(result, log, "remote review branch not deleted", "branch", prBranch, err)
		}
	}
	if err := g.DeleteBranch(ctx, root, prBranch); err != nil {
		warn(result, log, "local review branch not deleted", "branch", prBranch, err)
	}
	if rec.Branch != "" && rec.Branch != base {
		if g.BranchExists(ctx, root, rec.Branch) {
			if err := g.DeleteBranch(ctx, root, rec.Branch); err != nil {
				warn(result, log, "local session branch not deleted", "branch", rec.Branch, err)
			}
		}
	}

	if rec.TaskID != "" {
		if err := d.Tasks.SetStatus(rec.TaskID, string(task.StatusDone)); err != nil {
			warn(result, log, "task not moved to DONE", "task", rec.TaskID, err)
		}
		meta := task.MergeMetadata{
			Commit:     commit,
			MergedAt:   result.MergedAt,
			MergedBy:   identity,
			BaseBranch: base,
			PRBranch:   prBranch,
		}
		if err := d.Tasks.SetMergeMetadata(rec.TaskID, meta); err != nil {
			warn(result, log, "merge metadata not recorded", "task", rec.TaskID, err)
		}
	}

	log.Info("session approved", "session", rec.Name, "commit", commit, "base", base)
	return result, nil
}

// warn records a non-fatal sub-step failure on a successful result.
func warn(result *ApproveResult, log *slog.Logger, msg, key, val string, err error) {
	log.Warn(msg, key, val, "error", err)
	result.Warnings = append(result.Warnings, fmt.Sprintf("%s (%s): %v", msg, val, err))
}

func resolveApprovalTarget(p ApproveParams, d Deps) (*store.SessionRecord, error) {
	switch {
	case p.Session != "":
		rec := d.Store.Get(p.Session)
		if rec == nil {
			return nil, &NotFoundError{Kind: "session", Name: p.Session}
		}
		return rec, nil
	case p.Task != "":
		rec := d.Store.GetByTaskID(p.Task)
		if rec == nil {
			return nil, &NotFoundError{Kind: "session for task", Name: p.Task}
		}
		return rec, nil
	default:
		det := d.detector().Detect(workingDir(p.Dir))
		if !det.InsideSession() {
			return nil, validationf("no session or task given and not inside a session workspace")
		}
		return det.Session, nil
	}
}

// resolveRepoRoot picks the checkout the merge runs in. The record's
// repository URL doubles as the root when it is a local directory.
func resolveRepoRoot(p ApproveParams, rec *store.SessionRecord) (string, error) {
	if p.RepoRoot != "" {
		return p.RepoRoot, nil
	}
	if info, err := os.Stat(rec.RepoURL); err == nil && info.IsDir() {
		return rec.RepoURL, nil
	}
	return "", validationf("approve needs the original repository root for session %q (repository %s is remote)", rec.Name, rec.RepoURL)
}
