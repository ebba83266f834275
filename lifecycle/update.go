package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stint-dev/stint-core/git"
	"github.com/stint-dev/stint-core/store"
)

// UpdateParams configures a session update.
type UpdateParams struct {
	// Session names the session. Empty means auto-detect from Dir.
	Session string

	// Dir is the caller's working directory for auto-detection.
	Dir string

	// NoStash skips stashing dirty changes before pulling.
	NoStash bool

	// NoPush skips pushing the session branch after a clean merge.
	NoPush bool

	// Remote defaults to "origin".
	Remote string

	// Base overrides the branch merged in from the remote.
	Base string

	// RequireConfirm turns automatic record repair into an error telling
	// the caller to confirm. See Update.
	RequireConfirm bool
}

// UpdateResult reports a completed update.
type UpdateResult struct {
	Session  string
	Repaired bool // a missing record was reconstructed
	Stashed  bool
	Pushed   bool
	Warnings []string
}

// Update brings a session's workspace up to date with the base branch:
// stash dirty changes, pull, merge the remote base branch, push, restore the
// stash. A merge conflict stops the sequence with a ConflictError carrying
// remediation commands; the repository is left conflicted and nothing is
// pushed. Stash restoration is attempted even when an earlier step failed.
//
// When the working directory looks like a session workspace but the store
// has no record for it (a crash during start leaves exactly this state),
// Update reconstructs a minimal record from the repository's remote URL and
// current branch before continuing. RequireConfirm (or the RepairConfirm
// setting) turns that into a ConflictError instead, so a caller can ask the
// user first.
func Update(ctx context.Context, p UpdateParams, d Deps) (*UpdateResult, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	log := d.log()
	g := d.gateway()

	result := &UpdateResult{}

	var rec *store.SessionRecord
	if p.Session != "" {
		rec = d.Store.Get(p.Session)
		if rec == nil {
			return nil, &NotFoundError{Kind: "session", Name: p.Session}
		}
	} else {
		det := d.detector().Detect(workingDir(p.Dir))
		switch {
		case det.InsideSession():
			rec = det.Session
		case det.Unregistered:
			if p.RequireConfirm || (d.Settings != nil && d.Settings.GetRepairConfirm()) {
				return nil, &ConflictError{
					Msg: fmt.Sprintf("directory %s looks like a session workspace but has no record", det.WorkspacePath),
					Remediation: []string{
						"re-run update with repair confirmed to reconstruct the record",
						fmt.Sprintf("or remove the directory: rm -rf %s", det.WorkspacePath),
					},
				}
			}
			repaired, err := repairRecord(ctx, det.Name, det.WorkspacePath, d)
			if err != nil {
				return nil, err
			}
			rec = repaired
			result.Repaired = true
		default:
			return nil, validationf("no session given and the current directory is not inside a session workspace")
		}
	}
	result.Session = rec.Name

	ws := d.Store.ResolveWorkspacePath(rec)
	remote := defaultRemote(p.Remote)
	base := d.resolveBase(ctx, g, ws, p.Base)
	log.Info("updating session", "session", rec.Name, "base", base)

	if !p.NoStash {
		stashed, err := g.Stash(ctx, ws, "stint update "+rec.Name)
		if err != nil {
			return nil, operational("stash failed", err)
		}
		result.Stashed = stashed
	}

	// The stash is restored on every exit past this point, including
	// failures; a failed pop is logged and reported as a warning, never
	// promoted over the primary outcome.
	defer func() {
		if !result.Stashed {
			return
		}
		if err := g.PopStash(ctx, ws); err != nil {
			log.Warn("stash restoration failed", "session", rec.Name, "error", err)
			result.Warnings = append(result.Warnings, fmt.Sprintf("stashed changes were not restored: %v (run 'git stash pop' in %s)", err, ws))
		}
	}()

	// A branch fresh from start has no upstream yet; pulling it without a
	// refspec fails, and there is nothing to pull anyway.
	if g.HasUpstream(ctx, ws) {
		if err := g.Pull(ctx, ws, remote); err != nil {
			return result, operational("pull failed", err)
		}
	}

	merge, err := g.Merge(ctx, ws, remote+"/"+base)
	if err != nil {
		return result, operational("merge failed", err)
	}
	if merge.Conflicts {
		log.Warn("merge conflicts", "session", rec.Name, "files", merge.ConflictedFiles)
		return result, &ConflictError{
			Msg:   fmt.Sprintf("merging %s/%s produced conflicts", remote, base),
			Files: merge.ConflictedFiles,
			Remediation: []string{
				fmt.Sprintf("cd %s", ws),
				"resolve the conflicted files, then: git add <files>",
				"git commit",
				"re-run update to push",
			},
		}
	}

	if !p.NoPush {
		if err := g.Push(ctx, git.PushOptions{Dir: ws, Remote: remote, Branch: rec.Branch, SetUpstream: true}); err != nil {
			return result, operational("push failed", err)
		}
		result.Pushed = true
	}

	log.Info("session updated", "session", rec.Name, "pushed", result.Pushed)
	return result, nil
}

// repairRecord is the one recovery path for a workspace the store has no
// record of. It rebuilds a minimal record from the repository itself and
// registers it, loudly.
func repairRecord(ctx context.Context, name, wsPath string, d Deps) (*store.SessionRecord, error) {
	g := d.gateway()

	url, err := g.RemoteURL(ctx, wsPath, "origin")
	if err != nil {
		return nil, operational("record repair: reading remote URL", err)
	}
	branch, err := g.CurrentBranch(ctx, wsPath)
	if err != nil {
		return nil, operational("record repair: reading current branch", err)
	}

	rec := store.SessionRecord{
		ID:            uuid.NewString(),
		Name:          name,
		Repo:          repoNameFromURL(url),
		RepoURL:       url,
		CreatedAt:     time.Now(),
		WorkspacePath: wsPath,
		Branch:        branch,
	}
	if err := d.Store.Add(rec); err != nil {
		return nil, operational("record repair: registering session", err)
	}
	d.log().Warn("repaired missing session record", "session", name, "workspace", wsPath, "branch", branch)
	return &rec, nil
}
