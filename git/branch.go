package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/stint-dev/stint-core/logger"
)

// CreateBranch creates and checks out a new branch in the given directory.
// It works in a fresh clone before any session record exists, which is what
// keeps session registration ordered after version-control state.
func (g *Gateway) CreateBranch(ctx context.Context, dir, branch string) error {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	output, err := g.executor.CombinedOutput(ctx, dir, "git", "checkout", "-b", branch)
	if err != nil {
		return fmt.Errorf("git branch creation failed: %s: %w", strings.TrimSpace(string(output)), err)
	}

	logger.WithComponent("git").Info("created branch", "branch", branch, "dir", dir)
	return nil
}

// Checkout checks out an existing branch.
func (g *Gateway) Checkout(ctx context.Context, dir, branch string) error {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	output, err := g.executor.CombinedOutput(ctx, dir, "git", "checkout", branch)
	if err != nil {
		return fmt.Errorf("git checkout failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// CurrentBranch returns the name of the currently checked out branch.
// Returns an error if HEAD is detached.
func (g *Gateway) CurrentBranch(ctx context.Context, dir string) (string, error) {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	output, err := g.executor.Output(ctx, dir, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}

	branch := strings.TrimSpace(string(output))
	if branch == "HEAD" {
		return "", fmt.Errorf("HEAD is detached (not on a branch)")
	}
	return branch, nil
}

// BranchExists checks whether a local ref resolves.
func (g *Gateway) BranchExists(ctx context.Context, dir, branch string) bool {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	_, _, err := g.executor.Run(ctx, dir, "git", "rev-parse", "--verify", branch)
	return err == nil
}

// HasUpstream reports whether the current branch has an upstream configured.
// A branch never pushed has none, and pulling it without a refspec fails.
func (g *Gateway) HasUpstream(ctx context.Context, dir string) bool {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	_, _, err := g.executor.Run(ctx, dir, "git", "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{upstream}")
	return err == nil
}

// DeleteBranch force-deletes a local branch.
func (g *Gateway) DeleteBranch(ctx context.Context, dir, branch string) error {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	output, err := g.executor.CombinedOutput(ctx, dir, "git", "branch", "-D", branch)
	if err != nil {
		return fmt.Errorf("git branch delete failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// IsAncestor reports whether ancestor is reachable from descendant. This is
// what makes approval idempotent: a PR branch already merged into the base
// branch is an ancestor of it.
func (g *Gateway) IsAncestor(ctx context.Context, dir, ancestor, descendant string) bool {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	_, _, err := g.executor.Run(ctx, dir, "git", "merge-base", "--is-ancestor", ancestor, descendant)
	return err == nil
}

// Head returns the commit hash of HEAD.
func (g *Gateway) Head(ctx context.Context, dir string) (string, error) {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	output, err := g.executor.Output(ctx, dir, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get HEAD commit: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// UserIdentity returns the configured committer identity as "Name <email>".
// Either half may be empty when unconfigured.
func (g *Gateway) UserIdentity(ctx context.Context, dir string) (string, error) {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	nameOut, err := g.executor.Output(ctx, dir, "git", "config", "user.name")
	if err != nil {
		return "", fmt.Errorf("failed to get user identity: %w", err)
	}
	name := strings.TrimSpace(string(nameOut))

	emailOut, _, err := g.executor.Run(ctx, dir, "git", "config", "user.email")
	if err != nil {
		return name, nil
	}
	email := strings.TrimSpace(string(emailOut))
	if email == "" {
		return name, nil
	}
	return fmt.Sprintf("%s <%s>", name, email), nil
}

// DefaultBranch returns the repository's default branch (main or master).
func (g *Gateway) DefaultBranch(ctx context.Context, dir string) string {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	// Try to get the default branch from origin's HEAD reference
	output, err := g.executor.Output(ctx, dir, "git", "symbolic-ref", "refs/remotes/origin/HEAD")
	if err == nil {
		ref := strings.TrimSpace(string(output))
		if after, ok := strings.CutPrefix(ref, "refs/remotes/origin/"); ok {
			return after
		}
	}

	// Fallback: check if main exists, otherwise use master
	if _, _, err := g.executor.Run(ctx, dir, "git", "rev-parse", "--verify", "main"); err == nil {
		return "main"
	}
	return "master"
}
