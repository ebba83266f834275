package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/stint-dev/stint-core/logger"
)

// Clone clones url into destination. When branch is non-empty the clone
// checks it out directly.
func (g *Gateway) Clone(ctx context.Context, url, destination, branch string) error {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	args := []string{"clone"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, url, destination)

	output, err := g.executor.CombinedOutput(ctx, "", "git", args...)
	if err != nil {
		return fmt.Errorf("git clone failed: %s: %w", strings.TrimSpace(string(output)), err)
	}

	logger.WithComponent("git").Info("cloned repository", "url", url, "destination", destination)
	return nil
}

// Fetch updates remote refs from the given remote.
func (g *Gateway) Fetch(ctx context.Context, dir, remote string) error {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	output, err := g.executor.CombinedOutput(ctx, dir, "git", "fetch", remote)
	if err != nil {
		return fmt.Errorf("git fetch failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// Pull pulls the current branch from the given remote.
func (g *Gateway) Pull(ctx context.Context, dir, remote string) error {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	output, err := g.executor.CombinedOutput(ctx, dir, "git", "pull", remote)
	if err != nil {
		return fmt.Errorf("git pull failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// PushOptions configures a push.
type PushOptions struct {
	Dir         string
	Remote      string // defaults to "origin"
	Branch      string
	SetUpstream bool // push with -u
	Force       bool // push with --force-with-lease
	Delete      bool // delete the remote branch instead of updating it
}

// Push pushes (or deletes) a branch on the remote.
func (g *Gateway) Push(ctx context.Context, opts PushOptions) error {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	remote := opts.Remote
	if remote == "" {
		remote = "origin"
	}

	args := []string{"push"}
	if opts.SetUpstream {
		args = append(args, "-u")
	}
	if opts.Force {
		args = append(args, "--force-with-lease")
	}
	args = append(args, remote)
	if opts.Delete {
		args = append(args, "--delete")
	}
	if opts.Branch != "" {
		args = append(args, opts.Branch)
	}

	output, err := g.executor.CombinedOutput(ctx, opts.Dir, "git", args...)
	if err != nil {
		return fmt.Errorf("git push failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// RemoteURL returns the URL of the given remote.
func (g *Gateway) RemoteURL(ctx context.Context, dir, remote string) (string, error) {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	output, err := g.executor.Output(ctx, dir, "git", "remote", "get-url", remote)
	if err != nil {
		return "", fmt.Errorf("failed to get remote %s URL: %w", remote, err)
	}
	return strings.TrimSpace(string(output)), nil
}

// HasRemote checks whether the repository has the given remote configured.
func (g *Gateway) HasRemote(ctx context.Context, dir, remote string) bool {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	_, _, err := g.executor.Run(ctx, dir, "git", "remote", "get-url", remote)
	return err == nil
}

// RemoteRefExists checks whether the remote currently advertises the branch.
// Uses ls-remote so the answer reflects the remote, not stale local refs.
func (g *Gateway) RemoteRefExists(ctx context.Context, dir, remote, branch string) bool {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	_, _, err := g.executor.Run(ctx, dir, "git", "ls-remote", "--exit-code", "--heads", remote, branch)
	return err == nil
}

// DeleteRemoteBranch removes a branch on the remote.
func (g *Gateway) DeleteRemoteBranch(ctx context.Context, dir, remote, branch string) error {
	return g.Push(ctx, PushOptions{Dir: dir, Remote: remote, Branch: branch, Delete: true})
}
