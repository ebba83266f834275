package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/stint-dev/stint-core/logger"
)

// MergeResult is the structured outcome of a merge attempt. Conflicts are a
// result, not an error, so callers can present remediation guidance rather
// than a raw failure.
type MergeResult struct {
	Conflicts       bool
	ConflictedFiles []string
	Output          string
}

// Merge merges ref into the current branch. A conflicted merge returns
// Conflicts=true with the conflicted file list and leaves the repository in
// its conflicted state; any other failure is an error carrying git's
// message.
func (g *Gateway) Merge(ctx context.Context, dir, ref string) (*MergeResult, error) {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	output, err := g.executor.CombinedOutput(ctx, dir, "git", "merge", ref, "--no-edit")
	if err == nil {
		return &MergeResult{Output: string(output)}, nil
	}

	// Check if this is a merge conflict
	conflicted, confErr := g.ConflictedFiles(ctx, dir)
	if confErr == nil && len(conflicted) > 0 {
		logger.WithComponent("git").Info("merge conflict", "ref", ref, "dir", dir, "files", len(conflicted))
		return &MergeResult{
			Conflicts:       true,
			ConflictedFiles: conflicted,
			Output:          string(output),
		}, nil
	}

	return nil, fmt.Errorf("git merge failed: %s: %w", strings.TrimSpace(string(output)), err)
}

// MergeFFOnly fast-forwards the current branch to ref. It refuses to create
// a merge commit; a non-fast-forward situation is an error.
func (g *Gateway) MergeFFOnly(ctx context.Context, dir, ref string) error {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	output, err := g.executor.CombinedOutput(ctx, dir, "git", "merge", "--ff-only", ref)
	if err != nil {
		return fmt.Errorf("git merge --ff-only failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// AbortMerge aborts an in-progress merge.
func (g *Gateway) AbortMerge(ctx context.Context, dir string) error {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	output, err := g.executor.CombinedOutput(ctx, dir, "git", "merge", "--abort")
	if err != nil {
		return fmt.Errorf("failed to abort merge: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// ConflictedFiles returns the files with merge conflicts in the repository.
func (g *Gateway) ConflictedFiles(ctx context.Context, dir string) ([]string, error) {
	output, err := g.executor.Output(ctx, dir, "git", "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("failed to get conflicted files: %w", err)
	}

	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}
