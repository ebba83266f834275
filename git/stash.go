package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/stint-dev/stint-core/logger"
)

// Stash saves the working tree's uncommitted changes, including untracked
// files. Returns false when there was nothing to stash, so callers know
// whether a matching PopStash is owed.
func (g *Gateway) Stash(ctx context.Context, dir, message string) (bool, error) {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	args := []string{"stash", "push", "--include-untracked"}
	if message != "" {
		args = append(args, "-m", message)
	}

	output, err := g.executor.CombinedOutput(ctx, dir, "git", args...)
	if err != nil {
		return false, fmt.Errorf("git stash failed: %s: %w", strings.TrimSpace(string(output)), err)
	}

	if strings.Contains(string(output), "No local changes to save") {
		return false, nil
	}

	logger.WithComponent("git").Info("stashed changes", "dir", dir)
	return true, nil
}

// PopStash restores the most recent stash entry.
func (g *Gateway) PopStash(ctx context.Context, dir string) error {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	output, err := g.executor.CombinedOutput(ctx, dir, "git", "stash", "pop")
	if err != nil {
		return fmt.Errorf("git stash pop failed: %s: %w", strings.TrimSpace(string(output)), err)
	}

	logger.WithComponent("git").Info("restored stashed changes", "dir", dir)
	return nil
}
