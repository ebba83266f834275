package git

import (
	"context"
	"fmt"
	"strings"
)

// Status lists the working tree's changed files by kind.
type Status struct {
	Modified  []string
	Untracked []string
	Deleted   []string
}

// HasChanges reports whether anything in the working tree changed.
func (s *Status) HasChanges() bool {
	return len(s.Modified) > 0 || len(s.Untracked) > 0 || len(s.Deleted) > 0
}

// Files returns every changed file, in porcelain order.
func (s *Status) Files() []string {
	out := make([]string, 0, len(s.Modified)+len(s.Untracked)+len(s.Deleted))
	out = append(out, s.Modified...)
	out = append(out, s.Deleted...)
	out = append(out, s.Untracked...)
	return out
}

// WorktreeStatus parses git status --porcelain into modified, untracked,
// and deleted file lists.
func (g *Gateway) WorktreeStatus(ctx context.Context, dir string) (*Status, error) {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	output, err := g.executor.Output(ctx, dir, "git", "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git status failed: %w", err)
	}

	status := &Status{}

	// Only trim trailing whitespace - leading space is significant in
	// porcelain format (" M file.go" means modified in worktree).
	for _, line := range strings.Split(strings.TrimRight(string(output), "\n\r\t "), "\n") {
		if len(line) < 4 {
			continue
		}
		code := line[:2]
		file := strings.TrimSpace(line[3:])

		switch {
		case code == "??":
			status.Untracked = append(status.Untracked, file)
		case strings.ContainsRune(code, 'D'):
			status.Deleted = append(status.Deleted, file)
		default:
			status.Modified = append(status.Modified, file)
		}
	}

	return status, nil
}

// HasUncommittedChanges reports whether the working tree is dirty.
func (g *Gateway) HasUncommittedChanges(ctx context.Context, dir string) (bool, error) {
	status, err := g.WorktreeStatus(ctx, dir)
	if err != nil {
		return false, err
	}
	return status.HasChanges(), nil
}

// DiffStat returns the diff --stat summary against the given ref.
func (g *Gateway) DiffStat(ctx context.Context, dir, ref string) (string, error) {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	output, err := g.executor.Output(ctx, dir, "git", "diff", "--stat", ref)
	if err != nil {
		return "", fmt.Errorf("git diff --stat failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// Log returns the last n one-line log entries.
func (g *Gateway) Log(ctx context.Context, dir string, n int) (string, error) {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	output, err := g.executor.Output(ctx, dir, "git", "log", "--oneline", fmt.Sprintf("-%d", n))
	if err != nil {
		return "", fmt.Errorf("git log failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}
