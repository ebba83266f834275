package git

import (
	"context"
	"fmt"
	"strings"
	"time"

	pexec "github.com/stint-dev/stint-core/exec"
)

// Gateway provides git operations with explicit dependency injection.
// Each Gateway instance holds its own executor, enabling proper testing
// and avoiding global state.
type Gateway struct {
	executor pexec.CommandExecutor
	timeout  time.Duration
}

// NewGateway creates a Gateway with the default real executor and no
// per-command timeout.
func NewGateway() *Gateway {
	return &Gateway{executor: pexec.NewRealExecutor()}
}

// NewGatewayWithExecutor creates a Gateway with a custom executor.
// This is primarily used for testing where a mock executor is needed.
func NewGatewayWithExecutor(exec pexec.CommandExecutor) *Gateway {
	return &Gateway{executor: exec}
}

// WithTimeout returns a copy of the gateway that bounds every command with
// the given timeout. Timed-out commands fail with an error satisfying
// exec.IsTimeout.
func (g *Gateway) WithTimeout(d time.Duration) *Gateway {
	copied := *g
	copied.timeout = d
	return &copied
}

// IsTimeout reports whether a gateway error was caused by a command timeout.
func IsTimeout(err error) bool {
	return pexec.IsTimeout(err)
}

// opCtx derives the per-command context.
func (g *Gateway) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

// Execute is a narrow escape hatch for read-mostly git primitives not
// otherwise modeled (status, log, diff). The command's trimmed stdout is
// returned; failures carry git's message unchanged.
func (g *Gateway) Execute(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	output, err := g.executor.CombinedOutput(ctx, dir, "git", args...)
	if err != nil {
		return "", fmt.Errorf("git %s failed: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(output)), err)
	}
	return strings.TrimSpace(string(output)), nil
}
