// Package lifecycle implements the session state machine: start, update,
// submit-for-review, approve, and delete. Each operation is one exported
// function taking a parameter struct and a dependency bag, returning a typed
// result or a typed error. Output formatting is the caller's job.
package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/stint-dev/stint-core/config"
	"github.com/stint-dev/stint-core/git"
	"github.com/stint-dev/stint-core/logger"
	"github.com/stint-dev/stint-core/store"
	"github.com/stint-dev/stint-core/task"
	"github.com/stint-dev/stint-core/workspace"
)

// PRBranchPrefix is the naming convention for review branches. A session's
// proposed change set lives on "pr/{session}" until approved.
const PRBranchPrefix = "pr/"

// PRBranch returns the review branch name for a session.
func PRBranch(session string) string {
	return PRBranchPrefix + session
}

// Deps is the dependency bag every lifecycle operation receives. The command
// layer builds it once and passes it to each call; nothing here is a
// process-wide singleton.
type Deps struct {
	Store    *store.Store
	Git      *git.Gateway
	Tasks    *task.Registry
	Detector *workspace.Detector
	Settings *config.Settings
}

func (d Deps) validate() error {
	if d.Store == nil {
		return validationf("lifecycle: no session store configured")
	}
	if d.Git == nil {
		return validationf("lifecycle: no version-control gateway configured")
	}
	if d.Tasks == nil {
		return validationf("lifecycle: no task registry configured")
	}
	return nil
}

// gateway returns the git gateway with the configured command timeout
// applied.
func (d Deps) gateway() *git.Gateway {
	if d.Settings != nil {
		return d.Git.WithTimeout(d.Settings.GetCommandTimeout())
	}
	return d.Git
}

func (d Deps) detector() *workspace.Detector {
	if d.Detector != nil {
		return d.Detector
	}
	return workspace.NewDetector(d.Store)
}

// resolveBase picks the base branch: explicit parameter, then the configured
// override, then detection from the repository at dir. GetBaseBranch returns
// "" for "detect from the repo", so detection is the fresh-install path.
func (d Deps) resolveBase(ctx context.Context, g *git.Gateway, dir, override string) string {
	if override != "" {
		return override
	}
	if d.Settings != nil {
		if base := d.Settings.GetBaseBranch(); base != "" {
			return base
		}
	}
	return g.DefaultBranch(ctx, dir)
}

func (d Deps) log() *slog.Logger {
	return logger.WithComponent("lifecycle")
}

// workingDir resolves the caller's directory, falling back to the process
// cwd.
func workingDir(dir string) string {
	if dir != "" {
		return dir
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

func defaultRemote(remote string) string {
	if remote == "" {
		return "origin"
	}
	return remote
}

// repoNameFromURL derives a repository name from a clone URL or local path.
func repoNameFromURL(url string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(url, "/"), ".git")
	name := filepath.Base(trimmed)
	if idx := strings.LastIndex(name, ":"); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}
