// Package config holds stint-core's persisted settings. The command layer is
// responsible for any interactive configuration UX; this package only loads,
// validates, and saves.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/stint-dev/stint-core/paths"
)

// DefaultCommandTimeout bounds every external git invocation unless
// overridden in settings.
const DefaultCommandTimeout = 5 * time.Minute

// Settings holds the library configuration.
type Settings struct {
	DefaultBackend    string `json:"default_backend,omitempty"`     // Backend prefix for bare task ids (default "md")
	BaseBranch        string `json:"base_branch,omitempty"`         // Base branch override; empty means detect from the repo
	CommandTimeoutSec int    `json:"command_timeout_sec,omitempty"` // Per-git-command timeout in seconds
	WorkspaceRoot     string `json:"workspace_root,omitempty"`      // Override for the workspaces directory
	TasksFile         string `json:"tasks_file,omitempty"`          // Override for the document backend's checklist file
	RepairConfirm     bool   `json:"repair_confirm,omitempty"`      // Require explicit confirmation before record self-repair

	mu       sync.RWMutex
	filePath string
}

// Load reads the settings from disk, or returns defaults if none exist.
func Load() (*Settings, error) {
	path, err := paths.SettingsFilePath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the settings from an explicit path (for testing).
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{filePath: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that the settings are internally consistent.
func (s *Settings) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.CommandTimeoutSec < 0 {
		return fmt.Errorf("command_timeout_sec must not be negative")
	}
	return nil
}

// Save writes the settings to disk.
func (s *Settings) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.filePath, data, 0644)
}

// SetFilePath sets the settings file path (for testing).
func (s *Settings) SetFilePath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filePath = path
}

// GetDefaultBackend returns the backend prefix bare task ids resolve against.
func (s *Settings) GetDefaultBackend() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.DefaultBackend == "" {
		return "md"
	}
	return s.DefaultBackend
}

// SetDefaultBackend sets the default backend prefix.
func (s *Settings) SetDefaultBackend(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DefaultBackend = prefix
}

// GetBaseBranch returns the configured base branch, or "" for auto-detect.
func (s *Settings) GetBaseBranch() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.BaseBranch
}

// GetCommandTimeout returns the per-command timeout for git operations.
func (s *Settings) GetCommandTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.CommandTimeoutSec <= 0 {
		return DefaultCommandTimeout
	}
	return time.Duration(s.CommandTimeoutSec) * time.Second
}

// GetWorkspaceRoot returns the workspaces directory override, or "" to use
// the default location under the data directory.
func (s *Settings) GetWorkspaceRoot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.WorkspaceRoot
}

// GetTasksFile returns the document backend checklist path override, or "".
func (s *Settings) GetTasksFile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.TasksFile
}

// GetRepairConfirm reports whether store self-repair requires explicit
// confirmation rather than running automatically.
func (s *Settings) GetRepairConfirm() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.RepairConfirm
}

// SetRepairConfirm sets the self-repair confirmation requirement.
func (s *Settings) SetRepairConfirm(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RepairConfirm = v
}
