package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stint-dev/stint-core/paths"
)

// TrackerConfig describes the remote issue-tracker backend. The concrete
// network client lives outside this library; this config only says whether
// a tracker is wired up and how its ids map to repositories.
type TrackerConfig struct {
	// Enabled turns the tracker backend on. The backend additionally
	// requires a client to be injected by the caller.
	Enabled bool `yaml:"enabled"`

	// TokenEnv names the environment variable holding the tracker API
	// token. The backend reports itself unavailable when unset or empty.
	TokenEnv string `yaml:"token_env"`

	// Project is the tracker-side project/team identifier.
	Project string `yaml:"project"`

	// BaseURL optionally overrides the tracker API endpoint.
	BaseURL string `yaml:"base_url,omitempty"`
}

// LoadTrackerConfig reads trackers.yaml from the config directory.
// A missing file yields a zero config (tracker disabled), not an error.
func LoadTrackerConfig() (*TrackerConfig, error) {
	path, err := paths.TrackerConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadTrackerConfigFrom(path)
}

// LoadTrackerConfigFrom reads the tracker config from an explicit path.
func LoadTrackerConfigFrom(path string) (*TrackerConfig, error) {
	cfg := &TrackerConfig{}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse tracker config %s: %w", path, err)
	}
	return cfg, nil
}

// Configured reports whether the tracker backend has everything it needs
// short of an injected client: enabled, a project mapping, and a token in
// the environment.
func (c *TrackerConfig) Configured() bool {
	if c == nil || !c.Enabled || c.Project == "" {
		return false
	}
	if c.TokenEnv == "" {
		return false
	}
	return os.Getenv(c.TokenEnv) != ""
}
