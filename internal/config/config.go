// ABOUTME: Configuration loading and parsing for acp-host
// ABOUTME: Supports YAML files with environment variable expansion and agent definitions

package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete acp-host configuration.
type Config struct {
	Agents   []AgentConfig  `yaml:"agents"`
	Database DatabaseConfig `yaml:"database"`
	Sessions SessionsConfig `yaml:"sessions"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AgentConfig declares one launchable agent. Command and Args form the
// subprocess invocation; Env entries are appended to the host environment.
type AgentConfig struct {
	ID      string            `yaml:"id"`
	Title   string            `yaml:"title"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Cwd     string            `yaml:"cwd"`
	Env     map[string]string `yaml:"env"`
	Enabled *bool             `yaml:"enabled"` // nil means enabled
}

// IsEnabled reports whether the agent should be offered. Agents are enabled
// unless explicitly disabled.
func (a AgentConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// DatabaseConfig holds persistence configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SessionsConfig holds session engine tuning.
type SessionsConfig struct {
	DefaultCwd string `yaml:"default_cwd"`

	PermissionTTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	PermissionTTLRaw string `yaml:"permission_ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultPermissionTTL bounds how long an unanswered permission request may
// hold its turn before it is auto-cancelled.
const DefaultPermissionTTL = 5 * time.Minute

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Malformed agent entries are dropped with a warning rather than failing the
// whole load.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.Agents = filterAgents(cfg.Agents)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// filterAgents drops agent entries that are disabled or missing required
// fields. Survivors keep their declaration order.
func filterAgents(agents []AgentConfig) []AgentConfig {
	kept := make([]AgentConfig, 0, len(agents))
	for _, a := range agents {
		if a.ID == "" || a.Command == "" {
			slog.Warn("dropping agent config missing id or command", "id", a.ID, "command", a.Command)
			continue
		}
		if !a.IsEnabled() {
			slog.Debug("skipping disabled agent", "id", a.ID)
			continue
		}
		if a.Title == "" {
			a.Title = a.ID
		}
		kept = append(kept, a)
	}
	return kept
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	seen := make(map[string]bool)
	for _, a := range c.Agents {
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
	}

	return nil
}

// Agent returns the configuration for the given agent id, or false if no
// enabled agent carries it.
func (c *Config) Agent(id string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentConfig{}, false
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	if cfg.Sessions.PermissionTTLRaw != "" {
		d, err := time.ParseDuration(cfg.Sessions.PermissionTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing permission_ttl %q: %w", cfg.Sessions.PermissionTTLRaw, err)
		}
		cfg.Sessions.PermissionTTL = d
	} else {
		cfg.Sessions.PermissionTTL = DefaultPermissionTTL
	}
	return nil
}
