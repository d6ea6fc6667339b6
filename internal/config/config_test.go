// ABOUTME: Tests for configuration loading and validation
// ABOUTME: Covers env expansion, malformed agent filtering, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
agents:
  - id: claude
    title: Claude Code
    command: claude-code-acp
    args: ["--verbose"]
    cwd: /home/user/project
    env:
      API_KEY: secret
  - id: gemini
    command: gemini
database:
  path: /tmp/acp-host.db
sessions:
  default_cwd: /home/user
  permission_ttl: 2m
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, "claude", cfg.Agents[0].ID)
	assert.Equal(t, "Claude Code", cfg.Agents[0].Title)
	assert.Equal(t, []string{"--verbose"}, cfg.Agents[0].Args)
	assert.Equal(t, "secret", cfg.Agents[0].Env["API_KEY"])
	assert.Equal(t, "gemini", cfg.Agents[1].Title, "title defaults to id")

	assert.Equal(t, "/tmp/acp-host.db", cfg.Database.Path)
	assert.Equal(t, "/home/user", cfg.Sessions.DefaultCwd)
	assert.Equal(t, 2*time.Minute, cfg.Sessions.PermissionTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_AGENT_CMD", "/usr/local/bin/claude")

	path := writeConfig(t, `
agents:
  - id: claude
    command: ${TEST_AGENT_CMD}
database:
  path: /tmp/test.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/claude", cfg.Agents[0].Command)
}

func TestLoad_UnsetEnvVarExpandsEmpty(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/${DEFINITELY_NOT_SET_12345}test.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
}

func TestLoad_DropsMalformedAndDisabledAgents(t *testing.T) {
	path := writeConfig(t, `
agents:
  - id: claude
    command: claude-code-acp
  - id: no-command
  - command: orphan-command
  - id: disabled
    command: something
    enabled: false
database:
  path: /tmp/test.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Agents, 1)
	assert.Equal(t, "claude", cfg.Agents[0].ID)
}

func TestLoad_DuplicateAgentIDFails(t *testing.T) {
	path := writeConfig(t, `
agents:
  - id: claude
    command: one
  - id: claude
    command: two
database:
  path: /tmp/test.db
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "duplicate agent id")
}

func TestLoad_MissingDatabasePathFails(t *testing.T) {
	path := writeConfig(t, `
agents:
  - id: claude
    command: claude-code-acp
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "database.path is required")
}

func TestLoad_DefaultPermissionTTL(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/test.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPermissionTTL, cfg.Sessions.PermissionTTL)
}

func TestLoad_BadDurationFails(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/test.db
sessions:
  permission_ttl: not-a-duration
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "permission_ttl")
}

func TestConfig_AgentLookup(t *testing.T) {
	cfg := &Config{Agents: []AgentConfig{{ID: "claude", Command: "claude-code-acp"}}}

	a, ok := cfg.Agent("claude")
	assert.True(t, ok)
	assert.Equal(t, "claude-code-acp", a.Command)

	_, ok = cfg.Agent("nope")
	assert.False(t, ok)
}
