// ABOUTME: Pool of live agent connections keyed by configured agent id
// ABOUTME: Spawns lazily on first use and reconciles against config changes

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/acp-host/internal/acp"
	"github.com/2389/acp-host/internal/config"
)

// ErrUnknownAgent is returned when no enabled agent carries the requested id.
var ErrUnknownAgent = errors.New("unknown agent")

// SpawnFunc launches an agent process and returns a connected client.
// Injectable so tests can supply fakes.
type SpawnFunc func(ctx context.Context, opts acp.SpawnOptions, permissions acp.PermissionHandler, logger *slog.Logger) (acp.Client, error)

// defaultSpawn adapts acp.Spawn to the SpawnFunc signature.
func defaultSpawn(ctx context.Context, opts acp.SpawnOptions, permissions acp.PermissionHandler, logger *slog.Logger) (acp.Client, error) {
	return acp.Spawn(ctx, opts, permissions, logger)
}

// Pool owns one client per configured agent. Clients are spawned on first
// use and reused across sessions; a dead or reset agent respawns on the next
// request.
type Pool struct {
	mu          sync.Mutex
	agents      map[string]config.AgentConfig
	clients     map[string]acp.Client
	spawn       SpawnFunc
	permissions acp.PermissionHandler
	logger      *slog.Logger
}

// NewPool creates a pool over the configured agents. Pass nil spawn to use
// the real process launcher.
func NewPool(agents []config.AgentConfig, permissions acp.PermissionHandler, spawn SpawnFunc, logger *slog.Logger) *Pool {
	if spawn == nil {
		spawn = defaultSpawn
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		agents:      make(map[string]config.AgentConfig),
		clients:     make(map[string]acp.Client),
		spawn:       spawn,
		permissions: permissions,
		logger:      logger.With("component", "agent-pool"),
	}
	for _, a := range agents {
		p.agents[a.ID] = a
	}
	return p
}

// GetClient returns the live client for an agent, spawning the process on
// first use. Returns ErrUnknownAgent for ids not in the configuration.
func (p *Pool) GetClient(ctx context.Context, agentID string) (acp.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[agentID]; ok {
		return client, nil
	}

	cfg, ok := p.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}

	p.logger.Info("spawning agent", "agent_id", agentID, "command", cfg.Command)
	client, err := p.spawn(ctx, acp.SpawnOptions{
		Command: cfg.Command,
		Args:    cfg.Args,
		Cwd:     cfg.Cwd,
		Env:     cfg.Env,
	}, p.permissions, p.logger)
	if err != nil {
		return nil, fmt.Errorf("spawning agent %s: %w", agentID, err)
	}

	p.clients[agentID] = client
	return client, nil
}

// AgentConfig returns the configuration for an agent id.
func (p *Pool) AgentConfig(agentID string) (config.AgentConfig, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg, ok := p.agents[agentID]
	return cfg, ok
}

// AgentIDs returns the ids of all configured agents.
func (p *Pool) AgentIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.agents))
	for id := range p.agents {
		ids = append(ids, id)
	}
	return ids
}

// Reset closes an agent's client so the next GetClient respawns it. A
// no-op for agents with no live client.
func (p *Pool) Reset(agentID string) {
	p.mu.Lock()
	client, ok := p.clients[agentID]
	delete(p.clients, agentID)
	p.mu.Unlock()

	if ok {
		p.logger.Info("resetting agent", "agent_id", agentID)
		if err := client.Close(); err != nil {
			p.logger.Warn("closing agent client", "agent_id", agentID, "error", err)
		}
	}
}

// Reconcile replaces the agent roster with a new configuration. Clients of
// removed agents are closed; the returned slice names the removed ids so the
// caller can clean up their sessions.
func (p *Pool) Reconcile(agents []config.AgentConfig) []string {
	next := make(map[string]config.AgentConfig)
	for _, a := range agents {
		next[a.ID] = a
	}

	p.mu.Lock()
	var removed []string
	var closing []acp.Client
	for id := range p.agents {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
			if client, live := p.clients[id]; live {
				closing = append(closing, client)
				delete(p.clients, id)
			}
		}
	}
	p.agents = next
	p.mu.Unlock()

	for _, client := range closing {
		_ = client.Close()
	}
	if len(removed) > 0 {
		p.logger.Info("agents removed from configuration", "agent_ids", removed)
	}
	return removed
}

// Close shuts down every live client.
func (p *Pool) Close() error {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]acp.Client)
	p.mu.Unlock()

	var firstErr error
	for id, client := range clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing agent %s: %w", id, err)
		}
	}
	return firstErr
}
