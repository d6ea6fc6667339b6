// ABOUTME: Session registry with idempotent creation, lazy restore, and agent-removal cleanup
// ABOUTME: Handles map to internal UUID keys so identity survives external id churn

package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/2389/acp-host/internal/acp"
	"github.com/2389/acp-host/internal/config"
	"github.com/2389/acp-host/internal/events"
	"github.com/2389/acp-host/internal/store"
	"github.com/2389/acp-host/internal/turns"
)

// ClientProvider supplies live agent clients and their configuration. The
// agent pool satisfies it.
type ClientProvider interface {
	GetClient(ctx context.Context, agentID string) (acp.Client, error)
	AgentConfig(agentID string) (config.AgentConfig, bool)
	AgentIDs() []string
}

// PermissionCanceller clears a session's pending permission context. The
// permission coordinator satisfies it.
type PermissionCanceller interface {
	CancelSession(sessionID string)
}

// CreateOptions tune session creation.
type CreateOptions struct {
	// Cwd explicitly sets the session's working directory. When empty the
	// registry falls back to the agent default, then the first workspace
	// root, then the process working directory.
	Cwd            string
	WorkspaceRoots []string
	Label          string
}

// Registry owns every in-memory session. Creation is exactly-once per
// handle under concurrency, restore is two-phase (stubs at startup,
// hydration on first Get), and removing an agent retires all of its
// sessions.
type Registry struct {
	mu       sync.Mutex
	byHandle map[string]string   // external handle -> internal key
	sessions map[string]*Session // internal key -> session

	create      singleflight.Group
	clients     ClientProvider
	store       store.Store
	events      *events.Broadcaster
	permissions PermissionCanceller
	defaultCwd  string
	logger      *slog.Logger
}

// NewRegistry creates a registry. defaultCwd is the last fallback of the
// cwd resolution chain; pass empty to use the process working directory.
func NewRegistry(clients ClientProvider, st store.Store, bus *events.Broadcaster, permissions PermissionCanceller, defaultCwd string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byHandle:    make(map[string]string),
		sessions:    make(map[string]*Session),
		clients:     clients,
		store:       st,
		events:      bus,
		permissions: permissions,
		defaultCwd:  defaultCwd,
		logger:      logger.With("component", "registry"),
	}
}

// GetOrCreate returns the session for handle, creating it on first call.
// Concurrent calls for the same handle share one remote createSession.
func (r *Registry) GetOrCreate(ctx context.Context, agentID, handle string, opts CreateOptions) (*Session, error) {
	r.mu.Lock()
	if key, ok := r.byHandle[handle]; ok {
		sess := r.sessions[key]
		r.mu.Unlock()
		return sess, nil
	}
	r.mu.Unlock()

	v, err, _ := r.create.Do(handle, func() (any, error) {
		// Re-check under the flight: a racing call may have registered it.
		r.mu.Lock()
		if key, ok := r.byHandle[handle]; ok {
			sess := r.sessions[key]
			r.mu.Unlock()
			return sess, nil
		}
		r.mu.Unlock()

		return r.createSession(ctx, agentID, handle, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (r *Registry) createSession(ctx context.Context, agentID, handle string, opts CreateOptions) (*Session, error) {
	client, err := r.clients.GetClient(ctx, agentID)
	if err != nil {
		return nil, err
	}

	cwd := r.resolveCwd(agentID, opts)

	result, err := client.CreateSession(ctx, cwd)
	if err != nil {
		return nil, fmt.Errorf("creating session for agent %s: %w", agentID, err)
	}

	label := opts.Label
	if label == "" {
		label = handle
	}

	sess := &Session{
		Key:       uuid.New().String(),
		ID:        result.SessionID,
		AgentID:   agentID,
		Handle:    handle,
		Label:     label,
		Cwd:       cwd,
		CreatedAt: time.Now(),
		status:    StatusIdle,
	}

	if client.Capabilities().LoadSession {
		meta := &store.SessionMetadata{
			ID:        sess.ID,
			AgentID:   agentID,
			Label:     label,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.CreatedAt,
			Cwd:       cwd,
		}
		if err := r.store.SaveSessionMetadata(ctx, meta); err != nil {
			r.logger.Warn("persisting session metadata", "session_id", sess.ID, "error", err)
		} else {
			sess.Persisted = true
		}
	} else {
		r.logger.Warn("agent does not support session loading; session will not survive a restart",
			"agent_id", agentID, "session_id", sess.ID)
	}

	r.mu.Lock()
	r.byHandle[handle] = sess.Key
	r.sessions[sess.Key] = sess
	r.mu.Unlock()

	r.logger.Info("session created", "agent_id", agentID, "session_id", sess.ID, "cwd", cwd)
	r.events.Publish(events.Event{
		Type:      events.SessionCreated,
		SessionID: sess.ID,
		AgentID:   agentID,
		Status:    string(StatusIdle),
	})
	return sess, nil
}

// resolveCwd picks the session working directory: explicit argument, agent
// default, first workspace root, process working directory.
func (r *Registry) resolveCwd(agentID string, opts CreateOptions) string {
	if opts.Cwd != "" {
		return opts.Cwd
	}
	if cfg, ok := r.clients.AgentConfig(agentID); ok && cfg.Cwd != "" {
		return cfg.Cwd
	}
	if len(opts.WorkspaceRoots) > 0 {
		return opts.WorkspaceRoots[0]
	}
	if r.defaultCwd != "" {
		return r.defaultCwd
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// Get returns the session for handle, hydrating a restore stub on first
// access. A failed hydration leaves the stub marked for retry and returns
// an error wrapping ErrRestoreFailed.
func (r *Registry) Get(ctx context.Context, handle string) (*Session, error) {
	r.mu.Lock()
	key, ok := r.byHandle[handle]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, handle)
	}
	sess := r.sessions[key]
	r.mu.Unlock()

	if sess.NeedsRestore() {
		// Concurrent Gets on the same stub share one loadSession.
		_, err, _ := r.create.Do("restore:"+sess.Key, func() (any, error) {
			if !sess.NeedsRestore() {
				return nil, nil
			}
			return nil, r.hydrate(ctx, sess)
		})
		if err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// hydrate performs the deferred loadSession for a restore stub and rebuilds
// history from the notification log.
func (r *Registry) hydrate(ctx context.Context, sess *Session) error {
	client, err := r.clients.GetClient(ctx, sess.AgentID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}

	result, err := client.LoadSession(ctx, sess.ID, sess.Cwd)
	if err != nil {
		r.logger.Warn("session restore failed", "session_id", sess.ID, "error", err)
		return fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}

	// Prefer the host-side log: it includes the prompts we recorded, which
	// the agent's replay may omit.
	log, err := r.store.GetNotificationLog(ctx, sess.ID)
	if err != nil {
		r.logger.Warn("reading notification log", "session_id", sess.ID, "error", err)
	}
	if len(log) == 0 {
		log = result.Notifications
	}

	sess.setHistory(replayHistory(log))
	sess.markRestored()
	r.logger.Info("session restored", "session_id", sess.ID, "turns", len(sess.History()))
	return nil
}

// replayHistory reduces a notification log to conversation turns.
func replayHistory(log []acp.Notification) []turns.Turn {
	builder := turns.NewBuilder()
	for _, n := range log {
		builder.ProcessNotification(n)
	}
	return builder.GetTurns()
}

// Peek returns the session for handle without hydrating a restore stub.
func (r *Registry) Peek(handle string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byHandle[handle]
	if !ok {
		return nil, false
	}
	return r.sessions[key], true
}

// Restore registers stubs for every persisted session of every configured
// agent. No agent is contacted; hydration is deferred to the first Get.
func (r *Registry) Restore(ctx context.Context) error {
	for _, agentID := range r.clients.AgentIDs() {
		metas, err := r.store.ListSessionMetadata(ctx, agentID)
		if err != nil {
			return fmt.Errorf("listing sessions for agent %s: %w", agentID, err)
		}
		for _, meta := range metas {
			r.registerStub(meta)
		}
	}
	return nil
}

// PruneRemovedAgents erases persisted sessions of agents that are no longer
// configured. Called at startup, after the configuration is loaded and
// before Restore registers stubs.
func (r *Registry) PruneRemovedAgents(ctx context.Context) error {
	persisted, err := r.store.ListAgentIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing persisted agents: %w", err)
	}

	configured := make(map[string]bool)
	for _, id := range r.clients.AgentIDs() {
		configured[id] = true
	}

	for _, agentID := range persisted {
		if configured[agentID] {
			continue
		}
		if err := r.RemoveAgent(ctx, agentID); err != nil {
			return err
		}
		r.logger.Info("pruned sessions of removed agent", "agent_id", agentID)
	}
	return nil
}

func (r *Registry) registerStub(meta *store.SessionMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Restored sessions answer to their protocol id.
	if _, ok := r.byHandle[meta.ID]; ok {
		return
	}

	sess := &Session{
		Key:          uuid.New().String(),
		ID:           meta.ID,
		AgentID:      meta.AgentID,
		Handle:       meta.ID,
		Label:        meta.Label,
		Cwd:          meta.Cwd,
		CreatedAt:    meta.CreatedAt,
		Persisted:    true,
		status:       StatusIdle,
		needsRestore: true,
	}
	r.byHandle[meta.ID] = sess.Key
	r.sessions[sess.Key] = sess
	r.logger.Debug("session stub registered", "agent_id", meta.AgentID, "session_id", meta.ID)
}

// Release drops a session from memory, tearing down its in-flight turn and
// permission context. Persisted metadata is kept so the session can be
// restored later.
func (r *Registry) Release(handle string) {
	r.mu.Lock()
	key, ok := r.byHandle[handle]
	if !ok {
		r.mu.Unlock()
		return
	}
	sess := r.sessions[key]
	delete(r.byHandle, handle)
	delete(r.sessions, key)
	r.mu.Unlock()

	r.teardown(sess)
	r.events.Publish(events.Event{
		Type:      events.SessionRemoved,
		SessionID: sess.ID,
		AgentID:   sess.AgentID,
	})
}

// ResetAll drops every in-memory session. Persistence is untouched.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.byHandle = make(map[string]string)
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		r.teardown(sess)
	}
	r.logger.Info("all sessions released", "count", len(sessions))
}

// RemoveAgent retires every session of an agent that left the
// configuration: in-memory sessions are dropped, persisted metadata is
// erased, and a removal event fires per session.
func (r *Registry) RemoveAgent(ctx context.Context, agentID string) error {
	r.mu.Lock()
	var removed []*Session
	for key, sess := range r.sessions {
		if sess.AgentID == agentID {
			removed = append(removed, sess)
			delete(r.sessions, key)
			delete(r.byHandle, sess.Handle)
		}
	}
	r.mu.Unlock()

	for _, sess := range removed {
		r.teardown(sess)
		r.events.Publish(events.Event{
			Type:      events.SessionRemoved,
			SessionID: sess.ID,
			AgentID:   agentID,
		})
	}

	if err := r.store.DeleteAgentSessions(ctx, agentID); err != nil {
		return fmt.Errorf("erasing sessions for agent %s: %w", agentID, err)
	}
	r.logger.Info("agent sessions removed", "agent_id", agentID, "count", len(removed))
	return nil
}

// Sessions returns a snapshot of all in-memory sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}

// teardown releases a session's resources exactly once: the in-flight turn
// and the permission context go together.
func (r *Registry) teardown(sess *Session) {
	sess.cancelPending()
	if r.permissions != nil {
		r.permissions.CancelSession(sess.ID)
	}
}
