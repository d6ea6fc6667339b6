// ABOUTME: Request coordinator driving one prompt turn per session at a time
// ABOUTME: Demultiplexes the notification stream into per-turn builders in arrival order

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/acp-host/internal/acp"
	"github.com/2389/acp-host/internal/events"
	"github.com/2389/acp-host/internal/store"
	"github.com/2389/acp-host/internal/turns"
)

// cancelGrace bounds the best-effort remote cancel call.
const cancelGrace = 5 * time.Second

// endOfTurnGrace bounds the wait for the stream's end-of-turn marker after
// the prompt call returns. The marker travels the same ordered channel as
// the turn's notifications, so seeing it means the turn is fully delivered;
// the grace only matters when the transport died mid-turn.
const endOfTurnGrace = 2 * time.Second

// activeTurn is the demux target for one in-flight prompt.
type activeTurn struct {
	mu        sync.Mutex
	builder   *turns.Builder
	persisted bool
	done      chan struct{} // closed when the end-of-turn marker arrives
}

func (a *activeTurn) process(n acp.Notification) {
	a.mu.Lock()
	a.builder.ProcessNotification(n)
	a.mu.Unlock()
}

func (a *activeTurn) end() {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.done:
	default:
		close(a.done)
	}
}

func (a *activeTurn) flush() []turns.Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.builder.GetTurns()
}

// Coordinator serializes prompt turns per session. Each turn gets a fresh
// builder; notifications are forwarded in arrival order and dropped with a
// log line when no request is active for their session. Every exit path
// releases the turn claim, so a session is never left running.
type Coordinator struct {
	registry    *Registry
	clients     ClientProvider
	permissions PermissionCanceller
	store       store.Store
	events      *events.Broadcaster
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]*activeTurn // ACP session id -> in-flight turn
	pumps  map[string]bool        // agent id -> notification pump running
}

// NewCoordinator creates a coordinator over the registry's sessions.
func NewCoordinator(registry *Registry, clients ClientProvider, permissions PermissionCanceller, st store.Store, bus *events.Broadcaster, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		registry:    registry,
		clients:     clients,
		permissions: permissions,
		store:       st,
		events:      bus,
		logger:      logger.With("component", "coordinator"),
		ctx:         ctx,
		cancel:      cancel,
		active:      make(map[string]*activeTurn),
		pumps:       make(map[string]bool),
	}
}

// Prompt runs one turn: the request is committed to history before the
// remote call, the agent's stream is reduced into response turns, and the
// session ends completed or error. A session with a turn already in flight
// rejects with ErrSessionBusy.
func (c *Coordinator) Prompt(ctx context.Context, handle, text string) error {
	sess, err := c.registry.Get(ctx, handle)
	if err != nil {
		return err
	}
	client, err := c.clients.GetClient(ctx, sess.AgentID)
	if err != nil {
		return err
	}

	turnCtx, cancelTurn := context.WithCancel(ctx)
	defer cancelTurn()

	var once sync.Once
	cancelHandle := func() {
		once.Do(func() {
			go func() {
				cctx, done := context.WithTimeout(context.Background(), cancelGrace)
				defer done()
				if err := client.Cancel(cctx, sess.ID); err != nil {
					c.logger.Debug("remote cancel failed", "session_id", sess.ID, "error", err)
				}
			}()
			if c.permissions != nil {
				c.permissions.CancelSession(sess.ID)
			}
			cancelTurn()
		})
	}

	if err := sess.beginTurn(cancelHandle); err != nil {
		return err
	}
	defer sess.endTurn()

	// Committed before the remote call so a crash mid-turn still shows
	// what was asked.
	sess.appendHistory(turns.RequestTurn(text, nil))
	c.publish(events.HistoryAppended, sess)
	c.publish(events.StatusChanged, sess)
	c.recordPrompt(sess, text)

	c.ensurePump(sess.AgentID, client)
	at := &activeTurn{
		builder:   turns.NewBuilder(),
		persisted: sess.Persisted,
		done:      make(chan struct{}),
	}
	c.mu.Lock()
	c.active[sess.ID] = at
	c.mu.Unlock()

	promptErr := client.Prompt(turnCtx, sess.ID, []acp.ContentBlock{acp.TextBlock(text)})

	// The prompt response and the notification stream are separate channels;
	// wait for the stream's end-of-turn marker so trailing notifications are
	// reduced before the flush.
	select {
	case <-at.done:
	case <-turnCtx.Done():
	case <-time.After(endOfTurnGrace):
		c.logger.Warn("end-of-turn marker never arrived", "session_id", sess.ID)
	}

	c.mu.Lock()
	delete(c.active, sess.ID)
	c.mu.Unlock()

	produced := at.flush()
	if promptErr != nil {
		produced = append(produced, turns.ErrorTurn(promptErr.Error()))
		sess.appendHistory(produced...)
		sess.setStatus(StatusError)
		c.publish(events.HistoryAppended, sess)
		c.publish(events.StatusChanged, sess)
		c.logger.Warn("turn failed", "session_id", sess.ID, "error", promptErr)
		return promptErr
	}

	sess.appendHistory(produced...)
	sess.setStatus(StatusCompleted)
	c.publish(events.HistoryAppended, sess)
	c.publish(events.StatusChanged, sess)
	c.logger.Debug("turn completed", "session_id", sess.ID, "turns", len(produced))
	return nil
}

// Cancel triggers cancellation of the session's in-flight turn. A no-op for
// unknown or idle sessions; never blocks.
func (c *Coordinator) Cancel(handle string) bool {
	sess, ok := c.registry.Peek(handle)
	if !ok {
		return false
	}
	if sess.cancelPending() {
		c.logger.Info("turn cancellation requested", "session_id", sess.ID)
		return true
	}
	return false
}

// Close stops the notification pumps.
func (c *Coordinator) Close() {
	c.cancel()
}

// recordPrompt appends the outgoing prompt to the session's replay log as a
// user message chunk, so restore reconstructs the request turns too.
func (c *Coordinator) recordPrompt(sess *Session, text string) {
	if !sess.Persisted {
		return
	}
	n := acp.Notification{
		SessionID: sess.ID,
		Update: acp.SessionUpdate{
			SessionUpdate: acp.UpdateUserMessageChunk,
			Content:       &acp.ContentBlock{Type: "text", Text: text},
		},
	}
	if err := c.store.AppendNotification(c.ctx, sess.ID, n); err != nil {
		c.logger.Warn("recording prompt", "session_id", sess.ID, "error", err)
	}
}

// ensurePump starts the notification pump for an agent's client once.
func (c *Coordinator) ensurePump(agentID string, client acp.Client) {
	c.mu.Lock()
	if c.pumps[agentID] {
		c.mu.Unlock()
		return
	}
	c.pumps[agentID] = true
	c.mu.Unlock()

	ch := client.Subscribe(c.ctx)
	go func() {
		for n := range ch {
			c.dispatch(n)
		}
		c.mu.Lock()
		delete(c.pumps, agentID)
		c.mu.Unlock()
		c.logger.Debug("notification pump stopped", "agent_id", agentID)
	}()
}

// dispatch routes one notification to its session's in-flight turn.
// Notifications for sessions with no active request are dropped.
func (c *Coordinator) dispatch(n acp.Notification) {
	c.mu.Lock()
	at, ok := c.active[n.SessionID]
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("dropping notification for inactive session",
			"session_id", n.SessionID,
			"kind", n.Update.SessionUpdate)
		return
	}

	// Synthetic marker from the client: the turn's stream is complete.
	// Not conversation content, so it is neither reduced nor persisted.
	if n.Update.SessionUpdate == acp.UpdateTurnEnded {
		at.end()
		return
	}

	at.process(n)
	if at.persisted {
		if err := c.store.AppendNotification(c.ctx, n.SessionID, n); err != nil {
			c.logger.Warn("recording notification", "session_id", n.SessionID, "error", err)
		}
	}
}

func (c *Coordinator) publish(t events.Type, sess *Session) {
	c.events.Publish(events.Event{
		Type:      t,
		SessionID: sess.ID,
		AgentID:   sess.AgentID,
		Status:    string(sess.Status()),
	})
}
