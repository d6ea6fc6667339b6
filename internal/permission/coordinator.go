// ABOUTME: Routes agent permission requests to the user and blocks for the answer
// ABOUTME: One pending request per session with TTL expiry and cancellation

package permission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/acp-host/internal/acp"
)

// DefaultTTL bounds how long an unanswered request may block its turn.
const DefaultTTL = 5 * time.Minute

// Pending is one unresolved permission request awaiting a user decision.
type Pending struct {
	ID        string
	SessionID string
	Request   *acp.PermissionRequest
	CreatedAt time.Time

	resolve chan acp.PermissionOutcome
}

// Prompter presents a permission request to the user and is notified when
// the request stops being answerable. Implementations must not block.
type Prompter interface {
	// PromptPermission announces a new pending request.
	PromptPermission(p *Pending)

	// RetractPermission announces that a pending request was resolved,
	// cancelled, or expired and should be withdrawn from display.
	RetractPermission(id string)
}

// Coordinator mediates between the agent's mid-turn permission requests and
// the user's answers. It implements acp.PermissionHandler: RequestPermission
// blocks until Resolve, CancelSession, TTL expiry, or context cancellation.
// Expiry and cancellation yield a cancelled outcome, never an error, so the
// agent's turn continues in a denied state instead of aborting.
type Coordinator struct {
	mu       sync.Mutex
	pending  map[string]*Pending // keyed by session id, one per session
	ttl      time.Duration
	prompter Prompter
	logger   *slog.Logger
}

// NewCoordinator creates a coordinator. Pass zero ttl for DefaultTTL and a
// nil prompter to run headless.
func NewCoordinator(ttl time.Duration, prompter Prompter, logger *slog.Logger) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		pending:  make(map[string]*Pending),
		ttl:      ttl,
		prompter: prompter,
		logger:   logger.With("component", "permission"),
	}
}

// RequestPermission registers the request and blocks for its resolution.
// A second request for the same session supersedes the first, which resolves
// cancelled.
func (c *Coordinator) RequestPermission(ctx context.Context, req *acp.PermissionRequest) (acp.PermissionOutcome, error) {
	p := &Pending{
		ID:        uuid.New().String(),
		SessionID: req.SessionID,
		Request:   req,
		CreatedAt: time.Now(),
		resolve:   make(chan acp.PermissionOutcome, 1),
	}

	c.mu.Lock()
	if prev, ok := c.pending[req.SessionID]; ok {
		prev.resolve <- acp.Cancelled()
		c.retractLocked(prev)
	}
	c.pending[req.SessionID] = p
	c.mu.Unlock()

	c.logger.Info("permission requested",
		"session_id", req.SessionID,
		"tool", req.ToolCall.Title,
		"options", len(req.Options))
	if c.prompter != nil {
		c.prompter.PromptPermission(p)
	}

	timer := time.NewTimer(c.ttl)
	defer timer.Stop()

	select {
	case outcome := <-p.resolve:
		c.remove(p)
		return outcome, nil
	case <-timer.C:
		c.logger.Warn("permission request expired", "session_id", req.SessionID)
		c.remove(p)
		return acp.Cancelled(), nil
	case <-ctx.Done():
		c.remove(p)
		return acp.Cancelled(), nil
	}
}

// Resolve answers the pending request for a session. Returns false when
// nothing is pending, which the caller should treat as a stale answer.
func (c *Coordinator) Resolve(sessionID string, outcome acp.PermissionOutcome) bool {
	c.mu.Lock()
	p, ok := c.pending[sessionID]
	if ok {
		p.resolve <- outcome
		c.retractLocked(p)
	}
	c.mu.Unlock()
	return ok
}

// CancelSession resolves any pending request for the session as cancelled.
// Called when the session's turn is cancelled so the agent unblocks
// immediately instead of waiting out the TTL.
func (c *Coordinator) CancelSession(sessionID string) {
	if c.Resolve(sessionID, acp.Cancelled()) {
		c.logger.Debug("pending permission cancelled", "session_id", sessionID)
	}
}

// PendingFor returns the unresolved request for a session, if any.
func (c *Coordinator) PendingFor(sessionID string) (*Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[sessionID]
	return p, ok
}

// remove clears the entry if it still belongs to this request. A superseded
// request must not evict its successor.
func (c *Coordinator) remove(p *Pending) {
	c.mu.Lock()
	if current, ok := c.pending[p.SessionID]; ok && current.ID == p.ID {
		delete(c.pending, p.SessionID)
	}
	c.mu.Unlock()
}

// retractLocked removes the entry and notifies the prompter. Caller holds mu.
func (c *Coordinator) retractLocked(p *Pending) {
	if current, ok := c.pending[p.SessionID]; ok && current.ID == p.ID {
		delete(c.pending, p.SessionID)
	}
	if c.prompter != nil {
		c.prompter.RetractPermission(p.ID)
	}
}
