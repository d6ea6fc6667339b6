// ABOUTME: Session type and status state machine for agent conversations
// ABOUTME: History and pending-turn state guarded by a per-session mutex

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/2389/acp-host/internal/turns"
)

var (
	// ErrUnknownSession is returned when no session carries the handle.
	ErrUnknownSession = errors.New("unknown session")

	// ErrSessionBusy is returned when a prompt arrives while the session
	// already has a turn in flight.
	ErrSessionBusy = errors.New("session busy")

	// ErrRestoreFailed wraps a loadSession failure during lazy hydration.
	// The stub stays marked for retry.
	ErrRestoreFailed = errors.New("session restore failed")
)

// Status is the lifecycle state of a session. Idle means never prompted;
// completed and error describe the last finished turn. A session accepts a
// new prompt in any state except running.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Session is one conversation with an agent. Key is the stable internal
// identity; ID is the agent-assigned protocol id and may only be trusted
// after a successful create or restore. Mutable state is guarded by mu so
// readers never observe a partially applied turn.
type Session struct {
	Key       string // internal UUID, stable for the session's lifetime
	ID        string // agent-assigned ACP session id
	AgentID   string
	Handle    string
	Label     string
	Cwd       string
	CreatedAt time.Time

	// Persisted is set when the agent declared the loadSession capability
	// and metadata was durably recorded at creation time.
	Persisted bool

	mu           sync.Mutex
	updatedAt    time.Time
	status       Status
	history      []turns.Turn
	needsRestore bool
	cancelTurn   context.CancelFunc
}

// Status returns the session's lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// UpdatedAt returns the time of the last history or status mutation.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// History returns a copy of the committed turns.
func (s *Session) History() []turns.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]turns.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// NeedsRestore reports whether the session is an unhydrated stub.
func (s *Session) NeedsRestore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsRestore
}

// appendHistory commits turns to history. The mutation is complete before
// any reader can observe it.
func (s *Session) appendHistory(ts ...turns.Turn) {
	s.mu.Lock()
	s.history = append(s.history, ts...)
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// setHistory replaces history wholesale, used by restore replay.
func (s *Session) setHistory(ts []turns.Turn) {
	s.mu.Lock()
	s.history = ts
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// setStatus updates the lifecycle state.
func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// beginTurn claims the session for one prompt. Fails with ErrSessionBusy if
// a turn is already in flight; otherwise records the cancellation handle and
// moves to running.
func (s *Session) beginTurn(cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelTurn != nil {
		return ErrSessionBusy
	}
	s.cancelTurn = cancel
	s.status = StatusRunning
	s.updatedAt = time.Now()
	return nil
}

// endTurn releases the claim taken by beginTurn.
func (s *Session) endTurn() {
	s.mu.Lock()
	s.cancelTurn = nil
	s.mu.Unlock()
}

// cancelPending triggers the in-flight turn's cancellation handle, if any.
// Never blocks.
func (s *Session) cancelPending() bool {
	s.mu.Lock()
	cancel := s.cancelTurn
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// markRestored clears the stub flag after a successful hydration.
func (s *Session) markRestored() {
	s.mu.Lock()
	s.needsRestore = false
	s.updatedAt = time.Now()
	s.mu.Unlock()
}
