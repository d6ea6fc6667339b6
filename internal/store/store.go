// ABOUTME: Store interface and data types for acp-host persistence
// ABOUTME: Session metadata lists keyed by agent id plus per-session notification logs

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/acp-host/internal/acp"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// sessionKeyPrefix scopes the metadata lists; the durable key for an agent's
// sessions is "sessions.<agentID>".
const sessionKeyPrefix = "sessions."

// SessionKey returns the durable key under which an agent's session
// metadata list is stored.
func SessionKey(agentID string) string {
	return sessionKeyPrefix + agentID
}

// SessionMetadata is the minimal durable record for one session. It is what
// survives a restart; history is re-derived from the notification log.
type SessionMetadata struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Cwd       string    `json:"cwd"`
}

// Store persists session metadata and notification logs. Metadata for an
// agent round-trips as an ordered list under SessionKey(agentID).
type Store interface {
	// SaveSessionMetadata upserts one session into its agent's list.
	SaveSessionMetadata(ctx context.Context, meta *SessionMetadata) error

	// ListSessionMetadata returns the agent's sessions in insertion order.
	// An agent with no persisted sessions yields an empty list, not an error.
	ListSessionMetadata(ctx context.Context, agentID string) ([]*SessionMetadata, error)

	// ListAgentIDs returns every agent id that has a persisted session
	// list, including agents no longer configured.
	ListAgentIDs(ctx context.Context) ([]string, error)

	// DeleteSessionMetadata removes one session from its agent's list.
	DeleteSessionMetadata(ctx context.Context, agentID, sessionID string) error

	// DeleteAgentSessions erases the agent's entire list and the
	// notification logs of every session in it.
	DeleteAgentSessions(ctx context.Context, agentID string) error

	// AppendNotification records one notification at the end of a
	// session's replay log.
	AppendNotification(ctx context.Context, sessionID string, n acp.Notification) error

	// GetNotificationLog returns a session's notifications in append order.
	GetNotificationLog(ctx context.Context, sessionID string) ([]acp.Notification, error)

	// DeleteNotificationLog drops a session's replay log.
	DeleteNotificationLog(ctx context.Context, sessionID string) error

	Close() error
}
