// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: KV table of JSON metadata lists plus an ordered notification log table

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/2389/acp-host/internal/acp"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path. Pass
// ":memory:" for an ephemeral store. The schema is created if it doesn't
// exist; parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_lists (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notification_log (
		session_id TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		payload    TEXT NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// readList loads and decodes the metadata list for a key. A missing key
// yields an empty list.
func (s *SQLiteStore) readList(ctx context.Context, key string) ([]*SessionMetadata, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM session_lists WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}

	var list []*SessionMetadata
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return list, nil
}

func (s *SQLiteStore) writeList(ctx context.Context, key string, list []*SessionMetadata) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO session_lists (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, string(raw))
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// SaveSessionMetadata upserts one session into its agent's list, preserving
// list order for existing entries and appending new ones.
func (s *SQLiteStore) SaveSessionMetadata(ctx context.Context, meta *SessionMetadata) error {
	key := SessionKey(meta.AgentID)
	list, err := s.readList(ctx, key)
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range list {
		if existing.ID == meta.ID {
			list[i] = meta
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, meta)
	}

	if err := s.writeList(ctx, key, list); err != nil {
		return err
	}
	s.logger.Debug("session metadata saved", "agent_id", meta.AgentID, "session_id", meta.ID)
	return nil
}

// ListSessionMetadata returns the agent's sessions in insertion order.
func (s *SQLiteStore) ListSessionMetadata(ctx context.Context, agentID string) ([]*SessionMetadata, error) {
	return s.readList(ctx, SessionKey(agentID))
}

// ListAgentIDs returns every agent id with a persisted session list,
// configured or not.
func (s *SQLiteStore) ListAgentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM session_lists WHERE key LIKE ? ORDER BY key", sessionKeyPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("listing agent ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning agent key: %w", err)
		}
		ids = append(ids, strings.TrimPrefix(key, sessionKeyPrefix))
	}
	return ids, rows.Err()
}

// DeleteSessionMetadata removes one session from its agent's list.
// Returns ErrNotFound if the session is not in the list.
func (s *SQLiteStore) DeleteSessionMetadata(ctx context.Context, agentID, sessionID string) error {
	key := SessionKey(agentID)
	list, err := s.readList(ctx, key)
	if err != nil {
		return err
	}

	kept := list[:0]
	for _, meta := range list {
		if meta.ID != sessionID {
			kept = append(kept, meta)
		}
	}
	if len(kept) == len(list) {
		return ErrNotFound
	}
	return s.writeList(ctx, key, kept)
}

// DeleteAgentSessions erases the agent's list wholesale along with every
// member session's notification log.
func (s *SQLiteStore) DeleteAgentSessions(ctx context.Context, agentID string) error {
	key := SessionKey(agentID)
	list, err := s.readList(ctx, key)
	if err != nil {
		return err
	}

	for _, meta := range list {
		if err := s.DeleteNotificationLog(ctx, meta.ID); err != nil {
			return err
		}
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM session_lists WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	s.logger.Debug("agent sessions erased", "agent_id", agentID, "count", len(list))
	return nil
}

// AppendNotification records one notification at the end of the session's log.
func (s *SQLiteStore) AppendNotification(ctx context.Context, sessionID string, n acp.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notification_log (session_id, seq, payload)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM notification_log WHERE session_id = ?), ?)`,
		sessionID, sessionID, string(payload))
	if err != nil {
		return fmt.Errorf("appending notification: %w", err)
	}
	return nil
}

// GetNotificationLog returns a session's notifications in append order.
func (s *SQLiteStore) GetNotificationLog(ctx context.Context, sessionID string) ([]acp.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT payload FROM notification_log WHERE session_id = ? ORDER BY seq", sessionID)
	if err != nil {
		return nil, fmt.Errorf("reading notification log: %w", err)
	}
	defer rows.Close()

	var log []acp.Notification
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		var n acp.Notification
		if err := json.Unmarshal([]byte(payload), &n); err != nil {
			return nil, fmt.Errorf("decoding notification: %w", err)
		}
		log = append(log, n)
	}
	return log, rows.Err()
}

// DeleteNotificationLog drops a session's replay log.
func (s *SQLiteStore) DeleteNotificationLog(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM notification_log WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("deleting notification log: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
