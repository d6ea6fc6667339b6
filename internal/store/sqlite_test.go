// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Uses an in-memory database; covers metadata upsert ordering and log replay

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/acp-host/internal/acp"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func meta(agentID, sessionID, label string) *SessionMetadata {
	now := time.Now().UTC().Truncate(time.Second)
	return &SessionMetadata{
		ID:        sessionID,
		AgentID:   agentID,
		Label:     label,
		CreatedAt: now,
		UpdatedAt: now,
		Cwd:       "/tmp/work",
	}
}

func TestSQLiteStore_SaveAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSessionMetadata(ctx, meta("claude", "s1", "first")))
	require.NoError(t, s.SaveSessionMetadata(ctx, meta("claude", "s2", "second")))

	list, err := s.ListSessionMetadata(ctx, "claude")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s1", list[0].ID)
	assert.Equal(t, "s2", list[1].ID)
	assert.Equal(t, "/tmp/work", list[0].Cwd)
}

func TestSQLiteStore_ListUnknownAgentIsEmpty(t *testing.T) {
	s := newTestStore(t)

	list, err := s.ListSessionMetadata(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSQLiteStore_ListAgentIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.ListAgentIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, s.SaveSessionMetadata(ctx, meta("claude", "s1", "one")))
	require.NoError(t, s.SaveSessionMetadata(ctx, meta("gemini", "s2", "two")))
	require.NoError(t, s.SaveSessionMetadata(ctx, meta("claude", "s3", "three")))

	ids, err = s.ListAgentIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"claude", "gemini"}, ids)

	require.NoError(t, s.DeleteAgentSessions(ctx, "gemini"))
	ids, err = s.ListAgentIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"claude"}, ids)
}

func TestSQLiteStore_UpsertPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSessionMetadata(ctx, meta("claude", "s1", "first")))
	require.NoError(t, s.SaveSessionMetadata(ctx, meta("claude", "s2", "second")))

	updated := meta("claude", "s1", "renamed")
	require.NoError(t, s.SaveSessionMetadata(ctx, updated))

	list, err := s.ListSessionMetadata(ctx, "claude")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s1", list[0].ID)
	assert.Equal(t, "renamed", list[0].Label)
}

func TestSQLiteStore_DeleteSessionMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSessionMetadata(ctx, meta("claude", "s1", "first")))
	require.NoError(t, s.SaveSessionMetadata(ctx, meta("claude", "s2", "second")))

	require.NoError(t, s.DeleteSessionMetadata(ctx, "claude", "s1"))

	list, err := s.ListSessionMetadata(ctx, "claude")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "s2", list[0].ID)
}

func TestSQLiteStore_DeleteMissingSessionReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSessionMetadata(ctx, meta("claude", "s1", "first")))

	err := s.DeleteSessionMetadata(ctx, "claude", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_DeleteAgentSessionsErasesLogsToo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSessionMetadata(ctx, meta("claude", "s1", "first")))
	require.NoError(t, s.AppendNotification(ctx, "s1", acp.Notification{
		SessionID: "s1",
		Update: acp.SessionUpdate{
			SessionUpdate: acp.UpdateAgentMessageChunk,
			Content:       &acp.ContentBlock{Type: "text", Text: "hello"},
		},
	}))

	require.NoError(t, s.DeleteAgentSessions(ctx, "claude"))

	list, err := s.ListSessionMetadata(ctx, "claude")
	require.NoError(t, err)
	assert.Empty(t, list)

	log, err := s.GetNotificationLog(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, log)
}

func TestSQLiteStore_NotificationLogRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	updates := []acp.SessionUpdate{
		{SessionUpdate: acp.UpdateUserMessageChunk, Content: &acp.ContentBlock{Type: "text", Text: "hi"}},
		{SessionUpdate: acp.UpdateAgentMessageChunk, Content: &acp.ContentBlock{Type: "text", Text: "hello"}},
		{SessionUpdate: acp.UpdateToolCall, ToolCallID: "t1", Title: "Read file"},
	}
	for _, u := range updates {
		require.NoError(t, s.AppendNotification(ctx, "s1", acp.Notification{SessionID: "s1", Update: u}))
	}

	log, err := s.GetNotificationLog(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, log, 3)
	assert.Equal(t, acp.UpdateUserMessageChunk, log[0].Update.SessionUpdate)
	assert.Equal(t, "hi", log[0].Update.Content.Text)
	assert.Equal(t, "t1", log[2].Update.ToolCallID)
}

func TestSQLiteStore_LogsAreIsolatedBySession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendNotification(ctx, "s1", acp.Notification{SessionID: "s1"}))
	require.NoError(t, s.AppendNotification(ctx, "s2", acp.Notification{SessionID: "s2"}))
	require.NoError(t, s.DeleteNotificationLog(ctx, "s1"))

	log1, err := s.GetNotificationLog(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, log1)

	log2, err := s.GetNotificationLog(ctx, "s2")
	require.NoError(t, err)
	assert.Len(t, log2, 1)
}

func TestMockStore_MatchesSQLiteBehavior(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	require.NoError(t, m.SaveSessionMetadata(ctx, meta("claude", "s1", "first")))
	require.NoError(t, m.SaveSessionMetadata(ctx, meta("claude", "s1", "renamed")))

	list, err := m.ListSessionMetadata(ctx, "claude")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "renamed", list[0].Label)

	assert.ErrorIs(t, m.DeleteSessionMetadata(ctx, "claude", "missing"), ErrNotFound)

	ids, err := m.ListAgentIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"claude"}, ids)

	require.NoError(t, m.AppendNotification(ctx, "s1", acp.Notification{SessionID: "s1"}))
	require.NoError(t, m.DeleteAgentSessions(ctx, "claude"))

	log, err := m.GetNotificationLog(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, log)
}
