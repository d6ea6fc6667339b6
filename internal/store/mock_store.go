// ABOUTME: In-memory mock implementation of the Store interface for testing
// ABOUTME: Mirrors SQLite semantics including upsert ordering and ErrNotFound

package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/2389/acp-host/internal/acp"
)

// MockStore is an in-memory Store for tests.
type MockStore struct {
	mu    sync.Mutex
	lists map[string][]*SessionMetadata
	logs  map[string][]acp.Notification
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		lists: make(map[string][]*SessionMetadata),
		logs:  make(map[string][]acp.Notification),
	}
}

func (m *MockStore) SaveSessionMetadata(_ context.Context, meta *SessionMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := SessionKey(meta.AgentID)
	cp := *meta
	for i, existing := range m.lists[key] {
		if existing.ID == meta.ID {
			m.lists[key][i] = &cp
			return nil
		}
	}
	m.lists[key] = append(m.lists[key], &cp)
	return nil
}

func (m *MockStore) ListSessionMetadata(_ context.Context, agentID string) ([]*SessionMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.lists[SessionKey(agentID)]
	out := make([]*SessionMetadata, len(list))
	for i, meta := range list {
		cp := *meta
		out[i] = &cp
	}
	return out, nil
}

func (m *MockStore) ListAgentIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.lists))
	for key := range m.lists {
		ids = append(ids, strings.TrimPrefix(key, sessionKeyPrefix))
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MockStore) DeleteSessionMetadata(_ context.Context, agentID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := SessionKey(agentID)
	list := m.lists[key]
	kept := list[:0]
	for _, meta := range list {
		if meta.ID != sessionID {
			kept = append(kept, meta)
		}
	}
	if len(kept) == len(list) {
		return ErrNotFound
	}
	m.lists[key] = kept
	return nil
}

func (m *MockStore) DeleteAgentSessions(_ context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := SessionKey(agentID)
	for _, meta := range m.lists[key] {
		delete(m.logs, meta.ID)
	}
	delete(m.lists, key)
	return nil
}

func (m *MockStore) AppendNotification(_ context.Context, sessionID string, n acp.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logs[sessionID] = append(m.logs[sessionID], n)
	return nil
}

func (m *MockStore) GetNotificationLog(_ context.Context, sessionID string) ([]acp.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.logs[sessionID]
	out := make([]acp.Notification, len(log))
	copy(out, log)
	return out, nil
}

func (m *MockStore) DeleteNotificationLog(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.logs, sessionID)
	return nil
}

func (m *MockStore) Close() error {
	return nil
}
