// ABOUTME: In-memory fan-out broadcaster for session change events
// ABOUTME: Fired after every mutation so listings and views refresh without polling

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Type identifies which mutation an event describes.
type Type string

const (
	SessionCreated  Type = "session_created"
	SessionRemoved  Type = "session_removed"
	StatusChanged   Type = "status_changed"
	HistoryAppended Type = "history_appended"
)

// Event describes one session mutation. Events fire after the mutation is
// visible, so a subscriber reading session state on receipt sees the new
// value.
type Event struct {
	Type      Type
	SessionID string
	AgentID   string
	Status    string
	Timestamp time.Time
}

// Broadcaster provides in-memory pub/sub for session change events.
// Subscribers register for an agent id (or AllAgents) and receive events as
// mutations land. Delivery is at-least-once to current subscribers and
// non-blocking: slow subscribers drop.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // agentID -> subID -> ch
	logger      *slog.Logger
}

// AllAgents subscribes to events for every agent.
const AllAgents = "*"

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events on the given agent id.
// Returns the event channel and a subscription id for Unsubscribe. The
// subscription is cleaned up automatically when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, agentID string) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[agentID]; !ok {
		b.subscribers[agentID] = make(map[string]chan Event)
	}
	b.subscribers[agentID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "agent_id", agentID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(agentID, subID)
	}()

	return ch, subID
}

// Publish sends an event to subscribers of its agent id and to AllAgents
// subscribers. Non-blocking; events are dropped for full channels.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	targets := make([]chan Event, 0)
	for _, key := range []string{event.AgentID, AllAgents} {
		for _, ch := range b.subscribers[key] {
			targets = append(targets, ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"agent_id", event.AgentID,
				"type", event.Type)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(agentID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[agentID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, agentID)
	}

	b.logger.Debug("subscriber removed", "agent_id", agentID, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for agentID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, agentID)
	}

	b.logger.Debug("broadcaster closed")
}
