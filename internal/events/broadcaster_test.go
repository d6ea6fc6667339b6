// ABOUTME: Tests for the session change-feed broadcaster
// ABOUTME: Covers fan-out, agent isolation, wildcard subscribers, unsubscribe, close

package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func receiveEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBroadcaster_SubscriberReceivesEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), "agent-1")
	b.Publish(Event{Type: SessionCreated, AgentID: "agent-1", SessionID: "s1"})

	e := receiveEvent(t, ch)
	assert.Equal(t, SessionCreated, e.Type)
	assert.Equal(t, "s1", e.SessionID)
	assert.False(t, e.Timestamp.IsZero(), "timestamp is stamped on publish")
}

func TestBroadcaster_AgentsAreIsolated(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(context.Background(), "agent-1")
	ch2, _ := b.Subscribe(context.Background(), "agent-2")

	b.Publish(Event{Type: StatusChanged, AgentID: "agent-1", SessionID: "s1"})

	assert.Equal(t, "s1", receiveEvent(t, ch1).SessionID)
	select {
	case <-ch2:
		t.Fatal("agent-2 subscriber received agent-1 event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcaster_WildcardReceivesAll(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), AllAgents)

	b.Publish(Event{Type: SessionCreated, AgentID: "agent-1", SessionID: "s1"})
	b.Publish(Event{Type: SessionRemoved, AgentID: "agent-2", SessionID: "s2"})

	assert.Equal(t, "s1", receiveEvent(t, ch).SessionID)
	assert.Equal(t, "s2", receiveEvent(t, ch).SessionID)
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(context.Background(), "agent-1")
	b.Unsubscribe("agent-1", subID)

	_, open := <-ch
	assert.False(t, open)
}

func TestBroadcaster_ContextCancellationUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "agent-1")
	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("channel never closed after context cancellation")
	}
}

func TestBroadcaster_CloseClosesAllChannels(t *testing.T) {
	b := NewBroadcaster(nil)

	ch1, _ := b.Subscribe(context.Background(), "agent-1")
	ch2, _ := b.Subscribe(context.Background(), AllAgents)
	b.Close()

	for _, ch := range []<-chan Event{ch1, ch2} {
		_, open := <-ch
		assert.False(t, open)
	}
}
