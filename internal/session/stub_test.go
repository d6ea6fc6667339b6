// ABOUTME: Shared fakes for session package tests
// ABOUTME: Scripted agent client with deterministic notification delivery

package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/acp-host/internal/acp"
	"github.com/2389/acp-host/internal/config"
)

// fakeClient is a scripted acp.Client. Prompt delivers scripted
// notifications through the subscription and finishes with the end-of-turn
// marker, matching the real client's stream ordering.
type fakeClient struct {
	mu            sync.Mutex
	createCalls   atomic.Int32
	loadCalls     atomic.Int32
	cancelCalls   atomic.Int32
	nextSessionID string
	createDelay   time.Duration
	loadDelay     time.Duration
	loadErr       error
	loadResult    acp.LoadSessionResult
	capabilities  acp.Capabilities
	script        []acp.Notification
	promptFn      func(ctx context.Context, sessionID string) error
	subscriber    chan acp.Notification
}

func newFakeClient(sessionID string) *fakeClient {
	return &fakeClient{
		nextSessionID: sessionID,
		capabilities:  acp.Capabilities{LoadSession: true},
	}
}

func (f *fakeClient) CreateSession(ctx context.Context, cwd string) (*acp.NewSessionResult, error) {
	f.createCalls.Add(1)
	if f.createDelay > 0 {
		select {
		case <-time.After(f.createDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &acp.NewSessionResult{SessionID: f.nextSessionID}, nil
}

func (f *fakeClient) LoadSession(ctx context.Context, _, _ string) (*acp.LoadSessionResult, error) {
	f.loadCalls.Add(1)
	if f.loadDelay > 0 {
		select {
		case <-time.After(f.loadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	result := f.loadResult
	return &result, nil
}

func (f *fakeClient) Prompt(ctx context.Context, sessionID string, _ []acp.ContentBlock) error {
	defer f.endTurn(ctx, sessionID)
	if f.promptFn != nil {
		return f.promptFn(ctx, sessionID)
	}
	f.deliver(ctx, sessionID)
	return nil
}

// deliver pushes the script through the subscription.
func (f *fakeClient) deliver(ctx context.Context, sessionID string) {
	f.mu.Lock()
	ch := f.subscriber
	script := f.script
	f.mu.Unlock()
	if ch == nil {
		return
	}
	for _, n := range script {
		n.SessionID = sessionID
		select {
		case ch <- n:
		case <-ctx.Done():
			return
		}
	}
}

// endTurn emits the marker the real client synthesizes when a prompt call
// completes, after everything the script delivered.
func (f *fakeClient) endTurn(ctx context.Context, sessionID string) {
	f.mu.Lock()
	ch := f.subscriber
	f.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- acp.Notification{
		SessionID: sessionID,
		Update:    acp.SessionUpdate{SessionUpdate: acp.UpdateTurnEnded},
	}:
	case <-ctx.Done():
	}
}

func (f *fakeClient) Cancel(context.Context, string) error {
	f.cancelCalls.Add(1)
	return nil
}

func (f *fakeClient) ListSessions(context.Context, string) ([]acp.SessionInfo, error) {
	return nil, nil
}

func (f *fakeClient) Capabilities() acp.Capabilities { return f.capabilities }

func (f *fakeClient) Subscribe(ctx context.Context) <-chan acp.Notification {
	ch := make(chan acp.Notification)
	f.mu.Lock()
	f.subscriber = ch
	f.mu.Unlock()
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		if f.subscriber == ch {
			f.subscriber = nil
		}
		f.mu.Unlock()
		close(ch)
	}()
	return ch
}

func (f *fakeClient) Close() error { return nil }

// fakeProvider is a ClientProvider over a fixed set of fake clients.
type fakeProvider struct {
	clients map[string]*fakeClient
	configs map[string]config.AgentConfig
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		clients: make(map[string]*fakeClient),
		configs: make(map[string]config.AgentConfig),
	}
}

func (p *fakeProvider) add(agentID string, client *fakeClient) {
	p.clients[agentID] = client
	p.configs[agentID] = config.AgentConfig{ID: agentID, Command: agentID}
}

func (p *fakeProvider) GetClient(_ context.Context, agentID string) (acp.Client, error) {
	client, ok := p.clients[agentID]
	if !ok {
		return nil, fmt.Errorf("unknown agent: %s", agentID)
	}
	return client, nil
}

func (p *fakeProvider) AgentConfig(agentID string) (config.AgentConfig, bool) {
	cfg, ok := p.configs[agentID]
	return cfg, ok
}

func (p *fakeProvider) AgentIDs() []string {
	ids := make([]string, 0, len(p.clients))
	for id := range p.clients {
		ids = append(ids, id)
	}
	return ids
}

// recordingCanceller records permission cancellation calls.
type recordingCanceller struct {
	mu        sync.Mutex
	cancelled []string
}

func (r *recordingCanceller) CancelSession(sessionID string) {
	r.mu.Lock()
	r.cancelled = append(r.cancelled, sessionID)
	r.mu.Unlock()
}

func (r *recordingCanceller) sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.cancelled))
	copy(out, r.cancelled)
	return out
}
