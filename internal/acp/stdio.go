// ABOUTME: Stdio JSON-RPC implementation of the ACP Client interface
// ABOUTME: Newline-delimited frames, request/response correlation, notification fan-out

package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrClientClosed indicates the client has been shut down.
var ErrClientClosed = errors.New("acp client closed")

// subscriberBufferSize is the channel buffer for each notification subscriber.
// Delivery past the buffer is still lossless; a full channel blocks the read
// loop until the subscriber drains.
const subscriberBufferSize = 64

// JSON-RPC method names of the ACP surface this client speaks.
const (
	methodInitialize        = "initialize"
	methodSessionNew        = "session/new"
	methodSessionLoad       = "session/load"
	methodSessionPrompt     = "session/prompt"
	methodSessionCancel     = "session/cancel"
	methodSessionList       = "session/list"
	methodSessionUpdate     = "session/update"
	methodRequestPermission = "session/request_permission"
)

type jsonrpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *jsonrpcError) Err() error {
	return fmt.Errorf("agent error %d: %s", e.Code, e.Message)
}

type initializeResult struct {
	AgentCapabilities Capabilities `json:"agentCapabilities"`
}

// StdioClient speaks newline-delimited JSON-RPC over an agent process's
// stdin/stdout. Responses are correlated to calls by id; session/update
// notifications fan out to subscribers; session/request_permission reverse
// requests are answered through the configured PermissionHandler.
type StdioClient struct {
	writer      *bufio.Writer
	reader      *bufio.Reader
	closer      io.Closer
	permissions PermissionHandler
	logger      *slog.Logger

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu          sync.Mutex
	pending     map[int64]chan *jsonrpcMessage
	promptTurns map[int64]string // prompt call id -> session id, for end-of-turn markers
	subscribers map[string]*subscriber
	caps        Capabilities
	closed      bool
	done        chan struct{}
}

// subscriber serializes sends and close on one notification channel so a
// blocking delivery never races an unsubscribe.
type subscriber struct {
	mu   sync.Mutex
	ch   chan Notification
	quit chan struct{}
	once sync.Once
}

func newSubscriber() *subscriber {
	return &subscriber{
		ch:   make(chan Notification, subscriberBufferSize),
		quit: make(chan struct{}),
	}
}

// send blocks until the notification is delivered, the subscriber goes away,
// or done fires.
func (s *subscriber) send(n Notification, done <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.quit:
		return
	default:
	}
	select {
	case s.ch <- n:
	case <-s.quit:
	case <-done:
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		// quit first so a blocked send aborts and releases the mutex.
		close(s.quit)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}

// NewStdioClient wraps an agent's stdio pipes and starts the read loop.
// closer is closed on Close (typically the process's stdin, which lets the
// agent exit). Initialize must be called before any session operation.
func NewStdioClient(w io.Writer, r io.Reader, closer io.Closer, permissions PermissionHandler, logger *slog.Logger) *StdioClient {
	if logger == nil {
		logger = slog.Default()
	}
	c := &StdioClient{
		writer:      bufio.NewWriter(w),
		reader:      bufio.NewReader(r),
		closer:      closer,
		permissions: permissions,
		logger:      logger.With("component", "acp-client"),
		pending:     make(map[int64]chan *jsonrpcMessage),
		promptTurns: make(map[int64]string),
		subscribers: make(map[string]*subscriber),
		done:        make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Initialize performs the protocol handshake and records the agent's
// declared capabilities.
func (c *StdioClient) Initialize(ctx context.Context) error {
	raw, err := c.call(ctx, methodInitialize, map[string]any{
		"protocolVersion": 1,
		"clientCapabilities": map[string]any{
			"fs": map[string]bool{"readTextFile": false, "writeTextFile": false},
		},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("parsing initialize result: %w", err)
	}
	c.mu.Lock()
	c.caps = result.AgentCapabilities
	c.mu.Unlock()
	return nil
}

// CreateSession opens a new session rooted at cwd.
func (c *StdioClient) CreateSession(ctx context.Context, cwd string) (*NewSessionResult, error) {
	raw, err := c.call(ctx, methodSessionNew, map[string]any{
		"cwd":        cwd,
		"mcpServers": []any{},
	})
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	var result NewSessionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parsing session/new result: %w", err)
	}
	return &result, nil
}

// LoadSession rehydrates a persisted session and returns its replay log.
func (c *StdioClient) LoadSession(ctx context.Context, sessionID, cwd string) (*LoadSessionResult, error) {
	raw, err := c.call(ctx, methodSessionLoad, map[string]any{
		"sessionId": sessionID,
		"cwd":       cwd,
	})
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	var result LoadSessionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parsing session/load result: %w", err)
	}
	return &result, nil
}

// Prompt sends one prompt turn and blocks until the agent's end-of-turn
// response. Streamed progress arrives via Subscribe channels; when the turn
// completes, an UpdateTurnEnded marker is delivered through the same stream
// after the turn's last notification.
func (c *StdioClient) Prompt(ctx context.Context, sessionID string, blocks []ContentBlock) error {
	_, err := c.callTurn(ctx, methodSessionPrompt, map[string]any{
		"sessionId": sessionID,
		"prompt":    blocks,
	}, sessionID)
	if err != nil {
		return fmt.Errorf("prompt: %w", err)
	}
	return nil
}

// Cancel asks the agent to stop the in-flight turn. Sent as a notification;
// the agent acknowledges by finishing the prompt call.
func (c *StdioClient) Cancel(ctx context.Context, sessionID string) error {
	return c.notify(methodSessionCancel, map[string]any{"sessionId": sessionID})
}

// ListSessions returns the agent's known sessions for cwd.
func (c *StdioClient) ListSessions(ctx context.Context, cwd string) ([]SessionInfo, error) {
	raw, err := c.call(ctx, methodSessionList, map[string]any{"cwd": cwd})
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	var result struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parsing session/list result: %w", err)
	}
	return result.Sessions, nil
}

// Capabilities reports the agent's declared capabilities.
func (c *StdioClient) Capabilities() Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

// Subscribe registers a notification subscriber. Delivery is lossless and in
// read order; a subscriber that stops draining stalls the stream. The channel
// closes when ctx is cancelled or the client shuts down.
func (c *StdioClient) Subscribe(ctx context.Context) <-chan Notification {
	subID := uuid.New().String()
	sub := newSubscriber()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.close()
		return sub.ch
	}
	c.subscribers[subID] = sub
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
		}
		c.unsubscribe(subID)
	}()

	return sub.ch
}

func (c *StdioClient) unsubscribe(subID string) {
	c.mu.Lock()
	sub, ok := c.subscribers[subID]
	if ok {
		delete(c.subscribers, subID)
	}
	c.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Close tears down the client. Pending calls fail with ErrClientClosed and
// all subscriber channels are closed.
func (c *StdioClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
		delete(c.promptTurns, id)
	}
	subs := make([]*subscriber, 0, len(c.subscribers))
	for id, sub := range c.subscribers {
		subs = append(subs, sub)
		delete(c.subscribers, id)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}

	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// call issues a request and waits for its response, ctx cancellation, or
// client shutdown.
func (c *StdioClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.callTurn(ctx, method, params, "")
}

// callTurn is call plus an optional session id: when set, the read loop
// emits an end-of-turn marker into the notification stream, in read order,
// before the response unblocks the caller.
func (c *StdioClient) callTurn(ctx context.Context, method string, params any, turnSessionID string) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan *jsonrpcMessage, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.pending[id] = ch
	if turnSessionID != "" {
		c.promptTurns[id] = turnSessionID
	}
	c.mu.Unlock()

	if err := c.write(&jsonrpcMessage{JSONRPC: "2.0", ID: &id, Method: method, Params: mustMarshal(params)}); err != nil {
		c.dropPending(id)
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClientClosed
		}
		if resp.Error != nil {
			return nil, resp.Error.Err()
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClientClosed
	}
}

// notify writes a request with no id; no response is expected.
func (c *StdioClient) notify(method string, params any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.mu.Unlock()
	return c.write(&jsonrpcMessage{JSONRPC: "2.0", Method: method, Params: mustMarshal(params)})
}

func (c *StdioClient) dropPending(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.pending[id]; ok {
		delete(c.pending, id)
		delete(c.promptTurns, id)
		close(ch)
	}
}

func (c *StdioClient) write(msg *jsonrpcMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return c.writer.Flush()
}

// readLoop reads frames until EOF or shutdown, routing responses to pending
// calls, notifications to subscribers, and permission requests to the
// handler.
func (c *StdioClient) readLoop() {
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Warn("agent stream read failed", "error", err)
			}
			_ = c.Close()
			return
		}
		if len(line) <= 1 {
			continue
		}

		var msg jsonrpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			c.logger.Warn("dropping unparseable frame", "error", err)
			continue
		}

		switch {
		case msg.Method == methodSessionUpdate:
			c.dispatchNotification(msg.Params)
		case msg.Method == methodRequestPermission && msg.ID != nil:
			go c.answerPermission(*msg.ID, msg.Params)
		case msg.Method == "" && msg.ID != nil:
			c.dispatchResponse(&msg)
		default:
			c.logger.Debug("ignoring frame", "method", msg.Method)
		}
	}
}

func (c *StdioClient) dispatchResponse(msg *jsonrpcMessage) {
	c.mu.Lock()
	ch, ok := c.pending[*msg.ID]
	turnSessionID := c.promptTurns[*msg.ID]
	if ok {
		delete(c.pending, *msg.ID)
		delete(c.promptTurns, *msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("response for unknown request", "id", *msg.ID)
		return
	}

	// The marker goes out before the response so that a consumer draining
	// the stream up to it has seen the whole turn.
	if turnSessionID != "" {
		c.fanOut(Notification{
			SessionID: turnSessionID,
			Update:    SessionUpdate{SessionUpdate: UpdateTurnEnded},
		})
	}

	ch <- msg
	close(ch)
}

func (c *StdioClient) dispatchNotification(params json.RawMessage) {
	var n Notification
	if err := json.Unmarshal(params, &n); err != nil {
		c.logger.Warn("dropping malformed session update", "error", err)
		return
	}
	c.fanOut(n)
}

// fanOut delivers a notification to every subscriber. Delivery is lossless:
// a full subscriber blocks the read loop until it drains, unsubscribes, or
// the client shuts down.
func (c *StdioClient) fanOut(n Notification) {
	c.mu.Lock()
	targets := make([]*subscriber, 0, len(c.subscribers))
	for _, sub := range c.subscribers {
		targets = append(targets, sub)
	}
	c.mu.Unlock()

	for _, sub := range targets {
		sub.send(n, c.done)
	}
}

func (c *StdioClient) answerPermission(id int64, params json.RawMessage) {
	var req PermissionRequest
	if err := json.Unmarshal(params, &req); err != nil {
		c.logger.Warn("malformed permission request", "error", err)
		c.respondPermission(id, Cancelled())
		return
	}
	if c.permissions == nil {
		c.respondPermission(id, Cancelled())
		return
	}

	outcome, err := c.permissions.RequestPermission(context.Background(), &req)
	if err != nil {
		c.logger.Warn("permission handler failed", "session_id", req.SessionID, "error", err)
		outcome = Cancelled()
	}
	c.respondPermission(id, outcome)
}

func (c *StdioClient) respondPermission(id int64, outcome PermissionOutcome) {
	result := mustMarshal(map[string]any{"outcome": outcome})
	if err := c.write(&jsonrpcMessage{JSONRPC: "2.0", ID: &id, Result: result}); err != nil {
		c.logger.Warn("writing permission response failed", "error", err)
	}
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
