// ABOUTME: Client interface for talking to an ACP agent process
// ABOUTME: Defines the operations the session layer consumes and the permission callback

package acp

import "context"

// PermissionHandler resolves permission requests raised by the agent
// mid-turn. Implementations must return a cancelled outcome rather than an
// error when the user dismisses the prompt.
type PermissionHandler interface {
	RequestPermission(ctx context.Context, req *PermissionRequest) (PermissionOutcome, error)
}

// Client is one connection to an agent process. A single client multiplexes
// many sessions; notifications are tagged with their session id.
type Client interface {
	// CreateSession opens a new session rooted at cwd.
	CreateSession(ctx context.Context, cwd string) (*NewSessionResult, error)

	// LoadSession rehydrates a previously created session. The result's
	// notification log replays the session's prior turns.
	LoadSession(ctx context.Context, sessionID, cwd string) (*LoadSessionResult, error)

	// Prompt sends one prompt turn and blocks until the agent signals the
	// end of the turn. Partial progress arrives on the subscription stream.
	Prompt(ctx context.Context, sessionID string, blocks []ContentBlock) error

	// Cancel asks the agent to stop the in-flight turn for a session.
	Cancel(ctx context.Context, sessionID string) error

	// ListSessions returns the sessions the agent knows about for cwd.
	ListSessions(ctx context.Context, cwd string) ([]SessionInfo, error)

	// Capabilities reports what the agent declared at initialize time.
	Capabilities() Capabilities

	// Subscribe registers for session notifications. The channel is closed
	// when ctx is cancelled or the client shuts down.
	Subscribe(ctx context.Context) <-chan Notification

	// Close tears down the connection and the agent process.
	Close() error
}
