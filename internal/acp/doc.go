// Package acp implements the client side of the Agent Client Protocol.
//
// # Overview
//
// An agent is an external process that speaks newline-delimited JSON-RPC
// over its stdio. One client connection multiplexes many sessions; streamed
// progress arrives as session/update notifications tagged with a session id.
//
// # Client
//
// The Client interface is what the session layer consumes:
//
//   - CreateSession(ctx, cwd): open a new session
//   - LoadSession(ctx, sessionID, cwd): rehydrate a persisted session
//   - Prompt(ctx, sessionID, blocks): run one turn, blocking until it ends
//   - Cancel(ctx, sessionID): stop the in-flight turn
//   - ListSessions(ctx, cwd): enumerate the agent's sessions
//   - Capabilities(): what the agent declared at initialize
//   - Subscribe(ctx): notification stream
//
// StdioClient is the concrete implementation; Spawn launches a configured
// agent binary and hands back an initialized client.
//
// # Request/Response Correlation
//
// Calls are correlated by JSON-RPC id through a pending-request map. The
// read loop routes responses to waiting calls, fans session/update
// notifications out to subscribers (non-blocking, slow subscribers drop),
// and answers session/request_permission reverse requests through the
// configured PermissionHandler.
package acp
