// Package session owns the conversation lifecycle.
//
// The Registry maps external handles to sessions with exactly-once creation,
// two-phase restore (stubs at startup, hydration on first access), and
// deterministic cleanup when an agent leaves the configuration. The
// Coordinator runs prompt turns: one at a time per session, request
// committed to history before the remote call, the notification stream
// reduced into response turns by a fresh builder each turn, and cancellation
// that unwinds the remote call and any pending permission prompt together.
// A session is never left running after control returns to the caller.
package session
