// Package turns reconstructs discrete conversation turns from the raw,
// interleaved ACP notification stream.
//
// # Builder
//
// Builder is a pure reducer: ProcessNotification consumes events in arrival
// order, GetTurns flushes and returns the committed sequence, Reset clears
// everything. It owns no goroutines and performs no I/O; callers serialize
// access per session.
//
// The reduction rules:
//
//   - A user chunk after agent content (or vice versa) is a role transition
//     and forces a flush of the pending accumulation.
//   - Contiguous agent message chunks coalesce into one markdown part,
//     joined with no separator and trimmed once at flush time.
//   - Thoughts become progress parts; empty thoughts are dropped.
//   - tool_call only binds the tool id to its title. A tool part is emitted
//     when a later tool_call_update reaches a terminal status; updates for
//     ids never announced report "unknown tool call".
//   - Diff content on terminal tool updates and non-empty plans become
//     additional markdown parts.
//   - Empty agent turns and whitespace-only user turns are omitted, not
//     emitted empty.
package turns
