// Package permission mediates agent authorization prompts.
//
// An agent may pause mid-turn to ask whether it can run a tool. The
// Coordinator holds at most one pending request per session and blocks the
// agent until the user answers, the turn is cancelled, or a TTL elapses.
// Every exit path produces a protocol outcome (selected or cancelled), never
// an error, so an unanswered prompt degrades to a denial instead of killing
// the turn.
package permission
