// Package events carries the session change feed.
//
// The Broadcaster replaces an event-emitter idiom with explicit channel
// subscriptions: the registry and coordinator publish after each mutation
// (session created/removed, status change, history append), and any number
// of subscribers receive the events with at-least-once semantics. Publishing
// never blocks; a subscriber that falls behind loses events rather than
// stalling the session engine.
package events
