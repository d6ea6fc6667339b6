// Package store persists session metadata and notification replay logs.
//
// Metadata for an agent round-trips as an ordered JSON list under the key
// "sessions.<agentID>", so a whole agent's sessions load and save as one
// unit. Each session additionally carries a notification log, an append-only
// record of its protocol stream; conversation history is never persisted
// directly but re-derived from the log on restore.
//
// SQLiteStore is the production implementation; MockStore backs tests.
package store
