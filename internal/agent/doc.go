// Package agent manages the pool of live agent connections.
//
// Each configured agent maps to at most one subprocess, spawned lazily on
// the first session that needs it and shared by every session thereafter.
// Reconcile applies configuration changes, closing connections for agents
// that disappeared so the session layer can retire their sessions.
package agent
