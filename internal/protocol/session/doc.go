// Package session owns the per-device connection lifecycle.
//
// Ownership boundary:
// - lifecycle state machine (pure transition function)
// - connect, handshake and startup reads
// - periodic telemetry polling into the state cache
// - degrade/reconnect with capped exponential backoff
// - one controller per device identity
package session
