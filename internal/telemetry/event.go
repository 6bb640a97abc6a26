// Package telemetry carries the engine's metrics, spans and domain events.
package telemetry

import (
	"context"
	"time"
)

// Event types.
const (
	EventTokenIssued   = "token_issued"
	EventRedemption    = "redemption"
	EventOverride      = "override"
	EventSessionClosed = "session_closed"
)

// Event is one domain occurrence worth shipping to the log pipeline.
// Tokens and secrets are never part of an event.
type Event struct {
	Type       string
	SessionID  string
	RedeemerID string
	ActorID    string
	Outcome    string
	Reason     string
	At         time.Time
}

// EventEmitter emits events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event Event) error
}
