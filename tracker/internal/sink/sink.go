// Package sink defines output backends for element lifecycle events.
package sink

import (
	"context"
	"time"
)

// Event type values.
const (
	EventAdded   = "added"
	EventUpdated = "updated"
	EventMoved   = "moved"
	EventLost    = "lost"
	EventRemoved = "removed"
)

// Event is one lifecycle transition for a tracked element. At most one
// event per element is emitted per update pass; intermediate hops inside
// a pass collapse into the net transition.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	ElementID string    `json:"element_id"`
	ShortID   string    `json:"short_id"`
	Label     string    `json:"label,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	XPath     string    `json:"xpath,omitempty"`
	Score     float64   `json:"score,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink is the output interface. Implementations deliver events to
// different backends (stdout, webhook, in-process callback).
type Sink interface {
	Send(ctx context.Context, ev Event) error
	Close() error
}
