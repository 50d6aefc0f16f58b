package tracker

import "time"

// State is the lifecycle state of a tracked element.
type State string

const (
	// StateActive: present in the last matching pass.
	StateActive State = "active"
	// StateGrace: unmatched, still a candidate until the grace period ends.
	StateGrace State = "grace"
	// StateLost: grace expired, no longer a match candidate.
	StateLost State = "lost"
	// StateRemoved: explicitly removed, purged on the next pass.
	StateRemoved State = "removed"
)

// Element is the public snapshot view of one tracked element. Views are
// immutable copies; mutating one has no effect on the tracker.
type Element struct {
	ID        string `json:"id"`
	ShortID   string `json:"short_id"`
	SessionID string `json:"session_id"`
	State     State  `json:"state"`
	XPath     string `json:"xpath"`
	Label     string `json:"label,omitempty"`
	Kind      string `json:"kind,omitempty"`
	FormValue string `json:"form_value,omitempty"`
	// Score is the similarity score of the last accepted match. 0 for
	// freshly added elements until they survive a pass.
	Score       float64   `json:"score,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
	LastMatched time.Time `json:"last_matched"`
}
