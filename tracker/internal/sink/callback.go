package sink

import "context"

// EventFunc is called for each event (in-process, zero serialisation).
type EventFunc func(ctx context.Context, ev Event) error

// Callback delivers events via Go function calls. When the tracker and
// its consumer live in the same binary this is the cheapest path.
type Callback struct {
	onEvent EventFunc
}

// NewCallback creates a Callback sink. The handler may be nil.
func NewCallback(onEvent EventFunc) *Callback {
	return &Callback{onEvent: onEvent}
}

func (c *Callback) Send(ctx context.Context, ev Event) error {
	if c.onEvent != nil {
		return c.onEvent(ctx, ev)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
