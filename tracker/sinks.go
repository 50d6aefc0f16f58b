package tracker

import (
	"context"
	"io"
	"log/slog"

	"github.com/hazyhaar/domtrack/tracker/internal/sink"
)

// Event is one lifecycle transition delivered to sinks.
type Event = sink.Event

// Event types.
const (
	EventAdded   = sink.EventAdded
	EventUpdated = sink.EventUpdated
	EventMoved   = sink.EventMoved
	EventLost    = sink.EventLost
	EventRemoved = sink.EventRemoved
)

// Sink is the output interface for lifecycle events.
type Sink = sink.Sink

// NewStdoutSink creates a JSON-lines sink. If w is nil, os.Stdout is used.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process callback sink. Zero serialisation;
// the handler runs on the tracker's update goroutine and must not block.
func NewCallbackSink(onEvent func(ctx context.Context, ev Event) error) Sink {
	return sink.NewCallback(onEvent)
}
