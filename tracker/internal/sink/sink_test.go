package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testEvent() Event {
	return Event{
		Type:      EventAdded,
		SessionID: "ses_1",
		ElementID: "el_1",
		ShortID:   "a1b2c3",
		Label:     "Submit",
		Kind:      "button",
		XPath:     "/html/body/button",
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStdout_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	if err := s.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("send: %v", err)
	}
	var got Event
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if got.Type != EventAdded || got.ElementID != "el_1" || got.ShortID != "a1b2c3" {
		t.Errorf("got %+v, want the sent event back", got)
	}
	if buf.Bytes()[buf.Len()-1] != '\n' {
		t.Error("output not newline-terminated")
	}
}

func TestCallback_DeliversAndNilHandler(t *testing.T) {
	var got Event
	c := NewCallback(func(_ context.Context, ev Event) error {
		got = ev
		return nil
	})
	if err := c.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.ElementID != "el_1" {
		t.Errorf("handler got %+v, want el_1", got)
	}

	nilc := NewCallback(nil)
	if err := nilc.Send(context.Background(), testEvent()); err != nil {
		t.Errorf("nil handler: got %v, want nil", err)
	}
}

func TestRouter_FanOutAndFirstError(t *testing.T) {
	sentinel := errors.New("boom")
	var calls int32
	failing := NewCallback(func(context.Context, Event) error {
		atomic.AddInt32(&calls, 1)
		return sentinel
	})
	ok := NewCallback(func(context.Context, Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRouter(logger, failing, ok)

	err := r.Send(context.Background(), testEvent())
	if !errors.Is(err, sentinel) {
		t.Errorf("got %v, want the first sink error", err)
	}
	if calls != 2 {
		t.Errorf("got %d sink calls, want 2 (failure must not block delivery)", calls)
	}
}

func TestWebhook_RetriesUntilSuccess(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if ev.ElementID != "el_1" {
			t.Errorf("body element = %s, want el_1", ev.ElementID)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wh := NewWebhook(srv.URL, WithWebhookRetries(2), WithWebhookLogger(logger))
	if err := wh.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if hits != 2 {
		t.Errorf("got %d requests, want 2", hits)
	}
}

func TestWebhook_ContextCancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wh := NewWebhook(srv.URL, WithWebhookRetries(5), WithWebhookLogger(logger))
	err := wh.Send(ctx, testEvent())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
}
