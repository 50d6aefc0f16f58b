package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hazyhaar/domtrack/dbopen"
	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return New(db)
}

func mustCreateSession(t *testing.T, s *Store, id string) {
	t.Helper()
	if err := s.CreateSession(context.Background(), id, "https://example.com", time.Now()); err != nil {
		t.Fatalf("create session: %v", err)
	}
}

func el(id, session, state string, matched time.Time) Element {
	return Element{
		ID:          id,
		SessionID:   session,
		ShortID:     id[:4],
		State:       state,
		Fingerprint: `{"tag":"button"}`,
		Label:       "Submit",
		Kind:        "button",
		XPath:       "/html/body/button",
		LastSeen:    matched,
		LastMatched: matched,
	}
}

func TestSession_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSession(t, s, "ses_1")

	got, err := s.GetSession(ctx, "ses_1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.PageURL != "https://example.com" || got.ClosedAt != nil {
		t.Errorf("got %+v, want open session for example.com", got)
	}

	if err := s.CloseSession(ctx, "ses_1", time.Now()); err != nil {
		t.Fatalf("close session: %v", err)
	}
	got, err = s.GetSession(ctx, "ses_1")
	if err != nil {
		t.Fatalf("get closed session: %v", err)
	}
	if got.ClosedAt == nil {
		t.Error("ClosedAt still nil after CloseSession")
	}

	// Closing twice reports not found: the first close consumed the row.
	if err := s.CloseSession(ctx, "ses_1", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("second close: got %v, want ErrNotFound", err)
	}
	if err := s.CloseSession(ctx, "ses_missing", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("close missing: got %v, want ErrNotFound", err)
	}
}

func TestCloseSession_PurgesElements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSession(t, s, "ses_1")
	now := time.Now()
	for i := 0; i < 3; i++ {
		if err := s.UpsertElement(ctx, el(fmt.Sprintf("el_%04d", i), "ses_1", StateActive, now)); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if err := s.CloseSession(ctx, "ses_1", now); err != nil {
		t.Fatalf("close: %v", err)
	}
	n, err := s.CountBySession(ctx, "ses_1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("got %d rows after close, want 0", n)
	}
}

func TestElement_UpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSession(t, s, "ses_1")
	now := time.Now().Truncate(time.Millisecond)

	e := el("el_0001", "ses_1", StateActive, now)
	if err := s.UpsertElement(ctx, e); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := s.GetElement(ctx, "el_0001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateActive || got.Label != "Submit" || !got.LastMatched.Equal(now) {
		t.Errorf("got %+v, want active Submit at %v", got, now)
	}

	// Upsert replaces in place.
	e.State = StateGrace
	e.XPath = "/html/body/div/button"
	if err := s.UpsertElement(ctx, e); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err = s.GetElement(ctx, "el_0001")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.State != StateGrace || got.XPath != "/html/body/div/button" {
		t.Errorf("got state=%s xpath=%s, want grace with updated xpath", got.State, got.XPath)
	}
	n, err := s.CountBySession(ctx, "ses_1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("got %d rows, want 1", n)
	}

	if _, err := s.GetElement(ctx, "el_nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get missing: got %v, want ErrNotFound", err)
	}
}

func TestSweepOrphans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	mustCreateSession(t, s, "ses_open")
	mustCreateSession(t, s, "ses_dead")
	if err := s.UpsertElement(ctx, el("el_a", "ses_open", StateActive, now)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertElement(ctx, el("el_b", "ses_dead", StateActive, now)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Simulate an unclean shutdown: session closed without its purge.
	if _, err := s.db.Exec(`UPDATE sessions SET closed_at = ? WHERE id = 'ses_dead'`, now.UnixMilli()); err != nil {
		t.Fatalf("mark closed: %v", err)
	}

	n, err := s.SweepOrphans(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("swept %d rows, want 1", n)
	}
	if _, err := s.GetElement(ctx, "el_b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("orphan survived sweep: %v", err)
	}
	if _, err := s.GetElement(ctx, "el_a"); err != nil {
		t.Errorf("live element swept: %v", err)
	}
}

func TestEvictOverCapacity_Ordering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSession(t, s, "ses_1")
	base := time.Now().Add(-time.Hour)

	// Oldest first. The grace row is older than everything else but must
	// survive while any other state remains.
	rows := []Element{
		el("el_grace", "ses_1", StateGrace, base),
		el("el_removed", "ses_1", StateRemoved, base.Add(50*time.Minute)),
		el("el_lost", "ses_1", StateLost, base.Add(10*time.Minute)),
		el("el_act_old", "ses_1", StateActive, base.Add(5*time.Minute)),
		el("el_act_new", "ses_1", StateActive, base.Add(40*time.Minute)),
	}
	for _, e := range rows {
		if err := s.UpsertElement(ctx, e); err != nil {
			t.Fatalf("upsert %s: %v", e.ID, err)
		}
	}

	victims, err := s.EvictOverCapacity(ctx, "ses_1", 2)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	want := []string{"el_removed", "el_act_old", "el_lost"}
	if len(victims) != len(want) {
		t.Fatalf("got victims %v, want %v", victims, want)
	}
	for i, id := range want {
		if victims[i] != id {
			t.Errorf("victim[%d] = %s, want %s", i, victims[i], id)
		}
	}
	if _, err := s.GetElement(ctx, "el_grace"); err != nil {
		t.Errorf("grace row evicted while others remained: %v", err)
	}
	if _, err := s.GetElement(ctx, "el_act_new"); err != nil {
		t.Errorf("recent active row evicted: %v", err)
	}
}

func TestEvictOverCapacity_UnderCapacity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSession(t, s, "ses_1")
	if err := s.UpsertElement(ctx, el("el_a", "ses_1", StateActive, time.Now())); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	victims, err := s.EvictOverCapacity(ctx, "ses_1", 5)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if victims != nil {
		t.Errorf("got victims %v, want none", victims)
	}
}

func TestListBySession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateSession(t, s, "ses_1")
	mustCreateSession(t, s, "ses_2")
	now := time.Now()
	for _, id := range []string{"el_b", "el_a", "el_c"} {
		if err := s.UpsertElement(ctx, el(id, "ses_1", StateActive, now)); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if err := s.UpsertElement(ctx, el("el_z", "ses_2", StateActive, now)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.ListBySession(ctx, "ses_1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3", len(got))
	}
	for i, want := range []string{"el_a", "el_b", "el_c"} {
		if got[i].ID != want {
			t.Errorf("row %d = %s, want %s", i, got[i].ID, want)
		}
	}
}
