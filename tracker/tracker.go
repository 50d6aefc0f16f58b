// Package tracker keeps stable logical identities for elements of a
// continuously mutating DOM. Hosts feed it mutation batches and snapshots;
// it debounces them, maintains a shadow tree, re-identifies elements by
// fingerprint similarity, and walks each element through the
// Active/Grace/Lost/Removed lifecycle, emitting one net event per
// transition.
//
// All state is owned by a single update goroutine. External reads are
// lock-free snapshot reads of the last published view and never observe a
// half-applied pass.
package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/domtrack/dom"
	"github.com/hazyhaar/domtrack/idgen"
	"github.com/hazyhaar/domtrack/mutation"
	"github.com/hazyhaar/domtrack/shortid"
	"github.com/hazyhaar/domtrack/tracker/internal/debounce"
	"github.com/hazyhaar/domtrack/tracker/internal/fingerprint"
	"github.com/hazyhaar/domtrack/tracker/internal/match"
	"github.com/hazyhaar/domtrack/tracker/internal/shadow"
	"github.com/hazyhaar/domtrack/tracker/internal/sink"
	"github.com/hazyhaar/domtrack/tracker/internal/store"
)

// Schema is the DDL for the tracker's persistence tables. Apply it through
// dbopen.WithSchema before handing the handle to WithDB.
const Schema = store.Schema

// SweepOrphans deletes persisted elements whose session is closed or gone.
// Run once at process start, before any tracker is created.
func SweepOrphans(ctx context.Context, db *sql.DB) (int64, error) {
	return store.New(db).SweepOrphans(ctx)
}

// Diagnostics are cumulative counters for one tracker.
type Diagnostics struct {
	Passes          uint64 `json:"passes"`
	Matches         uint64 `json:"matches"`
	Fresh           uint64 `json:"fresh"`
	Ambiguous       uint64 `json:"ambiguous"`
	Evictions       uint64 `json:"evictions"`
	ExtractionSkips uint64 `json:"extraction_skips"`
	Tracked         int    `json:"tracked"`
}

// tracked is the loop-owned record for one element.
type tracked struct {
	el         Element
	fp         *fingerprint.Fingerprint
	fpJSON     string
	handle     dom.Handle
	graceSince time.Time
}

type viewEntry struct {
	el     Element
	handle dom.Handle
}

type viewState struct {
	elems map[string]viewEntry
}

type removeReq struct {
	id    string
	reply chan error
}

// Tracker is the engine for one session. Create with New, stop with Close.
type Tracker struct {
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	newID    idgen.Generator
	codec    *shortid.Codec
	router   *sink.Router
	resolver dom.Resolver
	st       *store.Store

	// Loop-owned. Never touched outside the update goroutine.
	tree    *shadow.Tree
	deb     *debounce.Debouncer
	elems   map[string]*tracked
	lastSeq uint64

	view atomic.Pointer[viewState]

	batches chan mutation.Batch
	snaps   chan *mutation.Snapshot
	removes chan removeReq
	quit    chan struct{}
	done    chan struct{}
	closing sync.Once

	passes, matches, fresh, ambiguous, evictions, skips atomic.Uint64
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithDB enables SQLite persistence on the given handle. The schema must
// already be applied (dbopen.WithSchema(tracker.Schema)).
func WithDB(db *sql.DB) Option {
	return func(t *Tracker) { t.st = store.New(db) }
}

// WithResolver sets the host's live-handle resolver. Without one, tracked
// elements carry no handles and ScrollTo always reports ErrDetached.
func WithResolver(r dom.Resolver) Option {
	return func(t *Tracker) { t.resolver = r }
}

// WithSinks sets the lifecycle event outputs. Events fan out to all of
// them; a failing sink is logged and skipped, never blocking the pass.
func WithSinks(sinks ...Sink) Option {
	return func(t *Tracker) { t.router = sink.NewRouter(t.logger, sinks...) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a tracker for one session and starts its update loop.
func New(cfg Config, opts ...Option) (*Tracker, error) {
	t, err := newTracker(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if t.st != nil {
		if err := t.st.CreateSession(context.Background(), t.cfg.SessionID, t.cfg.PageURL, t.now()); err != nil {
			return nil, err
		}
	}
	go t.loop()
	return t, nil
}

// newTracker builds a tracker without starting the loop.
func newTracker(cfg Config, opts ...Option) (*Tracker, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.SessionID == "" {
		cfg.SessionID = idgen.Prefixed("ses_", idgen.UUIDv7())()
	}
	t := &Tracker{
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
		newID:   idgen.Prefixed("el_", idgen.UUIDv7()),
		codec:   shortid.New(cfg.ShortIDLength),
		tree:    shadow.New(),
		elems:   make(map[string]*tracked),
		batches: make(chan mutation.Batch, 64),
		snaps:   make(chan *mutation.Snapshot, 4),
		removes: make(chan removeReq),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	if t.router == nil {
		t.router = sink.NewRouter(t.logger)
	}
	t.deb = debounce.New(debounce.Config{Window: cfg.DebounceWindow, MaxBuffer: cfg.MaxBuffer}, t.applyAndPass)
	t.publish()
	return t, nil
}

// SessionID returns the session this tracker serves.
func (t *Tracker) SessionID() string { return t.cfg.SessionID }

// Ingest enqueues one raw mutation batch. The records are debounced: the
// matching pass runs when the window expires or the buffer fills.
func (t *Tracker) Ingest(batch mutation.Batch) error {
	select {
	case <-t.quit:
		return ErrClosed
	default:
	}
	select {
	case t.batches <- batch:
		return nil
	case <-t.quit:
		return ErrClosed
	}
}

// Resync replaces the shadow tree with a full snapshot and runs a matching
// pass immediately. Pending debounced records are discarded; they predate
// the snapshot.
func (t *Tracker) Resync(snap *mutation.Snapshot) error {
	select {
	case <-t.quit:
		return ErrClosed
	default:
	}
	select {
	case t.snaps <- snap:
		return nil
	case <-t.quit:
		return ErrClosed
	}
}

// Remove signals explicit external removal of an element. Accepts full or
// short IDs. The element goes to Removed and is purged on the next pass.
func (t *Tracker) Remove(id string) error {
	req := removeReq{id: id, reply: make(chan error, 1)}
	select {
	case t.removes <- req:
		return <-req.reply
	case <-t.quit:
		return ErrClosed
	}
}

// Element returns the current view of one element by full or short ID.
func (t *Tracker) Element(id string) (Element, error) {
	v := t.view.Load()
	ve, ok := t.lookup(v, id)
	if !ok {
		return Element{}, fmt.Errorf("tracker: element %s: %w", id, ErrNotFound)
	}
	return ve.el, nil
}

// Elements returns the current view of all elements, ordered by ID.
func (t *Tracker) Elements() []Element {
	v := t.view.Load()
	out := make([]Element, 0, len(v.elems))
	for _, ve := range v.elems {
		out = append(out, ve.el)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ScrollTo scrolls the host viewport to an element. Accepts full or short
// IDs, and unambiguous short-ID prefixes. Lost, Removed and unknown IDs
// report ErrNotFound; a missing or stale live handle reports ErrDetached.
func (t *Tracker) ScrollTo(ctx context.Context, id string) error {
	v := t.view.Load()
	ve, ok := t.lookup(v, id)
	if !ok {
		return fmt.Errorf("tracker: scroll %s: %w", id, ErrNotFound)
	}
	if ve.el.State == StateLost || ve.el.State == StateRemoved {
		return fmt.Errorf("tracker: scroll %s: state %s: %w", id, ve.el.State, ErrNotFound)
	}
	if ve.handle == nil || !ve.handle.Attached() {
		return fmt.Errorf("tracker: scroll %s: %w", id, ErrDetached)
	}
	if err := ve.handle.ScrollIntoView(ctx); err != nil {
		return fmt.Errorf("tracker: scroll %s: %w", id, err)
	}
	return nil
}

// Diagnostics returns cumulative counters.
func (t *Tracker) Diagnostics() Diagnostics {
	return Diagnostics{
		Passes:          t.passes.Load(),
		Matches:         t.matches.Load(),
		Fresh:           t.fresh.Load(),
		Ambiguous:       t.ambiguous.Load(),
		Evictions:       t.evictions.Load(),
		ExtractionSkips: t.skips.Load(),
		Tracked:         len(t.view.Load().elems),
	}
}

// Close flushes pending records, runs a final pass, persists, closes the
// session row and stops the loop.
func (t *Tracker) Close(ctx context.Context) error {
	t.closing.Do(func() { close(t.quit) })
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var firstErr error
	if t.st != nil {
		if err := t.st.CloseSession(ctx, t.cfg.SessionID, t.now()); err != nil && !errors.Is(err, store.ErrNotFound) {
			firstErr = err
		}
	}
	if err := t.router.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// lookup resolves a full ID, a short ID, or an unambiguous short prefix
// against a published view.
func (t *Tracker) lookup(v *viewState, id string) (viewEntry, bool) {
	if ve, ok := v.elems[id]; ok {
		return ve, true
	}
	full, ok := t.codec.Resolve(id)
	if !ok {
		return viewEntry{}, false
	}
	ve, ok := v.elems[full]
	return ve, ok
}

func (t *Tracker) loop() {
	defer close(t.done)
	for {
		select {
		case b := <-t.batches:
			if b.Seq != 0 && t.lastSeq != 0 && b.Seq <= t.lastSeq {
				t.logger.Warn("tracker: batch sequence regression",
					"session", t.cfg.SessionID, "seq", b.Seq, "last", t.lastSeq)
			}
			if b.Seq != 0 {
				t.lastSeq = b.Seq
			}
			t.deb.Add(b.Records...)
		case s := <-t.snaps:
			t.resync(s)
		case <-t.deb.TimerC():
			t.deb.Flush()
		case req := <-t.removes:
			req.reply <- t.removeLocked(req.id)
		case <-t.quit:
			t.deb.Flush()
			return
		}
	}
}

// resync discards buffered records and rebuilds the tree from a snapshot.
func (t *Tracker) resync(s *mutation.Snapshot) {
	t.deb = debounce.New(debounce.Config{Window: t.cfg.DebounceWindow, MaxBuffer: t.cfg.MaxBuffer}, t.applyAndPass)
	t.tree = shadow.New()
	t.tree.Load(s)
	t.logger.Info("tracker: resync", "session", t.cfg.SessionID, "nodes", t.tree.Len())
	t.pass(t.now())
}

// applyAndPass is the debouncer's flush target: apply the compressed
// records to the shadow tree, then run one matching pass. Unreadable or
// unknown-node records are counted and dropped, never fatal.
func (t *Tracker) applyAndPass(recs []mutation.Record) {
	for _, rec := range recs {
		if err := t.tree.Apply(rec); err != nil {
			if errors.Is(err, shadow.ErrDocReset) {
				t.logger.Info("tracker: document reset", "session", t.cfg.SessionID)
				t.tree = shadow.New()
				continue
			}
			t.skips.Add(1)
			t.logger.Debug("tracker: record skipped",
				"session", t.cfg.SessionID, "op", string(rec.Op), "xpath", rec.XPath, "error", err)
		}
	}
	t.pass(t.now())
}

// pass runs one complete matching pass over the current shadow tree.
func (t *Tracker) pass(now time.Time) {
	t.passes.Add(1)
	ctx := context.Background()
	touched := make(map[string]struct{})

	// Purge elements removed in an earlier pass.
	for id, tr := range t.elems {
		if tr.el.State == StateRemoved {
			t.drop(ctx, id)
		}
	}

	entries := t.tree.Flatten()
	next := make([]*fingerprint.Fingerprint, len(entries))
	for i, e := range entries {
		fp := fingerprint.Extract(e.Node, fingerprint.Context{
			Path:         e.Path,
			SiblingIndex: e.SiblingIndex,
			NearbyText:   e.NearbyText,
		})
		next[i] = &fp
	}

	cands := make([]match.Candidate, 0, len(t.elems))
	for id, tr := range t.elems {
		if tr.el.State == StateActive || tr.el.State == StateGrace {
			cands = append(cands, match.Candidate{ID: id, FP: tr.fp})
		}
	}

	asgn := match.Assign(cands, next, t.cfg.Weights, t.cfg.Threshold)
	t.ambiguous.Add(uint64(asgn.Ambiguous))

	var events []sink.Event

	matchedIdx := make([]int, 0, len(asgn.Matched))
	for i := range asgn.Matched {
		matchedIdx = append(matchedIdx, i)
	}
	sort.Ints(matchedIdx)

	for _, i := range matchedIdx {
		m := asgn.Matched[i]
		tr := t.elems[m.ID]
		prevState := tr.el.State
		moved := !slices.Equal(tr.fp.Path, next[i].Path) || tr.fp.SiblingIndex != next[i].SiblingIndex

		fpJSON := marshalFP(next[i])
		changed := fpJSON != tr.fpJSON

		tr.fp = next[i]
		tr.fpJSON = fpJSON
		tr.el.State = StateActive
		tr.el.XPath = entries[i].XPath
		tr.el.Label = next[i].DisplayLabel()
		tr.el.Kind = next[i].Kind()
		tr.el.FormValue, _ = entries[i].Node.Attr("value")
		tr.el.Score = m.Score
		tr.el.LastSeen = now
		tr.el.LastMatched = now
		tr.graceSince = time.Time{}
		if t.resolver != nil {
			tr.handle = t.resolver(entries[i].XPath)
		}
		touched[m.ID] = struct{}{}
		t.matches.Add(1)

		switch {
		case moved:
			events = append(events, t.event(sink.EventMoved, tr, now))
		case changed || prevState == StateGrace:
			events = append(events, t.event(sink.EventUpdated, tr, now))
		}
	}

	for _, i := range asgn.Fresh {
		id := t.newID()
		tr := &tracked{
			fp:     next[i],
			fpJSON: marshalFP(next[i]),
			el: Element{
				ID:          id,
				ShortID:     t.codec.Compress(id),
				SessionID:   t.cfg.SessionID,
				State:       StateActive,
				XPath:       entries[i].XPath,
				Label:       next[i].DisplayLabel(),
				Kind:        next[i].Kind(),
				LastSeen:    now,
				LastMatched: now,
			},
		}
		tr.el.FormValue, _ = entries[i].Node.Attr("value")
		if t.resolver != nil {
			tr.handle = t.resolver(entries[i].XPath)
		}
		t.elems[id] = tr
		touched[id] = struct{}{}
		t.fresh.Add(1)
		events = append(events, t.event(sink.EventAdded, tr, now))
	}

	for _, id := range asgn.Unmatched {
		tr := t.elems[id]
		switch tr.el.State {
		case StateActive:
			tr.el.State = StateGrace
			tr.graceSince = now
			touched[id] = struct{}{}
		case StateGrace:
			if now.Sub(tr.graceSince) >= t.cfg.GracePeriod {
				tr.el.State = StateLost
				tr.handle = nil
				touched[id] = struct{}{}
				events = append(events, t.event(sink.EventLost, tr, now))
			}
		}
	}

	for _, ev := range coalesce(events) {
		t.router.Send(ctx, ev)
	}

	t.persist(ctx, touched)
	t.evict(ctx)
	t.publish()
}

// removeLocked handles an explicit removal signal on the loop goroutine.
func (t *Tracker) removeLocked(id string) error {
	tr, ok := t.elems[id]
	if !ok {
		full, rok := t.codec.Resolve(id)
		if !rok {
			return fmt.Errorf("tracker: remove %s: %w", id, ErrNotFound)
		}
		if tr, ok = t.elems[full]; !ok {
			return fmt.Errorf("tracker: remove %s: %w", id, ErrNotFound)
		}
	}
	if tr.el.State == StateRemoved {
		return nil
	}
	now := t.now()
	tr.el.State = StateRemoved
	tr.el.LastSeen = now
	tr.handle = nil
	t.router.Send(context.Background(), t.event(sink.EventRemoved, tr, now))
	t.persist(context.Background(), map[string]struct{}{tr.el.ID: {}})
	t.publish()
	return nil
}

// drop forgets an element entirely: memory, short alias, store row.
func (t *Tracker) drop(ctx context.Context, id string) {
	delete(t.elems, id)
	t.codec.Release(id)
	if t.st != nil {
		if err := t.st.DeleteElement(ctx, id); err != nil {
			t.logger.Warn("tracker: delete element row", "id", id, "error", err)
		}
	}
}

func (t *Tracker) persist(ctx context.Context, touched map[string]struct{}) {
	if t.st == nil || len(touched) == 0 {
		return
	}
	for id := range touched {
		tr, ok := t.elems[id]
		if !ok {
			continue
		}
		row := store.Element{
			ID:          tr.el.ID,
			SessionID:   tr.el.SessionID,
			ShortID:     tr.el.ShortID,
			State:       string(tr.el.State),
			Fingerprint: tr.fpJSON,
			Label:       tr.el.Label,
			Kind:        tr.el.Kind,
			XPath:       tr.el.XPath,
			LastSeen:    tr.el.LastSeen,
			LastMatched: tr.el.LastMatched,
		}
		if err := t.st.UpsertElement(ctx, row); err != nil {
			t.logger.Warn("tracker: persist element", "id", id, "error", err)
		}
	}
}

// evict trims the session down to capacity. The store decides victims when
// persistence is on; otherwise the same policy runs in memory.
func (t *Tracker) evict(ctx context.Context) {
	over := len(t.elems) - t.cfg.Capacity
	if over <= 0 {
		return
	}
	var victims []string
	if t.st != nil {
		var err error
		victims, err = t.st.EvictOverCapacity(ctx, t.cfg.SessionID, t.cfg.Capacity)
		if err != nil {
			t.logger.Warn("tracker: eviction", "session", t.cfg.SessionID, "error", err)
			return
		}
	} else {
		victims = t.memoryVictims(over)
	}
	for _, id := range victims {
		delete(t.elems, id)
		t.codec.Release(id)
	}
	t.evictions.Add(uint64(len(victims)))
	t.logger.Info("tracker: evicted over capacity",
		"session", t.cfg.SessionID, "count", len(victims))
}

// memoryVictims mirrors the store's eviction order: removed first, then
// lost and active together by oldest last-matched, grace only when nothing
// else is left.
func (t *Tracker) memoryVictims(n int) []string {
	type cand struct {
		id      string
		rank    int
		matched time.Time
	}
	cands := make([]cand, 0, len(t.elems))
	for id, tr := range t.elems {
		rank := 1
		switch tr.el.State {
		case StateRemoved:
			rank = 0
		case StateGrace:
			rank = 2
		}
		cands = append(cands, cand{id: id, rank: rank, matched: tr.el.LastMatched})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].rank != cands[j].rank {
			return cands[i].rank < cands[j].rank
		}
		if !cands[i].matched.Equal(cands[j].matched) {
			return cands[i].matched.Before(cands[j].matched)
		}
		return cands[i].id < cands[j].id
	})
	if n > len(cands) {
		n = len(cands)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = cands[i].id
	}
	return out
}

func (t *Tracker) publish() {
	m := make(map[string]viewEntry, len(t.elems))
	for id, tr := range t.elems {
		m[id] = viewEntry{el: tr.el, handle: tr.handle}
	}
	t.view.Store(&viewState{elems: m})
}

func (t *Tracker) event(typ string, tr *tracked, now time.Time) sink.Event {
	return sink.Event{
		Type:      typ,
		SessionID: t.cfg.SessionID,
		ElementID: tr.el.ID,
		ShortID:   tr.el.ShortID,
		Label:     tr.el.Label,
		Kind:      tr.el.Kind,
		XPath:     tr.el.XPath,
		Score:     tr.el.Score,
		Timestamp: now,
	}
}

// coalesce keeps the net (last) event per element, in first-decision order.
func coalesce(events []sink.Event) []sink.Event {
	if len(events) <= 1 {
		return events
	}
	pos := make(map[string]int, len(events))
	out := make([]sink.Event, 0, len(events))
	for _, ev := range events {
		if i, ok := pos[ev.ElementID]; ok {
			out[i] = ev
			continue
		}
		pos[ev.ElementID] = len(out)
		out = append(out, ev)
	}
	return out
}

func marshalFP(fp *fingerprint.Fingerprint) string {
	b, err := json.Marshal(fp)
	if err != nil {
		return ""
	}
	return string(b)
}
