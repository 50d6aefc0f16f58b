// Package store persists sessions and tracked elements to SQLite.
//
// The tracker keeps its working set in memory; this store is the durable
// mirror that survives restarts and answers historical queries. All writes
// come from the tracker's single loop goroutine, so the store performs no
// locking of its own beyond what database/sql provides.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Element state values as persisted. They mirror the tracker's lifecycle.
const (
	StateActive  = "active"
	StateGrace   = "grace"
	StateLost    = "lost"
	StateRemoved = "removed"
)

// ErrNotFound is returned when a session or element row does not exist.
var ErrNotFound = errors.New("store: not found")

// Session is a persisted monitoring session.
type Session struct {
	ID        string
	PageURL   string
	CreatedAt time.Time
	ClosedAt  *time.Time
}

// Element is the persisted form of a tracked element. Fingerprint holds the
// JSON-encoded fingerprint; the store does not interpret it.
type Element struct {
	ID          string
	SessionID   string
	ShortID     string
	State       string
	Fingerprint string
	Label       string
	Kind        string
	XPath       string
	LastSeen    time.Time
	LastMatched time.Time
}

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// New wraps an open database. The caller owns the handle and applies the
// schema (see dbopen.WithSchema).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateSession inserts a new open session.
func (s *Store) CreateSession(ctx context.Context, id, pageURL string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, page_url, created_at) VALUES (?, ?, ?)`,
		id, pageURL, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: create session %s: %w", id, err)
	}
	return nil
}

// GetSession loads one session.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	var created int64
	var closed sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, page_url, created_at, closed_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.PageURL, &created, &closed)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("store: get session %s: %w", id, err)
	}
	sess.CreatedAt = time.UnixMilli(created)
	if closed.Valid {
		t := time.UnixMilli(closed.Int64)
		sess.ClosedAt = &t
	}
	return sess, nil
}

// ListSessions returns all sessions, open ones first, newest first within
// each group.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, page_url, created_at, closed_at FROM sessions
		 ORDER BY closed_at IS NOT NULL, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		var sess Session
		var created int64
		var closed sql.NullInt64
		if err := rows.Scan(&sess.ID, &sess.PageURL, &created, &closed); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		sess.CreatedAt = time.UnixMilli(created)
		if closed.Valid {
			t := time.UnixMilli(closed.Int64)
			sess.ClosedAt = &t
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// CloseSession marks the session closed and purges its element rows.
func (s *Store) CloseSession(ctx context.Context, id string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: close session %s: %w", id, err)
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET closed_at = ? WHERE id = ? AND closed_at IS NULL`,
		now.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("store: close session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM elements WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("store: close session %s: purge elements: %w", id, err)
	}
	return tx.Commit()
}

// SweepOrphans deletes element rows whose session is closed or gone. Run at
// startup to clean up after an unclean shutdown. Returns the number of rows
// removed.
func (s *Store) SweepOrphans(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM elements WHERE session_id NOT IN
		   (SELECT id FROM sessions WHERE closed_at IS NULL)`)
	if err != nil {
		return 0, fmt.Errorf("store: sweep orphans: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UpsertElement writes an element row, replacing any prior version.
func (s *Store) UpsertElement(ctx context.Context, el Element) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO elements
		   (id, session_id, short_id, state, fingerprint, label, kind, xpath, last_seen, last_matched)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   short_id = excluded.short_id,
		   state = excluded.state,
		   fingerprint = excluded.fingerprint,
		   label = excluded.label,
		   kind = excluded.kind,
		   xpath = excluded.xpath,
		   last_seen = excluded.last_seen,
		   last_matched = excluded.last_matched`,
		el.ID, el.SessionID, el.ShortID, el.State, el.Fingerprint,
		el.Label, el.Kind, el.XPath,
		el.LastSeen.UnixMilli(), el.LastMatched.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: upsert element %s: %w", el.ID, err)
	}
	return nil
}

// GetElement loads one element row.
func (s *Store) GetElement(ctx context.Context, id string) (Element, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, short_id, state, fingerprint, label, kind, xpath, last_seen, last_matched
		 FROM elements WHERE id = ?`, id)
	el, err := scanElement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Element{}, ErrNotFound
	}
	if err != nil {
		return Element{}, fmt.Errorf("store: get element %s: %w", id, err)
	}
	return el, nil
}

// ListBySession returns all element rows for a session in stable ID order.
func (s *Store) ListBySession(ctx context.Context, sessionID string) ([]Element, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, short_id, state, fingerprint, label, kind, xpath, last_seen, last_matched
		 FROM elements WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list elements %s: %w", sessionID, err)
	}
	defer rows.Close()
	var out []Element
	for rows.Next() {
		el, err := scanElement(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan element: %w", err)
		}
		out = append(out, el)
	}
	return out, rows.Err()
}

// DeleteElement removes one element row.
func (s *Store) DeleteElement(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM elements WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete element %s: %w", id, err)
	}
	return nil
}

// CountBySession returns the number of element rows in a session.
func (s *Store) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM elements WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count elements %s: %w", sessionID, err)
	}
	return n, nil
}

// EvictOverCapacity trims a session down to capacity rows and returns the
// IDs it removed. Victims are chosen removed-first, then lost and active
// together by oldest last_matched. Grace rows are only touched once no
// other state remains, so an element mid-transition is never dropped ahead
// of one already written off.
func (s *Store) EvictOverCapacity(ctx context.Context, sessionID string, capacity int) ([]string, error) {
	n, err := s.CountBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if capacity <= 0 || n <= capacity {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM elements WHERE session_id = ?
		 ORDER BY
		   CASE state
		     WHEN 'removed' THEN 0
		     WHEN 'lost'    THEN 1
		     WHEN 'active'  THEN 1
		     ELSE 2
		   END,
		   last_matched ASC, id ASC
		 LIMIT ?`, sessionID, n-capacity)
	if err != nil {
		return nil, fmt.Errorf("store: evict %s: %w", sessionID, err)
	}
	defer rows.Close()
	var victims []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: evict scan: %w", err)
		}
		victims = append(victims, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: evict %s: %w", sessionID, err)
	}
	for _, id := range victims {
		if err := s.DeleteElement(ctx, id); err != nil {
			return victims, err
		}
	}
	return victims, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanElement(row scanner) (Element, error) {
	var el Element
	var seen, matched int64
	err := row.Scan(&el.ID, &el.SessionID, &el.ShortID, &el.State, &el.Fingerprint,
		&el.Label, &el.Kind, &el.XPath, &seen, &matched)
	if err != nil {
		return Element{}, err
	}
	el.LastSeen = time.UnixMilli(seen)
	el.LastMatched = time.UnixMilli(matched)
	return el, nil
}
