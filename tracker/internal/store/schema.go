package store

// Schema contains the complete DDL for the tracker tables.
const Schema = `
-- One row per logical session (a monitored page/tab).
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    page_url    TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    closed_at   INTEGER
);

-- Tracked elements, denormalized for consumers: the fingerprint rides along
-- as JSON, label/kind are precomputed so readers never re-derive them.
CREATE TABLE IF NOT EXISTS elements (
    id           TEXT PRIMARY KEY,
    session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    short_id     TEXT NOT NULL,
    state        TEXT NOT NULL,
    fingerprint  TEXT NOT NULL,
    label        TEXT NOT NULL DEFAULT '',
    kind         TEXT NOT NULL DEFAULT '',
    xpath        TEXT NOT NULL DEFAULT '',
    last_seen    INTEGER NOT NULL,
    last_matched INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_elements_session ON elements(session_id);
CREATE INDEX IF NOT EXISTS idx_elements_state ON elements(session_id, state);
CREATE INDEX IF NOT EXISTS idx_elements_recency ON elements(session_id, last_matched);
`
