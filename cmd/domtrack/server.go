package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-rod/rod"

	"github.com/hazyhaar/domtrack/kit"
	"github.com/hazyhaar/domtrack/mutation"
	"github.com/hazyhaar/domtrack/rodhost"
	"github.com/hazyhaar/domtrack/tracker"
)

// session pairs one tracker with its optional browser host.
type session struct {
	tr   *tracker.Tracker
	host *rodhost.Host
}

type server struct {
	cfg     Config
	logger  *slog.Logger
	db      *sql.DB
	browser *rod.Browser

	mu       sync.RWMutex
	sessions map[string]*session
}

func newServer(cfg Config, logger *slog.Logger, db *sql.DB, browser *rod.Browser) *server {
	return &server{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		browser:  browser,
		sessions: make(map[string]*session),
	}
}

func (s *server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(kit.WithRemoteAddr(req.Context(), req.RemoteAddr)))
		})
	})
	if s.cfg.Auth.PasswordHash != "" {
		r.Use(basicAuth(s.cfg.Auth.User, s.cfg.Auth.PasswordHash))
	}

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Post("/batch", s.handleBatch)
			r.Post("/resync", s.handleResync)
			r.Get("/elements", s.handleElements)
			r.Post("/scroll", s.handleScroll)
			r.Get("/diagnostics", s.handleDiagnostics)
			r.Delete("/", s.handleDeleteSession)
		})
	})
	return r
}

// lookup satisfies the MCP deps.
func (s *server) lookup(sessionID string) (*tracker.Tracker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ses, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return ses.tr, true
}

// scan asks the session's browser host for a fresh snapshot.
func (s *server) scan(ctx context.Context, sessionID string) (*mutation.Snapshot, error) {
	s.mu.RLock()
	ses, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	if ses.host == nil {
		return nil, fmt.Errorf("session %s has no browser host", sessionID)
	}
	return ses.host.Scan(ctx)
}

func (s *server) sinks() []tracker.Sink {
	var sinks []tracker.Sink
	if s.cfg.Sinks.Stdout {
		sinks = append(sinks, tracker.NewStdoutSink(os.Stdout))
	}
	if s.cfg.Sinks.WebhookURL != "" {
		sinks = append(sinks, tracker.NewWebhookSink(s.cfg.Sinks.WebhookURL, s.logger))
	}
	return sinks
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		PageURL   string `json:"page_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cfg := s.cfg.Tracker
	cfg.SessionID = req.SessionID
	cfg.PageURL = req.PageURL

	var host *rodhost.Host
	opts := []tracker.Option{tracker.WithLogger(s.logger), tracker.WithSinks(s.sinks()...)}
	if s.db != nil {
		opts = append(opts, tracker.WithDB(s.db))
	}
	if s.browser != nil && req.PageURL != "" {
		var err error
		host, err = rodhost.Open(r.Context(), s.browser, req.PageURL, cfg.SessionID, s.logger)
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		opts = append(opts, tracker.WithResolver(host.Resolver()))
	}

	tr, err := tracker.New(cfg, opts...)
	if err != nil {
		if host != nil {
			host.Close()
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if host != nil {
		snap, err := host.Scan(r.Context())
		if err != nil {
			s.logger.Warn("server: initial scan failed", "session", tr.SessionID(), "error", err)
		} else if err := tr.Resync(snap); err != nil {
			s.logger.Warn("server: initial resync failed", "session", tr.SessionID(), "error", err)
		}
	}

	s.mu.Lock()
	s.sessions[tr.SessionID()] = &session{tr: tr, host: host}
	s.mu.Unlock()
	s.logger.Info("server: session created",
		"session", tr.SessionID(), "url", req.PageURL, "browser", host != nil)

	writeJSON(w, http.StatusCreated, map[string]any{"session_id": tr.SessionID()})
}

func (s *server) handleBatch(w http.ResponseWriter, r *http.Request) {
	tr, ok := s.lookup(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, errSessionUnknown)
		return
	}
	var batch mutation.Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := tr.Ingest(batch); err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *server) handleResync(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	tr, ok := s.lookup(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, errSessionUnknown)
		return
	}

	var snap *mutation.Snapshot
	if r.ContentLength > 0 {
		snap = &mutation.Snapshot{}
		if err := json.NewDecoder(r.Body).Decode(snap); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	} else {
		// No body: rescan through the browser host.
		var err error
		snap, err = s.scan(r.Context(), sessionID)
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
	}
	if err := tr.Resync(snap); err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_count": snap.NodeCount,
		"max_depth":  snap.MaxDepth,
	})
}

func (s *server) handleElements(w http.ResponseWriter, r *http.Request) {
	tr, ok := s.lookup(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, errSessionUnknown)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"elements": tr.Elements()})
}

func (s *server) handleScroll(w http.ResponseWriter, r *http.Request) {
	tr, ok := s.lookup(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, errSessionUnknown)
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := tr.ScrollTo(r.Context(), req.ID); err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	tr, ok := s.lookup(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, errSessionUnknown)
		return
	}
	writeJSON(w, http.StatusOK, tr.Diagnostics())
}

func (s *server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s.mu.Lock()
	ses, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, errSessionUnknown)
		return
	}
	if err := ses.tr.Close(r.Context()); err != nil {
		s.logger.Warn("server: close tracker", "session", sessionID, "error", err)
	}
	if ses.host != nil {
		if err := ses.host.Close(); err != nil {
			s.logger.Warn("server: close host", "session", sessionID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"closed": true})
}

// closeAll shuts down every session; used on daemon exit.
func (s *server) closeAll(ctx context.Context) {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()
	for id, ses := range sessions {
		if err := ses.tr.Close(ctx); err != nil {
			s.logger.Warn("server: close tracker", "session", id, "error", err)
		}
		if ses.host != nil {
			ses.host.Close()
		}
	}
}

var errSessionUnknown = errors.New("unknown session")

func writeTrackerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tracker.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, tracker.ErrDetached):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, tracker.ErrClosed):
		writeError(w, http.StatusGone, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
