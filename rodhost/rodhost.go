// Package rodhost adapts a go-rod Chrome page to the tracking engine: full
// page scans become mutation snapshots, tracked elements get live handles,
// and an injected addEventListener wrapper provides the handler-evidence
// hint the fingerprinter scores. The engine itself never imports rod; this
// package is the only bridge.
package rodhost

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/domtrack/dom"
	"github.com/hazyhaar/domtrack/idgen"
	"github.com/hazyhaar/domtrack/mutation"
)

//go:embed hook.js
var hookJS string

//go:embed scan.js
var scanJS string

var snapshotID = idgen.Prefixed("snap_", idgen.UUIDv7())

// Host binds one browser page to one tracking session.
type Host struct {
	page      *rod.Page
	sessionID string
	logger    *slog.Logger
}

// Open creates a stealth page, installs the handler hook, and navigates.
// The hook must land before page scripts run, so it goes in as an
// evaluate-on-new-document script.
func Open(ctx context.Context, b *rod.Browser, pageURL, sessionID string, logger *slog.Logger) (*Host, error) {
	if logger == nil {
		logger = slog.Default()
	}
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("rodhost: create page: %w", err)
	}
	if _, err := page.EvalOnNewDocument("(" + hookJS + ")();"); err != nil {
		logger.Warn("rodhost: install handler hook", "error", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("rodhost: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		logger.Warn("rodhost: wait load timeout", "url", pageURL, "error", err)
	}

	return &Host{page: page, sessionID: sessionID, logger: logger}, nil
}

// Attach wraps an already-open page. The handler hook is injected
// immediately; listeners attached before this point are invisible to it.
func Attach(page *rod.Page, sessionID string, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := page.Eval(hookJS); err != nil {
		logger.Warn("rodhost: install handler hook", "error", err)
	}
	return &Host{page: page, sessionID: sessionID, logger: logger}
}

// Page exposes the underlying rod page.
func (h *Host) Page() *rod.Page { return h.page }

// SessionID returns the tracking session this host serves.
func (h *Host) SessionID() string { return h.sessionID }

// Scan serialises the page into a full snapshot.
func (h *Host) Scan(ctx context.Context) (*mutation.Snapshot, error) {
	res, err := h.page.Context(ctx).Eval(scanJS)
	if err != nil {
		return nil, fmt.Errorf("rodhost: scan eval: %w", err)
	}
	var payload struct {
		Root      *mutation.Node `json:"root"`
		NodeCount int            `json:"node_count"`
		MaxDepth  int            `json:"max_depth"`
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), &payload); err != nil {
		return nil, fmt.Errorf("rodhost: scan decode: %w", err)
	}
	snap := &mutation.Snapshot{
		ID:        snapshotID(),
		SessionID: h.sessionID,
		Root:      payload.Root,
		NodeCount: payload.NodeCount,
		MaxDepth:  payload.MaxDepth,
		Timestamp: time.Now().UnixMilli(),
	}
	h.logger.Debug("rodhost: scan",
		"session", h.sessionID, "nodes", snap.NodeCount, "depth", snap.MaxDepth)
	return snap, nil
}

// Resolver returns a handle factory for the tracker. Handles are lazy;
// nothing touches the page until Attached or ScrollIntoView is called.
func (h *Host) Resolver() dom.Resolver {
	return func(xpath string) dom.Handle {
		return &Handle{page: h.page, xpath: xpath}
	}
}

// Close closes the underlying page.
func (h *Host) Close() error {
	if err := h.page.Close(); err != nil {
		return fmt.Errorf("rodhost: close page: %w", err)
	}
	return nil
}

// Handle is a live-node reference backed by XPath lookup on the page.
type Handle struct {
	page  *rod.Page
	xpath string
}

var _ dom.Handle = (*Handle)(nil)

// Attached reports whether the XPath still resolves to a node.
func (h *Handle) Attached() bool {
	els, err := h.page.ElementsX(h.xpath)
	return err == nil && len(els) > 0
}

// ScrollIntoView scrolls the page to the node.
func (h *Handle) ScrollIntoView(ctx context.Context) error {
	els, err := h.page.Context(ctx).ElementsX(h.xpath)
	if err != nil {
		return fmt.Errorf("rodhost: resolve %s: %w", h.xpath, err)
	}
	if len(els) == 0 {
		return fmt.Errorf("rodhost: node %s no longer resolves", h.xpath)
	}
	if err := els.First().Context(ctx).ScrollIntoView(); err != nil {
		return fmt.Errorf("rodhost: scroll %s: %w", h.xpath, err)
	}
	return nil
}
