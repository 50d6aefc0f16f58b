// Command domtrack is the DOM element identity daemon. It keeps stable
// logical IDs for interactive elements of monitored pages so external
// consumers (automation layers, LLM agents) can reference "the same button"
// across re-renders.
//
// Usage:
//
//	domtrack -config domtrack.yaml           # run with config file
//	domtrack -listen :8089                   # run with defaults
//	domtrack -config domtrack.yaml -mcp      # also serve MCP on stdio
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-rod/rod"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/domtrack/dbopen"
	"github.com/hazyhaar/domtrack/tracker"
)

func main() {
	configPath := flag.String("config", "", "path to domtrack.yaml config file")
	listen := flag.String("listen", "", "HTTP bind address (overrides config)")
	mcpStdio := flag.Bool("mcp", false, "serve MCP tools on stdio")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *listen, *mcpStdio); err != nil {
		logger.Error("domtrack: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, listen string, mcpStdio bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(tracker.Schema))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	swept, err := tracker.SweepOrphans(ctx, db)
	if err != nil {
		return fmt.Errorf("sweep orphans: %w", err)
	}
	if swept > 0 {
		logger.Info("domtrack: swept orphaned elements", "count", swept)
	}

	var browser *rod.Browser
	if cfg.Browser.ControlURL != "" {
		browser = rod.New().ControlURL(cfg.Browser.ControlURL).Context(ctx)
		if err := browser.Connect(); err != nil {
			return fmt.Errorf("connect browser %s: %w", cfg.Browser.ControlURL, err)
		}
		logger.Info("domtrack: browser connected", "url", cfg.Browser.ControlURL)
	}

	srv := newServer(cfg, logger, db, browser)
	defer srv.closeAll(context.Background())

	if mcpStdio {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "domtrack",
			Version: "1.0.0",
		}, nil)
		tracker.RegisterMCP(mcpSrv, tracker.MCPDeps{
			Lookup: srv.lookup,
			Scan:   srv.scan,
		})
		go func() {
			logger.Info("domtrack: MCP stdio starting")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("domtrack: MCP stdio", "error", err)
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("domtrack: HTTP starting", "addr", cfg.Listen, "auth", cfg.Auth.PasswordHash != "")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("domtrack: HTTP shutdown", "error", err)
	}
	logger.Info("domtrack: stopped")
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
