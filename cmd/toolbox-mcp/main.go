package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/toolbox-runner/toolbox"
	"github.com/toolbox-runner/toolbox/internal/config"
	"github.com/toolbox-runner/toolbox/internal/mcp"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Non-fatal: production runs without a .env file.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	// Over stdio, stdout carries the protocol; logs go to stderr.
	var logOut io.Writer = os.Stdout
	if cfg.MCPAddr == "" {
		logOut = os.Stderr
	}
	level := slog.LevelInfo
	if cfg.Debug() {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	app, err := toolbox.New(
		toolbox.WithConfig(cfg),
		toolbox.WithLogger(logger),
		toolbox.WithVersion(version),
	)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	app.Refresh(ctx)
	if err := app.Catalog().Err(); err != nil {
		logger.Warn("backend unreachable at startup; catalog is empty", "backend", app.BackendURL(), "error", err)
	}

	srv := mcp.New(app.Catalog(), app.Jobs(), app, logger, version)

	// The job poller stops when the transport does (stdin closed, signal).
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return app.Run(gctx) })
	g.Go(func() error {
		defer stop()
		if cfg.MCPAddr == "" {
			logger.Info("mcp: serving over stdio", "version", version)
			err := mcpserver.NewStdioServer(srv.MCPServer()).Listen(gctx, os.Stdin, os.Stdout)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		return serveHTTP(gctx, cfg.MCPAddr, srv, logger)
	})
	return g.Wait()
}

func serveHTTP(ctx context.Context, addr string, srv *mcp.Server, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(srv.MCPServer()))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"ok","version":"`+version+`"}`)
	})

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mcp: serving streamable http", "addr", addr, "path", "/mcp", "version", version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("mcp http: %w", err)
		}
	}

	logger.Info("mcp: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
