// Package toolbox is the client for a remote tool execution backend.
//
// One App holds the backend settings, the HTTP client, the tool catalog and
// the job registry. Front ends (the CLI, the MCP server) construct it once
// and pass it around:
//
//	app, err := toolbox.New(toolbox.WithLogger(logger))
//	if err != nil { ... }
//	defer app.Close(ctx)
//	app.Refresh(ctx)
//	sub, err := app.NewSubmission("clip-raster")
//
// The import graph has one direction: toolbox (root) imports internal/*, and
// internal/* never imports the root package.
package toolbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/toolbox-runner/toolbox/internal/archive"
	"github.com/toolbox-runner/toolbox/internal/backend"
	"github.com/toolbox-runner/toolbox/internal/catalog"
	"github.com/toolbox-runner/toolbox/internal/config"
	"github.com/toolbox-runner/toolbox/internal/jobs"
	"github.com/toolbox-runner/toolbox/internal/telemetry"
)

// App is the application context. Construct with New.
type App struct {
	cfg          config.Config
	client       *backend.Client
	catalog      *catalog.Catalog
	jobs         *jobs.Registry
	store        ArchiveStore
	bucketOnce   sync.Once
	bucketErr    error
	minio        *archive.MinioStore // nil unless archives go to S3
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New builds the App. Configuration comes from the environment (and a .env
// file when present) unless WithConfig is given. New does not contact the
// backend; call Refresh to populate the catalog and job list.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	var cfg config.Config
	if o.cfg != nil {
		cfg = *o.cfg
	} else {
		// Non-fatal: production runs without a .env file.
		_ = godotenv.Load()
		var err error
		cfg, err = config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if o.backendURL != "" {
		cfg.BackendURL = o.backendURL
	}

	otelShutdown, err := telemetry.Init(context.Background(), telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
		BackendURL:  cfg.BackendURL,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL:    cfg.BackendURL,
		HTTPClient: o.httpClient,
		Timeout:    cfg.HTTPTimeout,
		Logger:     logger,
	})
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("backend: %w", err)
	}

	a := &App{
		cfg:          cfg,
		client:       client,
		catalog:      catalog.New(client, logger),
		jobs:         jobs.New(client, logger),
		store:        o.store,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}

	if a.store == nil {
		if cfg.S3Endpoint != "" {
			ms, err := archive.NewMinioStore(archive.MinioConfig{
				Endpoint:  cfg.S3Endpoint,
				AccessKey: cfg.S3AccessKey,
				SecretKey: cfg.S3SecretKey,
				Region:    cfg.S3Region,
				Bucket:    cfg.S3Bucket,
				UseSSL:    cfg.S3UseSSL,
			})
			if err != nil {
				_ = otelShutdown(context.Background())
				return nil, err
			}
			a.minio = ms
			a.store = ms
		} else {
			a.store = archive.NewFileStore(cfg.ArchiveDir)
		}
	}

	logger.Info("toolbox ready", "version", version, "backend", client.BaseURL())
	return a, nil
}

// Config returns the effective configuration.
func (a *App) Config() config.Config { return a.cfg }

// Version returns the version string given to New.
func (a *App) Version() string { return a.version }

// Logger returns the App's logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Client returns the backend client.
func (a *App) Client() *backend.Client { return a.client }

// Catalog returns the tool catalog.
func (a *App) Catalog() *catalog.Catalog { return a.catalog }

// Jobs returns the job registry.
func (a *App) Jobs() *jobs.Registry { return a.jobs }

// BackendURL returns the backend base URL currently in use.
func (a *App) BackendURL() string { return a.client.BaseURL() }

// Refresh reloads the catalog and the job list in parallel. Both fail open,
// so Refresh never reports an error; inspect Catalog().Err() and
// Jobs().Err() for the cause of an empty view.
func (a *App) Refresh(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.catalog.Refresh(gctx)
		return nil
	})
	g.Go(func() error {
		a.jobs.Refresh(gctx)
		return nil
	})
	_ = g.Wait()
}

// SetBackendURL points the App at another backend and reloads the job list
// from it. The catalog is left alone until the next Refresh.
func (a *App) SetBackendURL(ctx context.Context, raw string) error {
	if err := a.client.SetBaseURL(raw); err != nil {
		return err
	}
	a.cfg.BackendURL = a.client.BaseURL()
	a.logger.Info("backend url changed", "backend", a.cfg.BackendURL)
	a.jobs.Refresh(ctx)
	return nil
}

// Run polls the job list every PollInterval until ctx is done.
func (a *App) Run(ctx context.Context) error {
	return a.jobs.Watch(ctx, a.cfg.PollInterval)
}

// Archive copies the results of a completed job into the configured archive
// store (local directory or S3 bucket).
func (a *App) Archive(ctx context.Context, jobID string) (archive.Result, error) {
	if a.minio != nil {
		a.bucketOnce.Do(func() { a.bucketErr = a.minio.EnsureBucket(ctx) })
		if a.bucketErr != nil {
			return archive.Result{}, a.bucketErr
		}
	}
	res, err := archive.NewArchiver(a.jobs, a.store, a.logger).Archive(ctx, jobID)
	telemetry.JobEvent(ctx, "archive", err)
	return res, err
}

// Close flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	return a.otelShutdown(ctx)
}
