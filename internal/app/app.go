// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/runwatch/internal/anchor"
	"github.com/JakeFAU/runwatch/internal/anchor/memory"
	"github.com/JakeFAU/runwatch/internal/anchor/postgres"
	"github.com/JakeFAU/runwatch/internal/anchor/sqlite"
	"github.com/JakeFAU/runwatch/internal/api"
	"github.com/JakeFAU/runwatch/internal/backend"
	"github.com/JakeFAU/runwatch/internal/clock/system"
	"github.com/JakeFAU/runwatch/internal/config"
	"github.com/JakeFAU/runwatch/internal/id/uuid"
	"github.com/JakeFAU/runwatch/internal/progress"
	"github.com/JakeFAU/runwatch/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/runwatch/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/runwatch/internal/publisher/pubsub"
	"github.com/JakeFAU/runwatch/internal/runs"
	gcsstorage "github.com/JakeFAU/runwatch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/runwatch/internal/storage/local"
	memorystorage "github.com/JakeFAU/runwatch/internal/storage/memory"
	"github.com/JakeFAU/runwatch/internal/telemetry"
	"github.com/JakeFAU/runwatch/internal/tracker"
)

// App holds the shared, long-lived services for one runwatch process. It is
// built once per command and closed by the root command's closer.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	backend   *backend.Client
	anchors   *anchor.Resilient
	hub       *progress.Hub
	exports   runs.BlobStore
	publisher runs.Publisher
	tracker   *tracker.Manager

	closers []func(context.Context) error
}

type options struct {
	httpClient *http.Client
	pubsub     *pubsub.Client
	gcs        *storage.Client
	registerer prometheus.Registerer
}

// Option overrides a collaborator that New would otherwise build itself.
type Option func(*options)

// WithHTTPClient sets the client used to reach the backend.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithPubSubClient supplies a ready Pub/Sub client (tests use pstest).
func WithPubSubClient(c *pubsub.Client) Option {
	return func(o *options) { o.pubsub = c }
}

// WithStorageClient supplies a ready GCS client.
func WithStorageClient(c *storage.Client) Option {
	return func(o *options) { o.gcs = c }
}

// WithRegisterer registers event-sink collectors somewhere other than the
// default Prometheus registry.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// New builds every service from cfg. It fails fast when a configured
// dependency cannot be reached, closing whatever it already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			if cerr := a.Close(context.Background()); cerr != nil {
				logger.Warn("cleanup after failed init", zap.Error(cerr))
			}
		}
	}()

	logger.Info("initializing application services")

	if cfg.Tracing.Enabled {
		tp, tErr := telemetry.InitTracerProvider(ctx, cfg.Tracing.ServiceName)
		if tErr != nil {
			return nil, fmt.Errorf("init tracing: %w", tErr)
		}
		a.closers = append(a.closers, tp.Shutdown)
	}

	a.backend, err = backend.New(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.BackendTimeout(),
		Token:   cfg.Backend.Token,
	}, o.httpClient, logger.Named("backend"))
	if err != nil {
		return nil, fmt.Errorf("init backend client: %w", err)
	}

	primary, err := a.openAnchors(ctx)
	if err != nil {
		return nil, fmt.Errorf("init anchor store: %w", err)
	}
	a.anchors = anchor.NewResilient(primary, logger.Named("anchor"))

	a.exports, err = a.openExports(ctx, o.gcs)
	if err != nil {
		return nil, fmt.Errorf("init export storage: %w", err)
	}

	eventSinks, err := a.buildSinks(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("init event sinks: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Events.BufferSize,
		MaxBatchEvents: cfg.Events.MaxBatchEvents,
		MaxBatchWait:   cfg.BatchWait(),
		Logger:         logger.Named("events"),
	}, eventSinks...)
	a.closers = append(a.closers, a.hub.Close)

	trackerCfg, err := cfg.Tracker()
	if err != nil {
		return nil, err
	}
	a.tracker, err = tracker.NewManager(trackerCfg, tracker.Deps{
		Backend: a.backend,
		Anchors: a.anchors,
		Clock:   system.New(),
		Events:  a.hub,
		Tokens:  uuid.New(),
		Logger:  logger.Named("tracker"),
	})
	if err != nil {
		return nil, fmt.Errorf("init tracker: %w", err)
	}
	// Sessions stop before the hub drains so their last events are delivered.
	a.closers = append(a.closers, a.tracker.Close)

	logger.Info("application services initialized",
		zap.String("backend", cfg.Backend.BaseURL),
		zap.String("anchor_driver", cfg.Anchor.Driver),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.Bool("pubsub", cfg.PubSub.Enabled),
	)
	return a, nil
}

func (a *App) openAnchors(ctx context.Context) (anchor.Store, error) {
	switch a.cfg.Anchor.Driver {
	case config.AnchorSQLite:
		s, err := sqlite.Open(a.cfg.Anchor.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		a.logger.Info("using sqlite anchor store", zap.String("path", a.cfg.Anchor.Path))
		return s, nil
	case config.AnchorPostgres:
		s, err := postgres.New(ctx, postgres.Config{
			DSN:             a.cfg.Anchor.DSN,
			Table:           a.cfg.Anchor.Table,
			MaxConns:        a.cfg.Anchor.MaxConns,
			MaxConnLifetime: 30 * time.Minute,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error {
			s.Close()
			return nil
		})
		a.logger.Info("using postgres anchor store", zap.String("table", a.cfg.Anchor.Table))
		return s, nil
	case config.AnchorMemory:
		a.logger.Info("using in-memory anchor store; elapsed time resets on restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown anchor driver %q", a.cfg.Anchor.Driver)
	}
}

func (a *App) openExports(ctx context.Context, client *storage.Client) (runs.BlobStore, error) {
	switch a.cfg.Storage.Driver {
	case config.StorageLocal:
		return localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
	case config.StorageGCS:
		if client == nil {
			c, err := storage.NewClient(ctx)
			if err != nil {
				return nil, fmt.Errorf("create storage client: %w", err)
			}
			client = c
			a.closers = append(a.closers, func(context.Context) error { return c.Close() })
		}
		// storage.prefix is applied per export key, not as a bucket prefix.
		return gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
	case config.StorageMemory:
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
}

func (a *App) buildSinks(ctx context.Context, o options) ([]progress.Sink, error) {
	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return nil, err
	}
	out := []progress.Sink{sinks.NewLogSink(a.logger.Named("progress")), promSink}
	if !a.cfg.PubSub.Enabled {
		return out, nil
	}

	switch {
	case a.cfg.PubSub.DryRun:
		a.logger.Info("pubsub dry run: run-finished notifications stay in memory")
		a.publisher = memorypublisher.New()
	default:
		client := o.pubsub
		if client == nil {
			c, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
			if err != nil {
				return nil, fmt.Errorf("create pubsub client: %w", err)
			}
			client = c
			a.closers = append(a.closers, func(context.Context) error { return c.Close() })
		}
		p := pubsubpublisher.New(client, a.cfg.PubSub.TopicName)
		a.closers = append(a.closers, func(context.Context) error {
			p.Close()
			return nil
		})
		a.publisher = p
	}
	pubSink, err := sinks.NewPublishSink(a.publisher, a.cfg.PubSub.TopicName, a.logger.Named("publish"))
	if err != nil {
		return nil, err
	}
	return append(out, pubSink), nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Backend exposes the orchestrator client, which also lists and creates runs.
func (a *App) Backend() *backend.Client {
	return a.backend
}

// Anchors returns the resilient anchor store shared by every session.
func (a *App) Anchors() *anchor.Resilient {
	return a.anchors
}

// Exports returns the configured export destination.
func (a *App) Exports() runs.BlobStore {
	return a.exports
}

// Publisher returns the run-finished publisher, or nil when disabled.
func (a *App) Publisher() runs.Publisher {
	return a.publisher
}

// Tracker returns the session manager.
func (a *App) Tracker() *tracker.Manager {
	return a.tracker
}

// NewSession builds a standalone session sharing the app's collaborators.
// The CLI uses it to watch a single run in the foreground.
func (a *App) NewSession(runID int64) (*tracker.Session, error) {
	trackerCfg, err := a.cfg.Tracker()
	if err != nil {
		return nil, err
	}
	return tracker.NewSession(runID, trackerCfg, tracker.Deps{
		Backend: a.backend,
		Anchors: a.anchors,
		Clock:   system.New(),
		Events:  a.hub,
		Tokens:  uuid.New(),
		Logger:  a.logger.Named("tracker"),
	})
}

// APIServer builds the HTTP API over the app's tracker.
func (a *App) APIServer() *api.Server {
	opts := api.Options{
		Tracker:        a.tracker,
		Health:         a.backend,
		Exports:        a.exports,
		ExportPrefix:   a.cfg.Storage.Prefix,
		RequestTimeout: a.cfg.RequestTimeout(),
		Logger:         a.logger.Named("api"),
	}
	if a.cfg.Auth.Enabled {
		opts.APIKey = a.cfg.Auth.APIKey
	}
	return api.NewServer(opts)
}

// Close shuts services down in reverse order of construction.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("shutting down application services")
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
