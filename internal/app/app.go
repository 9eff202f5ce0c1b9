// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/cavefire/Tapo-Directory/internal/bucket"
	"github.com/cavefire/Tapo-Directory/internal/clock/system"
	"github.com/cavefire/Tapo-Directory/internal/config"
	"github.com/cavefire/Tapo-Directory/internal/history"
	historypg "github.com/cavefire/Tapo-Directory/internal/history/postgres"
	"github.com/cavefire/Tapo-Directory/internal/id/uuid"
	"github.com/cavefire/Tapo-Directory/internal/logging"
	"github.com/cavefire/Tapo-Directory/internal/metrics"
	"github.com/cavefire/Tapo-Directory/internal/monitor"
	gcppublisher "github.com/cavefire/Tapo-Directory/internal/publisher/pubsub"
	"github.com/cavefire/Tapo-Directory/internal/reconciler"
	"github.com/cavefire/Tapo-Directory/internal/submitter"
	"github.com/cavefire/Tapo-Directory/internal/wayback"
)

// App holds the shared services behind the sync and archive commands. It is
// built once at startup and closed by a Cobra hook after the command ends.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	lister    bucket.Lister
	archiver  *wayback.Client
	history   *historypg.Store
	publisher *gcppublisher.Publisher
	monitor   *monitor.Server
	ids       *uuid.Generator
	clock     *system.Clock
}

// Build creates the application's dependencies from cfg, failing fast when a
// configured backend cannot be reached.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	a := &App{
		cfg:    cfg,
		logger: logger,
		ids:    uuid.New(),
		clock:  system.New(),
	}

	a.lister, err = setupLister(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.archiver, err = wayback.NewClient(wayback.Config{
		Endpoint:  cfg.Archive.Endpoint,
		UserAgent: cfg.Archive.UserAgent,
		Timeout:   cfg.ArchiveTimeout(),
	}, logger.Named("wayback"))
	if err != nil {
		return nil, fmt.Errorf("wayback client init failed: %w", err)
	}

	if err := a.setupHistory(ctx); err != nil {
		return nil, err
	}
	if err := a.setupNotify(ctx); err != nil {
		return nil, err
	}

	if cfg.Monitor.Addr != "" {
		a.monitor = monitor.New(cfg.Monitor.Addr, logger.Named("monitor"))
		go a.monitor.Start()
	}

	return a, nil
}

func setupLister(ctx context.Context, cfg config.Config, logger *zap.Logger) (bucket.Lister, error) {
	switch cfg.Bucket.Provider {
	case "s3":
		logger.Info("using s3 listing provider", zap.String("endpoint", cfg.Bucket.Endpoint))
		lister, err := bucket.NewS3Lister(bucket.S3Config{
			Endpoint: cfg.Bucket.Endpoint,
			Prefix:   cfg.Bucket.Prefix,
			PageSize: cfg.Bucket.PageSize,
			Timeout:  cfg.BucketTimeout(),
		}, logger.Named("bucket"))
		if err != nil {
			return nil, fmt.Errorf("s3 lister init failed: %w", err)
		}
		return lister, nil
	case "gcs":
		logger.Info("using gcs listing provider", zap.String("bucket", cfg.Bucket.Name))
		lister, err := bucket.NewGCSLister(ctx, bucket.GCSConfig{
			Bucket: cfg.Bucket.Name,
			Prefix: cfg.Bucket.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs lister init failed: %w", err)
		}
		return lister, nil
	case "file":
		logger.Info("using listing file provider", zap.String("path", cfg.Bucket.ListingFile))
		return bucket.NewFileLister(cfg.Bucket.ListingFile), nil
	default:
		return nil, fmt.Errorf("unknown bucket provider: %s", cfg.Bucket.Provider)
	}
}

func (a *App) setupHistory(ctx context.Context) error {
	switch a.cfg.History.Provider {
	case "postgres":
		store, err := historypg.NewStore(ctx, historypg.StoreConfig{
			DSN:   a.cfg.History.DSN,
			Table: a.cfg.History.Table,
		})
		if err != nil {
			return fmt.Errorf("history store init failed: %w", err)
		}
		a.history = store
		a.logger.Info("run history enabled", zap.String("table", a.cfg.History.Table))
	default:
		a.logger.Info("run history disabled")
	}
	return nil
}

func (a *App) setupNotify(ctx context.Context) error {
	switch a.cfg.Notify.Provider {
	case "pubsub":
		pub, err := gcppublisher.New(ctx, gcppublisher.Config{
			ProjectID: a.cfg.Notify.ProjectID,
			TopicID:   a.cfg.Notify.TopicID,
		})
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.publisher = pub
		a.logger.Info("run digests enabled",
			zap.String("project", a.cfg.Notify.ProjectID),
			zap.String("topic", a.cfg.Notify.TopicID),
		)
	default:
		a.logger.Info("run digests disabled")
	}
	return nil
}

// GetLogger returns the shared zap logger instance.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// SyncRunner builds the catalog reconciliation runner.
func (a *App) SyncRunner(initialCrawl bool) *reconciler.Runner {
	var rec history.Recorder
	if a.history != nil {
		rec = a.history
	}
	var pub reconciler.Publisher
	if a.publisher != nil {
		pub = a.publisher
	}
	return reconciler.NewRunner(a.lister, rec, pub, a.ids, a.clock, reconciler.Config{
		CatalogPath:  a.cfg.Catalog.Path,
		ReportDir:    a.cfg.Report.Dir,
		InitialCrawl: initialCrawl,
		Topic:        a.cfg.Notify.TopicID,
	}, a.logger.Named("sync"))
}

// ArchiveRunner builds the archive submission runner. A budget of zero keeps
// the configured default.
func (a *App) ArchiveRunner(budget time.Duration) *submitter.Runner {
	if budget <= 0 {
		budget = a.cfg.Budget()
	}
	var rec history.Recorder
	if a.history != nil {
		rec = a.history
	}
	var pub submitter.Publisher
	if a.publisher != nil {
		pub = a.publisher
	}
	return submitter.NewRunner(a.archiver, rec, pub, a.ids, a.clock, nil, submitter.Config{
		CatalogPath:       a.cfg.Catalog.Path,
		ReportDir:         a.cfg.Report.Dir,
		PublicBaseURL:     a.cfg.Archive.PublicBaseURL,
		Budget:            budget,
		Delay:             a.cfg.Delay(),
		RateLimitCooldown: a.cfg.Cooldown(),
		Topic:             a.cfg.Notify.TopicID,
	}, a.logger.Named("archive"))
}

// PushMetrics pushes the run's metrics to the configured Pushgateway. It is
// a no-op when no gateway is configured and never fails the run.
func (a *App) PushMetrics(ctx context.Context) {
	if a.cfg.Metrics.PushGateway == "" {
		return
	}
	if err := metrics.PushToGateway(ctx, a.cfg.Metrics.PushGateway, a.cfg.Metrics.Job); err != nil {
		a.logger.Warn("push metrics failed", zap.Error(err))
	}
}

// Close gracefully shuts down all services in the App container.
func (a *App) Close() {
	if a.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.monitor.Shutdown(ctx); err != nil {
			a.logger.Warn("monitor shutdown failed", zap.Error(err))
		}
	}
	if closer, ok := a.lister.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.logger.Warn("lister close failed", zap.Error(err))
		}
	}
	if err := a.publisher.Close(); err != nil {
		a.logger.Warn("pubsub close failed", zap.Error(err))
	}
	a.history.Close()

	// Best effort; stderr sync failures are expected on some platforms.
	_ = a.logger.Sync()
}
