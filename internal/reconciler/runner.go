package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"go.uber.org/zap"

	"github.com/cavefire/Tapo-Directory/internal/bucket"
	"github.com/cavefire/Tapo-Directory/internal/catalog"
	"github.com/cavefire/Tapo-Directory/internal/history"
	"github.com/cavefire/Tapo-Directory/internal/metrics"
	"github.com/cavefire/Tapo-Directory/internal/report"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator mints run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Publisher pushes run digests to interested subscribers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Config controls Runner behavior.
type Config struct {
	CatalogPath  string
	ReportDir    string
	InitialCrawl bool
	Topic        string
}

// Runner executes one full sync pass: load the catalog, fetch the live
// listing, reconcile, persist, report.
type Runner struct {
	lister    bucket.Lister
	recorder  history.Recorder
	publisher Publisher
	ids       IDGenerator
	clock     Clock
	cfg       Config
	logger    *zap.Logger
}

// NewRunner constructs a Runner. recorder and publisher may be nil when run
// history or digests are not configured.
func NewRunner(
	lister bucket.Lister,
	recorder history.Recorder,
	publisher Publisher,
	ids IDGenerator,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = "all_keys.csv"
	}
	return &Runner{
		lister:    lister,
		recorder:  recorder,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run performs one sync pass. The persisted catalog is replaced atomically
// on success and left untouched on any failure.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	runID, err := r.ids.NewID()
	if err != nil {
		return Stats{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := r.logger.With(zap.String("run_id", runID))
	startedAt := r.clock.Now()

	logger.Info("starting sync run", zap.String("catalog", r.cfg.CatalogPath))
	stats, runErr := r.run(ctx, logger)

	r.finish(ctx, logger, runID, startedAt, stats, runErr)
	return stats, runErr
}

func (r *Runner) run(ctx context.Context, logger *zap.Logger) (Stats, error) {
	table, err := r.loadCatalog(logger)
	if err != nil {
		return Stats{}, err
	}

	live, err := r.lister.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	logger.Debug("fetched live listing", zap.Int("objects", len(live)))

	initial := r.cfg.InitialCrawl
	if !initial && table.Len() == 0 {
		logger.Info("catalog is empty, treating run as initial crawl")
		initial = true
	}

	today := r.clock.Now().UTC().Format(catalog.DateLayout)
	stats, err := Reconcile(table, live, today, Options{InitialCrawl: initial})
	if err != nil {
		return Stats{}, err
	}

	if err := catalog.SaveFile(r.cfg.CatalogPath, table); err != nil {
		return Stats{}, err
	}
	if err := report.WriteSync(r.cfg.ReportDir, report.SyncStats{
		NewURLs:     stats.Added,
		RemovedURLs: stats.Removed,
	}); err != nil {
		return Stats{}, err
	}

	logger.Info("sync run complete",
		zap.Int("added", stats.Added),
		zap.Int("removed", stats.Removed),
		zap.Int("live", stats.Live),
		zap.Int("catalog_size", stats.Total),
	)
	return stats, nil
}

// loadCatalog reads the persisted catalog. A missing file is the first run,
// not an error; anything unreadable or unparseable aborts before the bucket
// is contacted.
func (r *Runner) loadCatalog(logger *zap.Logger) (*catalog.Table, error) {
	table, err := catalog.LoadFile(r.cfg.CatalogPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("no catalog found, starting fresh")
		return catalog.NewTable(), nil
	}
	if err != nil {
		return nil, err
	}
	logger.Debug("loaded catalog", zap.Int("rows", table.Len()))
	return table, nil
}

func (r *Runner) finish(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	startedAt time.Time,
	stats Stats,
	runErr error,
) {
	finishedAt := r.clock.Now()
	metrics.ObserveRun(history.KindSync, finishedAt.Sub(startedAt))
	if runErr == nil {
		metrics.ObserveSync(stats.Added, stats.Removed, stats.Total)
	}

	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}

	if r.recorder != nil {
		record := history.RunRecord{
			ID:          runID,
			Kind:        history.KindSync,
			StartedAt:   startedAt,
			FinishedAt:  finishedAt,
			Added:       stats.Added,
			Removed:     stats.Removed,
			CatalogSize: stats.Total,
			Error:       errText,
		}
		if err := r.recorder.Record(ctx, record); err != nil {
			logger.Error("record run history failed", zap.Error(err))
		}
	}

	if r.publisher != nil && r.cfg.Topic != "" {
		payload := map[string]any{
			"run_id":       runID,
			"kind":         history.KindSync,
			"added":        stats.Added,
			"removed":      stats.Removed,
			"catalog_size": stats.Total,
			"error":        errText,
			"finished_at":  finishedAt.Format(time.RFC3339),
		}
		if _, err := r.publisher.Publish(ctx, r.cfg.Topic, payload); err != nil {
			logger.Error("publish run digest failed", zap.Error(err))
		}
	}
}
