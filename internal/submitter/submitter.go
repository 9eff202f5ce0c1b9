// Package submitter walks the catalog and submits unarchived files to the
// archiving service, bounded by a wall-clock budget.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cavefire/Tapo-Directory/internal/catalog"
	"github.com/cavefire/Tapo-Directory/internal/history"
	"github.com/cavefire/Tapo-Directory/internal/metrics"
	"github.com/cavefire/Tapo-Directory/internal/report"
	"github.com/cavefire/Tapo-Directory/internal/wayback"
)

// errStopRun ends the submission loop early without failing the run.
var errStopRun = errors.New("stop run")

// Archiver submits one URL and returns its snapshot URL.
type Archiver interface {
	Submit(ctx context.Context, pageURL string) (string, error)
}

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
	CatalogPath string
	ReportDir   string
	// PublicBaseURL is the scheme and host the catalog paths hang off.
	PublicBaseURL string
	// Budget bounds the run. It is checked before each submission, never
	// mid-submission, so one in-flight submission may overrun it.
	Budget time.Duration
	// Delay is the politeness pause between submissions.
	Delay time.Duration
	// RateLimitCooldown is how long to back off after an HTTP 429.
	RateLimitCooldown time.Duration
	Topic             string
}

// Stats summarizes one submission pass.
type Stats struct {
	Archived        int // entries archived this run
	Failed          int // submissions that failed this run
	AlreadyArchived int // entries skipped because wayback_url was set
	BudgetExhausted bool
}

// Runner executes one archive pass over the persisted catalog. Every
// successful submission is persisted immediately, so a crash or an exhausted
// budget never loses progress.
type Runner struct {
	archiver  Archiver
	recorder  history.Recorder
	publisher Publisher
	ids       IDGenerator
	clock     Clock
	pauser    Pauser
	cfg       Config
	logger    *zap.Logger
}

// NewRunner constructs a Runner. recorder, publisher and pauser may be nil;
// a nil pauser sleeps on real timers.
func NewRunner(
	archiver Archiver,
	recorder history.Recorder,
	publisher Publisher,
	ids IDGenerator,
	clock Clock,
	pauser Pauser,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = "all_keys.csv"
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "http://download.tplinkcloud.com"
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 5 * time.Minute
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.RateLimitCooldown <= 0 {
		cfg.RateLimitCooldown = time.Minute
	}
	if pauser == nil {
		pauser = &timerPauser{}
	}
	return &Runner{
		archiver:  archiver,
		recorder:  recorder,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		pauser:    pauser,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run performs one archive pass. It returns an error only when the catalog
// cannot be read or written, or when the service is unreachable before any
// entry was archived; partial progress is a success.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	runID, err := r.ids.NewID()
	if err != nil {
		return Stats{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := r.logger.With(zap.String("run_id", runID))
	startedAt := r.clock.Now()

	logger.Info("starting archive run",
		zap.String("catalog", r.cfg.CatalogPath),
		zap.Duration("budget", r.cfg.Budget),
	)

	stats := Stats{}
	table, runErr := catalog.LoadFile(r.cfg.CatalogPath)
	if runErr == nil {
		stats, runErr = r.submitPending(ctx, logger, table)
	}

	r.finish(ctx, logger, runID, startedAt, table, stats, runErr)
	return stats, runErr
}

func (r *Runner) submitPending(ctx context.Context, logger *zap.Logger, table *catalog.Table) (Stats, error) {
	stats := Stats{}
	deadline := r.clock.Now().Add(r.cfg.Budget)

	// Leave a zeroed stats file behind immediately; a crashed run then
	// still reports something coherent.
	if err := r.writeReport(stats); err != nil {
		return stats, err
	}

	for _, entry := range table.Entries() {
		if entry.Archived() {
			stats.AlreadyArchived++
			continue
		}
		if entry.IsRemoved() {
			continue
		}
		if !r.clock.Now().Before(deadline) {
			stats.BudgetExhausted = true
			logger.Info("time budget exhausted",
				zap.Int("archived", stats.Archived),
				zap.Int("failed", stats.Failed),
			)
			break
		}

		if err := r.submitEntry(ctx, logger, table, entry, &stats); err != nil {
			if errors.Is(err, errStopRun) {
				break
			}
			// Keep the on-disk stats consistent with the run history row
			// even when the run aborts.
			if werr := r.writeReport(stats); werr != nil {
				logger.Error("write archive report failed", zap.Error(werr))
			}
			return stats, err
		}
	}

	if err := r.writeReport(stats); err != nil {
		return stats, err
	}
	logger.Info("archive run complete",
		zap.Int("archived", stats.Archived),
		zap.Int("failed", stats.Failed),
		zap.Int("already_archived", stats.AlreadyArchived),
		zap.Bool("budget_exhausted", stats.BudgetExhausted),
	)
	return stats, nil
}

// submitEntry submits one catalog entry. Per-entry failures are contained
// here; a returned error aborts the whole run.
func (r *Runner) submitEntry(
	ctx context.Context,
	logger *zap.Logger,
	table *catalog.Table,
	entry *catalog.Entry,
	stats *Stats,
) error {
	pageURL := r.publicURL(entry.FullPath)
	logger.Debug("submitting url", zap.String("url", pageURL))

	start := r.clock.Now()
	archiveURL, err := r.archiver.Submit(ctx, pageURL)
	duration := r.clock.Now().Sub(start)

	switch {
	case err == nil:
		entry.SetWaybackURL(archiveURL)
		stats.Archived++
		metrics.ObserveSubmission(metrics.OutcomeArchived, duration)
		logger.Info("archived",
			zap.String("url", pageURL),
			zap.String("wayback_url", archiveURL),
		)
		// Persist progress before anything else can go wrong.
		if err := catalog.SaveFile(r.cfg.CatalogPath, table); err != nil {
			return err
		}
		if err := r.writeReport(*stats); err != nil {
			return err
		}
		r.pauser.Pause(ctx, r.cfg.Delay)
		return nil

	case errors.Is(err, wayback.ErrRateLimited):
		stats.Failed++
		metrics.ObserveSubmission(metrics.OutcomeRateLimited, duration)
		logger.Warn("rate limited, cooling down",
			zap.String("url", pageURL),
			zap.Duration("cooldown", r.cfg.RateLimitCooldown),
		)
		r.pauser.Pause(ctx, r.cfg.RateLimitCooldown)
		return nil

	case errors.Is(err, wayback.ErrUnavailable):
		stats.Failed++
		metrics.ObserveSubmission(metrics.OutcomeFailed, duration)
		if stats.Archived == 0 {
			return fmt.Errorf("submit %s: %w", pageURL, err)
		}
		// Partial progress is already persisted; report success and let
		// the next scheduled run pick up the rest.
		logger.Warn("archive service became unreachable, stopping early",
			zap.String("url", pageURL),
			zap.Error(err),
		)
		return errStopRun

	case ctx.Err() != nil:
		return fmt.Errorf("submit %s: %w", pageURL, err)

	default:
		stats.Failed++
		metrics.ObserveSubmission(metrics.OutcomeFailed, duration)
		logger.Error("submission failed",
			zap.String("url", pageURL),
			zap.Error(err),
		)
		r.pauser.Pause(ctx, r.cfg.Delay)
		return nil
	}
}

func (r *Runner) publicURL(fullpath string) string {
	return strings.TrimRight(r.cfg.PublicBaseURL, "/") + "/" + fullpath
}

func (r *Runner) writeReport(stats Stats) error {
	return report.WriteArchive(r.cfg.ReportDir, report.ArchiveStats{
		NewArchives:     stats.Archived,
		AlreadyArchived: stats.AlreadyArchived,
		Failed:          stats.Failed,
		BudgetExhausted: stats.BudgetExhausted,
	})
}

func (r *Runner) finish(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	startedAt time.Time,
	table *catalog.Table,
	stats Stats,
	runErr error,
) {
	finishedAt := r.clock.Now()
	metrics.ObserveRun(history.KindArchive, finishedAt.Sub(startedAt))

	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	catalogSize := 0
	if table != nil {
		catalogSize = table.Len()
	}

	if r.recorder != nil {
		record := history.RunRecord{
			ID:              runID,
			Kind:            history.KindArchive,
			StartedAt:       startedAt,
			FinishedAt:      finishedAt,
			Archived:        stats.Archived,
			Failed:          stats.Failed,
			Skipped:         stats.AlreadyArchived,
			BudgetExhausted: stats.BudgetExhausted,
			CatalogSize:     catalogSize,
			Error:           errText,
		}
		if err := r.recorder.Record(ctx, record); err != nil {
			logger.Error("record run history failed", zap.Error(err))
		}
	}

	if r.publisher != nil && r.cfg.Topic != "" {
		payload := map[string]any{
			"run_id":           runID,
			"kind":             history.KindArchive,
			"archived":         stats.Archived,
			"failed":           stats.Failed,
			"already_archived": stats.AlreadyArchived,
			"budget_exhausted": stats.BudgetExhausted,
			"error":            errText,
			"finished_at":      finishedAt.Format(time.RFC3339),
		}
		if _, err := r.publisher.Publish(ctx, r.cfg.Topic, payload); err != nil {
			logger.Error("publish run digest failed", zap.Error(err))
		}
	}
}
