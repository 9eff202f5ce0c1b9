// Package history defines the audit record written after each run.
package history

import (
	"context"
	"time"
)

// Run kinds.
const (
	KindSync    = "sync"
	KindArchive = "archive"
)

// RunRecord is the audit row for one finished run.
type RunRecord struct {
	ID              string
	Kind            string
	StartedAt       time.Time
	FinishedAt      time.Time
	Added           int
	Removed         int
	Archived        int
	Failed          int
	Skipped         int
	BudgetExhausted bool
	CatalogSize     int
	Error           string
}

// Recorder persists run records.
type Recorder interface {
	Record(ctx context.Context, record RunRecord) error
}
