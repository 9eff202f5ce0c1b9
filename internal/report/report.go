// Package report writes the flat key=value stat files that scheduled runs
// leave behind for the surrounding automation to pick up.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	syncFileName    = "sync_stats.txt"
	archiveFileName = "archive_stats.txt"
)

// SyncStats summarizes one reconcile pass.
type SyncStats struct {
	NewURLs     int
	RemovedURLs int
}

// ArchiveStats summarizes one submission pass.
type ArchiveStats struct {
	NewArchives     int
	AlreadyArchived int
	Failed          int
	BudgetExhausted bool
}

// WriteSync writes sync_stats.txt into dir, replacing any previous file.
func WriteSync(dir string, stats SyncStats) error {
	var b strings.Builder
	fmt.Fprintf(&b, "new_urls=%d\n", stats.NewURLs)
	fmt.Fprintf(&b, "removed_urls=%d\n", stats.RemovedURLs)
	return writeFile(dir, syncFileName, b.String())
}

// WriteArchive writes archive_stats.txt into dir, replacing any previous
// file. It is rewritten as the run progresses so a crashed run still leaves
// its last known counts behind.
func WriteArchive(dir string, stats ArchiveStats) error {
	var b strings.Builder
	fmt.Fprintf(&b, "new_archives=%d\n", stats.NewArchives)
	fmt.Fprintf(&b, "already_archived=%d\n", stats.AlreadyArchived)
	fmt.Fprintf(&b, "failed=%d\n", stats.Failed)
	fmt.Fprintf(&b, "budget_exhausted=%s\n", strconv.FormatBool(stats.BudgetExhausted))
	return writeFile(dir, archiveFileName, b.String())
}

func writeFile(dir, name, content string) error {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
