// Package reconciler diffs the live bucket listing against the persisted
// catalog, appending newly seen files and marking vanished ones as removed.
package reconciler

import (
	"fmt"

	"github.com/cavefire/Tapo-Directory/internal/bucket"
	"github.com/cavefire/Tapo-Directory/internal/catalog"
)

// Options control one reconcile pass.
type Options struct {
	// InitialCrawl suppresses removal marking. On a brand-new catalog,
	// "absent from the catalog" says nothing about the bucket.
	InitialCrawl bool
}

// Stats summarizes one reconcile pass.
type Stats struct {
	Added   int // paths observed for the first time
	Removed int // paths newly marked removed
	Live    int // files in the live listing
	Total   int // catalog rows after the pass
}

// Reconcile merges the live listing into the catalog in place.
//
// Known paths get creation and size refreshed, unknown paths are appended
// with added set to today, and catalog rows absent from the listing are
// marked removed. Rows are never reordered or deleted, and a removed mark
// stays even if the path later reappears.
func Reconcile(table *catalog.Table, live []bucket.Object, today string, opts Options) (Stats, error) {
	stats := Stats{Live: len(live)}

	seen := make(map[string]struct{}, len(live))
	for _, obj := range live {
		seen[obj.Path] = struct{}{}

		if entry, ok := table.Lookup(obj.Path); ok {
			entry.Creation = obj.Created.UTC()
			entry.Size = obj.Size
			continue
		}
		err := table.Append(&catalog.Entry{
			Creation: obj.Created.UTC(),
			Size:     obj.Size,
			FullPath: obj.Path,
			Added:    today,
		})
		if err != nil {
			return Stats{}, fmt.Errorf("append %s: %w", obj.Path, err)
		}
		stats.Added++
	}

	if !opts.InitialCrawl {
		for _, entry := range table.Entries() {
			if _, ok := seen[entry.FullPath]; ok {
				continue
			}
			if entry.MarkRemoved(today) {
				stats.Removed++
			}
		}
	}

	stats.Total = table.Len()
	return stats, nil
}
