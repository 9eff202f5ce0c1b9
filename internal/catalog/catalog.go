// Package catalog models the persisted table of every object ever observed
// on the download bucket, keyed by fullpath, together with its CSV codec.
package catalog

import (
	"fmt"
	"time"
)

// DateLayout is the format for the added/removed columns.
const DateLayout = "2006-01-02"

// creationLayout matches the bucket listing timestamps persisted by earlier
// versions of the catalog, so an existing file round-trips byte-identical.
const creationLayout = "2006-01-02 15:04:05"

// Entry is one catalog row. FullPath is the identity key; Added is set once
// at first observation; Removed and WaybackURL start empty and are set at
// most once. Creation and Size are refreshed on every sync while the path is
// still present in the live listing.
type Entry struct {
	Creation   time.Time
	Size       int64
	FullPath   string
	Added      string
	Removed    string
	WaybackURL string
}

// Archived reports whether the entry already has a permanent archive URL.
func (e *Entry) Archived() bool {
	return e.WaybackURL != ""
}

// IsRemoved reports whether the path has disappeared from the live listing.
func (e *Entry) IsRemoved() bool {
	return e.Removed != ""
}

// MarkRemoved records the date the path was first found absent. It returns
// false without modifying the entry when the removal date is already set.
func (e *Entry) MarkRemoved(date string) bool {
	if e.Removed != "" {
		return false
	}
	e.Removed = date
	return true
}

// SetWaybackURL records the archive URL returned by a successful submission.
// It returns false without modifying the entry when a URL is already set, so
// an archived entry is never overwritten.
func (e *Entry) SetWaybackURL(url string) bool {
	if e.WaybackURL != "" || url == "" {
		return false
	}
	e.WaybackURL = url
	return true
}

// Table is the in-memory catalog: an ordered sequence of entries with a
// fullpath index. Row order is insertion order and is preserved across
// load/save cycles; rows are never deleted.
type Table struct {
	entries []*Entry
	byPath  map[string]*Entry
}

// NewTable returns an empty catalog table.
func NewTable() *Table {
	return &Table{byPath: make(map[string]*Entry)}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.entries)
}

// Entries returns the rows in catalog order. The slice is shared with the
// table; callers may mutate entries but must not reorder or grow it.
func (t *Table) Entries() []*Entry {
	return t.entries
}

// Lookup returns the entry for fullpath, if present.
func (t *Table) Lookup(fullpath string) (*Entry, bool) {
	e, ok := t.byPath[fullpath]
	return e, ok
}

// Append adds a new row at the end of the table. Fullpath uniqueness is the
// catalog's identity invariant, so a duplicate is rejected.
func (t *Table) Append(e *Entry) error {
	if e.FullPath == "" {
		return fmt.Errorf("append catalog entry: empty fullpath")
	}
	if _, exists := t.byPath[e.FullPath]; exists {
		return fmt.Errorf("append catalog entry: duplicate fullpath %q", e.FullPath)
	}
	t.entries = append(t.entries, e)
	t.byPath[e.FullPath] = e
	return nil
}
