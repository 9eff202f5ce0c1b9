package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ErrCorrupt marks a persisted catalog that cannot be parsed. Runs abort on
// it before touching any external service, so a damaged file is never
// silently rewritten.
var ErrCorrupt = errors.New("catalog corrupt")

// header is the external file contract: exact column order, always present.
var header = []string{"creation", "size", "fullpath", "added", "removed", "wayback_url"}

// Read parses a catalog from CSV. Structural problems (wrong header, bad
// column count, unparseable size or creation, duplicate fullpath) are
// reported as ErrCorrupt.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: missing header row", ErrCorrupt)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrCorrupt, err)
	}
	for i, name := range header {
		if head[i] != name {
			return nil, fmt.Errorf("%w: header column %d is %q, want %q", ErrCorrupt, i, head[i], name)
		}
	}

	t := NewTable()
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return t, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCorrupt, line, err)
		}
		entry, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCorrupt, line, err)
		}
		if err := t.Append(entry); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCorrupt, line, err)
		}
	}
}

func parseRow(row []string) (*Entry, error) {
	creation, err := time.ParseInLocation(creationLayout, row[0], time.UTC)
	if err != nil {
		return nil, fmt.Errorf("creation %q: %v", row[0], err)
	}
	size, err := strconv.ParseInt(row[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("size %q: %v", row[1], err)
	}
	if size < 0 {
		return nil, fmt.Errorf("size %d is negative", size)
	}
	if row[2] == "" {
		return nil, fmt.Errorf("empty fullpath")
	}
	return &Entry{
		Creation:   creation,
		Size:       size,
		FullPath:   row[2],
		Added:      row[3],
		Removed:    row[4],
		WaybackURL: row[5],
	}, nil
}

// Write serializes the catalog, header first, rows in catalog order. Empty
// strings stand for the unset removed/wayback_url states.
func Write(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write catalog header: %w", err)
	}
	for _, e := range t.Entries() {
		row := []string{
			e.Creation.UTC().Format(creationLayout),
			strconv.FormatInt(e.Size, 10),
			e.FullPath,
			e.Added,
			e.Removed,
			e.WaybackURL,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write catalog row %s: %w", e.FullPath, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush catalog: %w", err)
	}
	return nil
}

// LoadFile reads the catalog at path. A missing file is returned as-is via
// os.Open so callers can distinguish "no catalog yet" from corruption.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// SaveFile replaces the catalog at path atomically: the new contents go to a
// temporary file in the same directory which is then renamed over the old
// one, so a failed run can never leave a half-written catalog behind.
func SaveFile(path string, t *Table) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create catalog dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create catalog temp file: %w", err)
	}
	if err := Write(tmp, t); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync catalog temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close catalog temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace catalog %s: %w", path, err)
	}
	return nil
}
