package bucket

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// listingTimeLayout matches the date and time columns of `aws s3 ls`.
const listingTimeLayout = "2006-01-02 15:04:05"

// FileLister reads a saved `aws s3 ls --recursive` listing from disk instead
// of calling the bucket, for offline runs and replaying captured listings.
type FileLister struct {
	path string
}

// NewFileLister returns a lister for the listing file at path.
func NewFileLister(path string) *FileLister {
	return &FileLister{path: path}
}

// List parses the listing file. Blank lines are ignored and folder markers
// are skipped; any other malformed line rejects the whole listing.
func (l *FileLister) List(ctx context.Context) ([]Object, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open listing file: %v", ErrUnavailable, err)
	}
	defer f.Close()

	var objects []Object
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		obj, skip, err := parseListingLine(text)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrUnavailable, line, err)
		}
		if skip {
			continue
		}
		objects = append(objects, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read listing file: %v", ErrUnavailable, err)
	}
	return objects, nil
}

// parseListingLine splits one listing line of the form
//
//	2016-03-08 11:42:49    4154 firmware/tapo/Tapo C200 1.0.bin
//
// into an Object. The path is everything after the size column and may
// contain spaces.
func parseListingLine(line string) (Object, bool, error) {
	rest := line
	var cols [3]string
	for i := range cols {
		cut := strings.IndexAny(rest, " \t")
		if cut < 0 {
			return Object{}, false, fmt.Errorf("malformed listing line %q", line)
		}
		cols[i] = rest[:cut]
		rest = strings.TrimLeft(rest[cut:], " \t")
	}
	path := rest
	if path == "" {
		return Object{}, false, fmt.Errorf("malformed listing line %q", line)
	}
	if isFolderKey(path) {
		return Object{}, true, nil
	}

	created, err := time.ParseInLocation(listingTimeLayout, cols[0]+" "+cols[1], time.UTC)
	if err != nil {
		return Object{}, false, fmt.Errorf("timestamp in %q: %v", line, err)
	}
	size, err := strconv.ParseInt(cols[2], 10, 64)
	if err != nil {
		return Object{}, false, fmt.Errorf("size in %q: %v", line, err)
	}

	obj := Object{Path: path, Size: size, Created: created}
	if err := validateObject(obj); err != nil {
		return Object{}, false, err
	}
	return obj, false, nil
}
