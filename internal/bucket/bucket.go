// Package bucket provides listing providers for the public download bucket.
// Each provider returns the complete live listing as fixed-shape records,
// validated at the boundary; pagination never leaks to callers.
package bucket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnavailable marks a listing that could not be fetched or parsed. A sync
// run aborts on it without touching the persisted catalog.
var ErrUnavailable = errors.New("bucket listing unavailable")

// Object is one file in the live listing.
type Object struct {
	Path    string
	Size    int64
	Created time.Time
}

// Lister fetches the current, authoritative set of objects in the bucket.
type Lister interface {
	List(ctx context.Context) ([]Object, error)
}

// isFolderKey reports whether a key is a zero-byte folder marker. Listings
// include them; the catalog tracks files only.
func isFolderKey(key string) bool {
	return strings.HasSuffix(key, "/")
}

func validateObject(o Object) error {
	if o.Path == "" {
		return fmt.Errorf("object with empty path")
	}
	if o.Size < 0 {
		return fmt.Errorf("object %s has negative size %d", o.Path, o.Size)
	}
	if o.Created.IsZero() {
		return fmt.Errorf("object %s has no creation time", o.Path)
	}
	return nil
}
