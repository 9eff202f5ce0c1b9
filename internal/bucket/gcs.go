package bucket

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSConfig controls the Google Cloud Storage listing provider, used for
// catalog mirrors hosted on GCS instead of the public S3 bucket.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// GCSLister lists a GCS bucket with the official client. Authentication is
// handled via Application Default Credentials unless options say otherwise.
type GCSLister struct {
	client *storage.Client
	cfg    GCSConfig
}

// NewGCSLister initializes the client and verifies the bucket is reachable,
// so a misconfigured run fails at startup instead of mid-sync.
func NewGCSLister(ctx context.Context, cfg GCSConfig, opts ...option.ClientOption) (*GCSLister, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket.name is required for the gcs provider")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("get gcs bucket %q attributes: %w", cfg.Bucket, err)
	}
	return &GCSLister{client: client, cfg: cfg}, nil
}

// List iterates every object under the configured prefix.
func (l *GCSLister) List(ctx context.Context) ([]Object, error) {
	it := l.client.Bucket(l.cfg.Bucket).Objects(ctx, &storage.Query{Prefix: l.cfg.Prefix})

	var objects []Object
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return objects, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: iterate gcs objects: %v", ErrUnavailable, err)
		}
		if isFolderKey(attrs.Name) {
			continue
		}
		obj := Object{Path: attrs.Name, Size: attrs.Size, Created: attrs.Created}
		if err := validateObject(obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		objects = append(objects, obj)
	}
}

// Close releases the underlying client.
func (l *GCSLister) Close() error {
	return l.client.Close()
}
