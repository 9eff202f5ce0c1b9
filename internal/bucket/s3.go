package bucket

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	defaultPageSize       = 1000
	defaultRequestTimeout = 60 * time.Second
)

// S3Config controls the anonymous S3 listing provider.
type S3Config struct {
	// Endpoint is the bucket's public base URL, e.g.
	// https://download.tplinkcloud.com (a virtual-hosted public bucket).
	Endpoint string
	// Prefix restricts the listing to keys under this prefix.
	Prefix string
	// PageSize is the max-keys value per request, capped by S3 at 1000.
	PageSize int
	// Timeout bounds each page request.
	Timeout time.Duration
}

// S3Lister lists a public S3 bucket through the unsigned ListObjectsV2 REST
// API. The bucket allows anonymous reads, so no SDK or credentials are
// involved; each page is a GET with list-type=2 and a continuation token.
type S3Lister struct {
	cfg    S3Config
	base   *url.URL
	client *http.Client
	logger *zap.Logger
}

// NewS3Lister validates the endpoint and returns a ready lister.
func NewS3Lister(cfg S3Config, logger *zap.Logger) (*S3Lister, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("bucket.endpoint is required")
	}
	base, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse bucket endpoint %q: %w", cfg.Endpoint, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("bucket endpoint %q must be http or https", cfg.Endpoint)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	return &S3Lister{
		cfg:    cfg,
		base:   base,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

// listBucketResult is the ListObjectsV2 response document.
type listBucketResult struct {
	XMLName               xml.Name     `xml:"ListBucketResult"`
	IsTruncated           bool         `xml:"IsTruncated"`
	NextContinuationToken string       `xml:"NextContinuationToken"`
	Contents              []listedItem `xml:"Contents"`
}

type listedItem struct {
	Key          string    `xml:"Key"`
	LastModified time.Time `xml:"LastModified"`
	Size         int64     `xml:"Size"`
}

// List walks every page of the bucket and returns the full set of files.
func (l *S3Lister) List(ctx context.Context) ([]Object, error) {
	var objects []Object
	token := ""
	for page := 1; ; page++ {
		result, err := l.fetchPage(ctx, token)
		if err != nil {
			return nil, err
		}
		for _, item := range result.Contents {
			if isFolderKey(item.Key) {
				continue
			}
			obj := Object{Path: item.Key, Size: item.Size, Created: item.LastModified}
			if err := validateObject(obj); err != nil {
				return nil, fmt.Errorf("%w: page %d: %v", ErrUnavailable, page, err)
			}
			objects = append(objects, obj)
		}
		if !result.IsTruncated {
			l.logger.Debug("bucket listing complete",
				zap.Int("pages", page),
				zap.Int("objects", len(objects)),
			)
			return objects, nil
		}
		if result.NextContinuationToken == "" {
			return nil, fmt.Errorf("%w: page %d is truncated but carries no continuation token", ErrUnavailable, page)
		}
		token = result.NextContinuationToken
	}
}

func (l *S3Lister) fetchPage(ctx context.Context, token string) (*listBucketResult, error) {
	q := url.Values{}
	q.Set("list-type", "2")
	q.Set("max-keys", strconv.Itoa(l.cfg.PageSize))
	if l.cfg.Prefix != "" {
		q.Set("prefix", l.cfg.Prefix)
	}
	if token != "" {
		q.Set("continuation-token", token)
	}
	pageURL := *l.base
	pageURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build listing request: %v", ErrUnavailable, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch listing page: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: listing returned HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	var result listBucketResult
	if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode listing page: %v", ErrUnavailable, err)
	}
	return &result, nil
}
