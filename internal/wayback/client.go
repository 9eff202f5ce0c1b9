// Package wayback submits URLs to the Internet Archive's Save Page Now
// endpoint and reports the canonical snapshot URL for each capture.
package wayback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

var (
	// ErrUnavailable marks a submission that never reached the archiving
	// service. The submitter aborts its loop on it.
	ErrUnavailable = errors.New("archive service unavailable")

	// ErrRateLimited marks an HTTP 429 from the service. The submitter
	// cools down and moves on; the entry is retried on a later run.
	ErrRateLimited = errors.New("archive service rate limited")
)

// SubmissionError is a per-URL rejection by the service. It never aborts the
// run; the entry stays unarchived and is retried on a later run.
type SubmissionError struct {
	URL    string
	Status int
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("archive submission for %s returned HTTP %d", e.URL, e.Status)
}

// Config controls the Save Page Now client.
type Config struct {
	// Endpoint is the archive service base URL, e.g. https://web.archive.org.
	Endpoint string
	// UserAgent identifies this bot to the service.
	UserAgent string
	// Timeout bounds each submission request.
	Timeout time.Duration
}

// Client submits URLs one at a time. Save Page Now is a plain GET of
// /save/<url>; the snapshot location comes back in the Content-Location
// header, or as the final URL when the service redirects instead.
type Client struct {
	cfg           Config
	origin        string
	transport     http.RoundTripper
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewClient validates the endpoint and builds the base collector that every
// submission clones.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("archive.endpoint is required")
	}
	base, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse archive endpoint %q: %w", cfg.Endpoint, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("archive endpoint %q must be http or https", cfg.Endpoint)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	transport := newHTTPTransport()
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
	)
	c.WithTransport(transport)

	return &Client{
		cfg:           cfg,
		origin:        strings.TrimRight(cfg.Endpoint, "/"),
		transport:     transport,
		baseCollector: c,
		logger:        logger,
	}, nil
}

// Submit asks the service to capture pageURL and returns the snapshot URL.
func (c *Client) Submit(ctx context.Context, pageURL string) (string, error) {
	var (
		archiveURL string
		submitErr  error
	)
	collector := c.buildCollector(pageURL, &archiveURL, &submitErr)

	saveURL := c.origin + "/save/" + pageURL
	if err := c.runCollector(ctx, collector, saveURL, &submitErr); err != nil {
		return "", err
	}
	if archiveURL == "" {
		return "", fmt.Errorf("%w: service returned no snapshot location for %s", ErrUnavailable, pageURL)
	}

	c.logger.Debug("archived url",
		zap.String("url", pageURL),
		zap.String("wayback_url", archiveURL),
	)
	return archiveURL, nil
}

func (c *Client) buildCollector(pageURL string, archiveURL *string, submitErr *error) *colly.Collector {
	collector := c.baseCollector.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	// The save endpoint is an API, not a crawl target.
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(c.cfg.Timeout)
	collector.WithTransport(c.transport)

	collector.OnResponse(func(r *colly.Response) {
		if loc := r.Headers.Get("Content-Location"); loc != "" {
			*archiveURL = c.origin + loc
			return
		}
		// No header means the service redirected straight to the snapshot.
		*archiveURL = r.Request.URL.String()
	})

	collector.OnError(func(r *colly.Response, err error) {
		switch {
		case r == nil || r.StatusCode == 0:
			*submitErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
		case r.StatusCode == http.StatusTooManyRequests:
			*submitErr = fmt.Errorf("%w: %v", ErrRateLimited, err)
		default:
			*submitErr = &SubmissionError{URL: pageURL, Status: r.StatusCode}
		}
	})

	return collector
}

func (c *Client) runCollector(ctx context.Context, collector *colly.Collector, saveURL string, submitErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(saveURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("archive submission canceled: %w", ctx.Err())
	case err := <-done:
		if *submitErr != nil {
			return *submitErr
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
