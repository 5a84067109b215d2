// SPDX-License-Identifier: MIT

package seqta

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	defaultEndpoint = "/mgm/attendance"
	defaultTimeout  = 60 * time.Second
	defaultRetries  = 2
	defaultBackoff  = 500 * time.Millisecond

	// The feed for a full term window is a few MB; anything beyond this is
	// a broken upstream, not data.
	maxBodyBytes = 64 << 20
)

// Options configures a Client.
type Options struct {
	Endpoint   string // feed path, default /mgm/attendance
	Username   string
	Password   string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	RateLimit  rate.Limit // requests per second against the upstream, 0 = default
}

// Client talks to the SEQTA attendance endpoint with basic auth.
type Client struct {
	base       string
	endpoint   string
	username   string
	password   string
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
}

// New creates a Client for the given base URL (scheme://host).
func New(base string, opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = defaultEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(1) // the feed endpoint is slow and shared
	}

	return &Client{
		base:     strings.TrimRight(base, "/"),
		endpoint: opts.Endpoint,
		username: opts.Username,
		password: opts.Password,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter:    rate.NewLimiter(opts.RateLimit, 1),
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
	}
}

// Attendance fetches all absence records from startDate onwards.
func (c *Client) Attendance(ctx context.Context, startDate Date) (*Feed, error) {
	url := fmt.Sprintf("%s%s?date=%s", c.base, c.endpoint, startDate)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * c.backoff
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		feed, retryable, err := c.fetch(ctx, url)
		if err == nil {
			return feed, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("attendance request failed after %d retries: %w", c.maxRetries, lastErr)
}

// fetch performs one request. The bool reports whether the failure is worth
// retrying (transport errors and 5xx are, auth and decode failures are not).
func (c *Client) fetch(ctx context.Context, url string) (*Feed, bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/xml, text/xml")

	res, err := c.http.Do(req)
	if err != nil {
		sentinel := ErrUpstreamUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			sentinel = ErrTimeout
		}
		return nil, true, &FeedError{Sentinel: sentinel, Operation: "attendance", Err: err}
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK:
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, false, &FeedError{Sentinel: ErrUnauthorized, Operation: "attendance", Status: res.StatusCode}
	case res.StatusCode == http.StatusNotFound:
		return nil, false, &FeedError{Sentinel: ErrNotFound, Operation: "attendance", Status: res.StatusCode}
	case res.StatusCode >= 500:
		return nil, true, &FeedError{Sentinel: ErrUpstreamError, Operation: "attendance", Status: res.StatusCode}
	default:
		return nil, false, &FeedError{Sentinel: ErrBadResponse, Operation: "attendance", Status: res.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, true, &FeedError{Sentinel: ErrUpstreamUnavailable, Operation: "attendance", Err: err}
	}

	feed, err := decodeFeed(body)
	if err != nil {
		return nil, false, &FeedError{Sentinel: ErrBadResponse, Operation: "attendance", Err: err}
	}
	return feed, false, nil
}

// Ping performs a minimal request against the feed to verify connectivity
// and credentials. Used by strict readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Attendance(ctx, DateOf(time.Now()))
	return err
}
