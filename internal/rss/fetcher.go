// Package rss fetches raw RSS/Atom/JSON feeds and implements the local
// backend on top of them.
package rss

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bryan-buckman/feedsync/internal/backend"
	"github.com/bryan-buckman/feedsync/internal/feederr"
	"github.com/bryan-buckman/feedsync/internal/metrics"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/normalize"
	"golang.org/x/time/rate"
)

// Rate limiting settings
const (
	// MaxConcurrencyPerDomain is the burst of requests allowed to one domain
	MaxConcurrencyPerDomain = 2
	// DelayBetweenDomainRequests is the sustained delay between requests to the same domain
	DelayBetweenDomainRequests = 500 * time.Millisecond
)

const maxFeedSize = 16 << 20

// domainLimiter controls rate limiting per domain to avoid overwhelming hosts.
type domainLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// newDomainLimiter creates a new per-domain rate limiter.
func newDomainLimiter() *domainLimiter {
	return &domainLimiter{limiters: make(map[string]*rate.Limiter)}
}

// wait blocks until a request to domain is allowed or ctx is done.
func (dl *domainLimiter) wait(ctx context.Context, domain string) error {
	dl.mu.Lock()
	l, ok := dl.limiters[domain]
	if !ok {
		l = rate.NewLimiter(rate.Every(DelayBetweenDomainRequests), MaxConcurrencyPerDomain)
		dl.limiters[domain] = l
	}
	dl.mu.Unlock()
	return l.Wait(ctx)
}

// extractDomain gets the host from a URL.
func extractDomain(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return feedURL // fallback to full URL
	}
	return u.Host
}

// Response is the outcome of a conditional fetch. Document is nil when the
// server answered 304 Not Modified.
type Response struct {
	Document    normalize.Document
	Validators  model.Validators
	NotModified bool
}

// Fetcher handles raw feed fetching.
type Fetcher struct {
	client        *http.Client
	domainLimiter *domainLimiter
}

// NewFetcher creates a fetcher whose requests time out after timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:        &http.Client{Timeout: timeout},
		domainLimiter: newDomainLimiter(),
	}
}

// Fetch downloads and parses the feed at feedURL. Stored validators are sent
// as If-None-Match / If-Modified-Since; a 304 answer is a success without a
// document. Failures are classified as Network (transport or HTTP status),
// Format (not a feed) or Parse.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string, v model.Validators) (*Response, error) {
	op := "fetch " + feedURL

	// Apply per-domain rate limiting
	if err := f.domainLimiter.wait(ctx, extractDomain(feedURL)); err != nil {
		return nil, feederr.New(feederr.Network, op, fmt.Errorf("rate limit cancelled: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, feederr.New(feederr.Format, op, err)
	}
	req.Header.Set("User-Agent", backend.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")
	if v.ETag != "" {
		req.Header.Set("If-None-Match", v.ETag)
	}
	if v.LastModified != "" {
		req.Header.Set("If-Modified-Since", v.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		metrics.FeedFetches.WithLabelValues("error").Inc()
		return nil, feederr.New(feederr.Network, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		metrics.FeedFetches.WithLabelValues("not_modified").Inc()
		return &Response{Validators: v, NotModified: true}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.FeedFetches.WithLabelValues("error").Inc()
		return nil, feederr.New(feederr.Network, op, &feederr.StatusError{Code: resp.StatusCode, Status: resp.Status})
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		metrics.FeedFetches.WithLabelValues("error").Inc()
		return nil, feederr.New(feederr.Network, op, err)
	}

	doc, err := normalize.Parse(data)
	if err != nil {
		metrics.FeedFetches.WithLabelValues("error").Inc()
		if feederr.KindOf(err) == feederr.Unknown {
			return nil, feederr.New(feederr.Parse, op, err)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	metrics.FeedFetches.WithLabelValues("ok").Inc()
	return &Response{
		Document: doc,
		Validators: model.Validators{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		},
	}, nil
}

// Close drops the idle connections of the fetcher.
func (f *Fetcher) Close() {
	f.client.CloseIdleConnections()
}
