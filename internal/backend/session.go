package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bryan-buckman/feedsync/internal/feederr"
	"github.com/bryan-buckman/feedsync/internal/metrics"
	"github.com/cenkalti/backoff/v4"
)

// UserAgent is sent with every request.
const UserAgent = "feedsync/1.0 (+https://github.com/bryan-buckman/feedsync)"

const maxResponseSize = 32 << 20

// Session is the HTTP client of one account. It is created once per
// credential set and torn down with Close.
type Session struct {
	BaseURL string
	Client  *http.Client
	// MaxRetries bounds the retries of idempotent requests failing with a
	// network error.
	MaxRetries uint64

	authorize func(*http.Request)
}

// NewSession creates a session for the API rooted at baseURL.
func NewSession(baseURL string, timeout time.Duration) *Session {
	return &Session{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Client:     &http.Client{Timeout: timeout, Transport: http.DefaultTransport.(*http.Transport).Clone()},
		MaxRetries: 3,
	}
}

// SetAuth installs the function adding credentials to every request.
func (s *Session) SetAuth(fn func(*http.Request)) {
	s.authorize = fn
}

// Close drops the idle connections of the session.
func (s *Session) Close() {
	s.Client.CloseIdleConnections()
}

// Request describes one API call. Path is relative to the base URL.
// At most one of Form and JSON is set.
type Request struct {
	Op     string
	Method string
	Path   string
	Query  url.Values
	Form   url.Values
	JSON   any
}

// Do sends r and returns the response body. Non-2xx statuses are returned as
// *feederr.Error classified from the status code. GET requests are retried
// with exponential backoff on network errors.
func (s *Session) Do(ctx context.Context, r Request) ([]byte, error) {
	var payload []byte
	var contentType string
	switch {
	case r.Form != nil:
		payload = []byte(r.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case r.JSON != nil:
		b, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, feederr.New(feederr.Unknown, r.Op, err)
		}
		payload = b
		contentType = "application/json"
	}

	endpoint := s.BaseURL + "/" + strings.TrimLeft(r.Path, "/")
	if len(r.Query) > 0 {
		endpoint += "?" + r.Query.Encode()
	}

	var body []byte
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, r.Method, endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(feederr.New(feederr.Unknown, r.Op, err))
		}
		req.Header.Set("User-Agent", UserAgent)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if s.authorize != nil {
			s.authorize(req)
		}

		resp, err := s.Client.Do(req)
		if err != nil {
			metrics.RemoteRequests.WithLabelValues(r.Op, "error").Inc()
			return feederr.New(feederr.Network, r.Op, err)
		}
		defer resp.Body.Close()
		metrics.RemoteRequests.WithLabelValues(r.Op, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			ferr := feederr.FromStatus(r.Op, resp.StatusCode, resp.Status)
			if ferr.Kind == feederr.Network {
				return ferr
			}
			return backoff.Permanent(ferr)
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return feederr.New(feederr.Network, r.Op, err)
		}
		return nil
	}

	if r.Method != http.MethodGet || s.MaxRetries == 0 {
		if err := attempt(); err != nil {
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				return nil, perm.Err
			}
			return nil, err
		}
		return body, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	if err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(b, s.MaxRetries), ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

// DoJSON sends r and decodes the JSON response into out.
func (s *Session) DoJSON(ctx context.Context, r Request, out any) error {
	body, err := s.Do(ctx, r)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return feederr.New(feederr.Parse, r.Op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
