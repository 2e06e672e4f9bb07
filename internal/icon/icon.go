// Package icon finds the icon of a site.
package icon

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/bryan-buckman/feedsync/internal/backend"
	"github.com/bryan-buckman/feedsync/internal/feederr"
)

const maxPageSize = 2 << 20

// Resolver looks up site icons over HTTP.
type Resolver struct {
	client *http.Client
}

// NewResolver creates a resolver whose requests time out after timeout.
func NewResolver(timeout time.Duration) *Resolver {
	return &Resolver{client: &http.Client{Timeout: timeout}}
}

// Resolve returns the absolute URL of the icon of siteURL. The page's
// <link rel="icon"> declarations come first, then /favicon.ico.
func (r *Resolver) Resolve(ctx context.Context, siteURL string) (string, error) {
	op := "resolve icon " + siteURL
	base, err := url.Parse(siteURL)
	if err != nil || base.Host == "" {
		return "", feederr.New(feederr.Format, op, err)
	}

	if href, final, err := r.fromPage(ctx, siteURL); err == nil && href != "" {
		if u, err := final.Parse(href); err == nil {
			return u.String(), nil
		}
	}

	fallback := base.ResolveReference(&url.URL{Path: "/favicon.ico"}).String()
	ok, err := r.exists(ctx, fallback)
	if err != nil {
		return "", feederr.Wrap(op, err)
	}
	if !ok {
		return "", feederr.New(feederr.NotFound, op, nil)
	}
	return fallback, nil
}

// fromPage returns the best icon href declared by the page and the URL the
// page was finally served from.
func (r *Resolver) fromPage(ctx context.Context, pageURL string) (string, *url.URL, error) {
	resp, err := r.get(ctx, pageURL)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, &feederr.StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", nil, err
	}

	var best string
	bestRank := 0
	doc.Find("link[rel][href]").Each(func(_ int, s *goquery.Selection) {
		rank := rankRel(s.AttrOr("rel", ""))
		if rank > bestRank {
			best, bestRank = strings.TrimSpace(s.AttrOr("href", "")), rank
		}
	})
	return best, resp.Request.URL, nil
}

// rankRel orders icon declarations. Zero means not an icon.
func rankRel(rel string) int {
	rank := 0
	for _, token := range strings.Fields(strings.ToLower(rel)) {
		switch token {
		case "icon":
			rank = max(rank, 3)
		case "apple-touch-icon":
			rank = max(rank, 2)
		case "apple-touch-icon-precomposed", "mask-icon":
			rank = max(rank, 1)
		}
	}
	return rank
}

func (r *Resolver) exists(ctx context.Context, iconURL string) (bool, error) {
	resp, err := r.get(ctx, iconURL)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (r *Resolver) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", backend.UserAgent)
	return r.client.Do(req)
}
