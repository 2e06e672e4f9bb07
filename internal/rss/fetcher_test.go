package rss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryan-buckman/feedsync/internal/backend"
	"github.com/bryan-buckman/feedsync/internal/feederr"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Example</title>
  <link>https://example.com/</link>
  <description>An example feed</description>
  <item>
    <title>Newer</title>
    <link>https://example.com/2</link>
    <guid>urn:2</guid>
    <pubDate>Tue, 02 Jan 2024 10:00:00 GMT</pubDate>
    <description>second</description>
  </item>
  <item>
    <title>Older</title>
    <link>https://example.com/1</link>
    <guid>urn:1</guid>
    <pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate>
    <description>first</description>
  </item>
</channel>
</rss>`

// feedServer serves sampleRSS with validators and answers 304 to matching
// conditional requests.
func feedServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Mon, 01 Jan 2024 10:00:00 GMT")
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleRSS))
	})
	mux.HandleFunc("/cut.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?><rss version="2.0"><channel><title>Cut</title><item><title>x</ti`))
	})
	mux.HandleFunc("/page.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>not a feed</body></html>"))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchStoresValidators(t *testing.T) {
	var hits int32
	srv := feedServer(t, &hits)
	f := NewFetcher(5 * time.Second)
	defer f.Close()

	resp, err := f.Fetch(context.Background(), srv.URL+"/feed.xml", model.Validators{})
	require.NoError(t, err)
	assert.False(t, resp.NotModified)
	require.NotNil(t, resp.Document)
	assert.Equal(t, `"v1"`, resp.Validators.ETag)
	assert.Equal(t, "Mon, 01 Jan 2024 10:00:00 GMT", resp.Validators.LastModified)
}

func TestFetchNotModified(t *testing.T) {
	var hits int32
	srv := feedServer(t, &hits)
	f := NewFetcher(5 * time.Second)

	v := model.Validators{ETag: `"v1"`, LastModified: "Mon, 01 Jan 2024 10:00:00 GMT"}
	resp, err := f.Fetch(context.Background(), srv.URL+"/feed.xml", v)
	require.NoError(t, err)
	assert.True(t, resp.NotModified)
	assert.Nil(t, resp.Document)
	assert.Equal(t, v, resp.Validators)
}

func TestFetchSendsUserAgent(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.UserAgent()
		w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	_, err := NewFetcher(5*time.Second).Fetch(context.Background(), srv.URL, model.Validators{})
	require.NoError(t, err)
	assert.Equal(t, backend.UserAgent, ua)
}

func TestFetchClassifiesFailures(t *testing.T) {
	var hits int32
	srv := feedServer(t, &hits)
	f := NewFetcher(5 * time.Second)
	ctx := context.Background()

	_, err := f.Fetch(ctx, srv.URL+"/page.html", model.Validators{})
	assert.Equal(t, feederr.Format, feederr.KindOf(err))

	_, err = f.Fetch(ctx, srv.URL+"/cut.xml", model.Validators{})
	assert.Equal(t, feederr.Parse, feederr.KindOf(err))

	_, err = f.Fetch(ctx, srv.URL+"/gone", model.Validators{})
	assert.Equal(t, feederr.Network, feederr.KindOf(err))

	_, err = f.Fetch(ctx, "http://127.0.0.1:1/feed.xml", model.Validators{})
	assert.Equal(t, feederr.Network, feederr.KindOf(err))
}

func TestDomainLimiterSharesHost(t *testing.T) {
	dl := newDomainLimiter()
	ctx := context.Background()
	for i := 0; i < MaxConcurrencyPerDomain; i++ {
		require.NoError(t, dl.wait(ctx, "a.example"))
	}
	assert.Len(t, dl.limiters, 1)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, dl.wait(cancelled, "a.example"))
	assert.Equal(t, "a.example:8080", extractDomain("http://a.example:8080/rss"))
}
