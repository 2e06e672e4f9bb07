package icon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bryan-buckman/feedsync/internal/feederr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDeclaredIcon(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head>
			<link rel="stylesheet" href="/s.css">
			<link rel="apple-touch-icon" href="/touch.png">
			<link rel="shortcut icon" href="static/fav.png">
		</head></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	got, err := NewResolver(5*time.Second).Resolve(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/static/fav.png", got)
}

func TestResolveFallsBackToFavicon(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>x</title></head></html>`))
	})
	mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{0, 0, 1, 0})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	got, err := NewResolver(5*time.Second).Resolve(context.Background(), srv.URL+"/blog/")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/favicon.ico", got)
}

func TestResolveNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewResolver(5*time.Second).Resolve(context.Background(), srv.URL)
	assert.Equal(t, feederr.NotFound, feederr.KindOf(err))

	_, err = NewResolver(time.Second).Resolve(context.Background(), "not a url")
	assert.Equal(t, feederr.Format, feederr.KindOf(err))
}

func TestRankRel(t *testing.T) {
	assert.Equal(t, 3, rankRel("Shortcut Icon"))
	assert.Equal(t, 2, rankRel("apple-touch-icon"))
	assert.Zero(t, rankRel("stylesheet"))
}
