package freshrss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/bryan-buckman/feedsync/internal/backend"
	"github.com/bryan-buckman/feedsync/internal/feederr"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	path  string
	query url.Values
	form  url.Values
}

// fakeServer is a minimal Google Reader API recording the calls it gets.
type fakeServer struct {
	mu    sync.Mutex
	calls []call
	// failEdits makes edit-tag answer 500.
	failEdits bool
}

func (f *fakeServer) record(r *http.Request) {
	r.ParseForm()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{path: r.URL.Path, query: r.URL.Query(), form: r.PostForm})
}

func (f *fakeServer) callsTo(path string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.path == path {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeServer) router(t *testing.T) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			f.record(r)
			if r.URL.Path != "/accounts/ClientLogin" && r.Header.Get("Authorization") != "GoogleLogin auth=secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Post("/accounts/ClientLogin", func(w http.ResponseWriter, r *http.Request) {
		if r.PostForm.Get("Passwd") != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("SID=x\nLSID=y\nAuth=secret\n"))
	})
	r.Get("/reader/api/0/token", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("wtoken\n"))
	})
	r.Get("/reader/api/0/tag/list", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tags":[{"id":"user/-/state/com.google/starred"},{"id":"user/-/label/News","type":"folder"}]}`))
	})
	r.Get("/reader/api/0/subscription/list", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"subscriptions":[{"id":"feed/1","title":"A","categories":[{"id":"user/-/label/News","label":"News"}],
			"url":"https://a.example/feed.xml","htmlUrl":"https://a.example/","iconUrl":"https://a.example/i.png"}]}`))
	})
	r.Get("/reader/api/0/stream/contents/*", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[{"id":"tag:google.com,2005:reader/item/1","title":"One","published":1704067200,
			"canonical":[{"href":"https://a.example/1"}],"categories":["user/-/state/com.google/reading-list","user/-/state/com.google/starred"],
			"origin":{"streamId":"feed/1"},"summary":{"content":"<p>hi</p>"},"author":"Ada",
			"enclosure":[{"href":"https://a.example/1.jpg","type":"image/jpeg"}]}]}`))
	})
	for _, p := range []string{"edit-tag", "subscription/edit", "rename-tag", "disable-tag"} {
		p := p
		r.Post("/reader/api/0/"+p, func(w http.ResponseWriter, r *http.Request) {
			if r.PostForm.Get("T") != "wtoken" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if p == "edit-tag" && f.failEdits {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte("OK"))
		})
	}
	return r
}

func newTestClient(t *testing.T, f *fakeServer) *Client {
	t.Helper()
	srv := httptest.NewServer(f.router(t))
	t.Cleanup(srv.Close)
	c := New(model.Account{URL: srv.URL, Login: "bob", Password: "pw"}, 5*time.Second)
	t.Cleanup(c.Close)
	require.NoError(t, c.Login(context.Background()))
	return c
}

func TestLogin(t *testing.T) {
	f := &fakeServer{}
	c := newTestClient(t, f)
	assert.Equal(t, "wtoken", c.writeToken)

	srv := httptest.NewServer(f.router(t))
	defer srv.Close()
	bad := New(model.Account{URL: srv.URL, Login: "bob", Password: "wrong"}, 5*time.Second)
	assert.Error(t, bad.Login(context.Background()))
}

func TestInitialSync(t *testing.T) {
	f := &fakeServer{}
	c := newTestClient(t, f)

	res, err := c.Sync(context.Background(), backend.SyncRequest{Type: model.InitialSync})
	require.NoError(t, err)

	require.Len(t, res.Folders, 1)
	assert.Equal(t, model.Folder{Name: "News", RemoteID: "user/-/label/News"}, res.Folders[0])

	require.Len(t, res.Feeds, 1)
	feed := res.Feeds[0]
	assert.Equal(t, "feed/1", feed.RemoteID)
	assert.Equal(t, "https://a.example/feed.xml", feed.URL)
	assert.Equal(t, "user/-/label/News", feed.RemoteFolderID)

	require.Len(t, res.Items, 1)
	item := res.Items[0]
	assert.Equal(t, "tag:google.com,2005:reader/item/1", item.GUID)
	assert.Equal(t, "feed/1", item.RemoteFeedID)
	assert.Equal(t, "https://a.example/1", item.Link)
	assert.Equal(t, "https://a.example/1.jpg", item.ImageLink)
	assert.True(t, item.Starred)
	assert.False(t, item.Read)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), item.PublishedAt)

	streams := f.callsTo("/reader/api/0/stream/contents/" + ReadingList)
	require.Len(t, streams, 1)
	assert.Equal(t, "5000", streams[0].query.Get("n"))
	assert.Equal(t, ReadTag, streams[0].query.Get("xt"))
	assert.Empty(t, streams[0].query.Get("ot"))

	// Nothing pending: no state call.
	assert.Empty(t, f.callsTo("/reader/api/0/edit-tag"))
}

func TestIncrementalSyncHasNoExclusion(t *testing.T) {
	f := &fakeServer{}
	c := newTestClient(t, f)

	_, err := c.Sync(context.Background(), backend.SyncRequest{
		Type: model.ClassicSync,
		Data: model.SyncData{LastModified: 1700000000},
	})
	require.NoError(t, err)

	streams := f.callsTo("/reader/api/0/stream/contents/" + ReadingList)
	require.Len(t, streams, 1)
	assert.Equal(t, "1700000000", streams[0].query.Get("ot"))
	assert.Empty(t, streams[0].query.Get("xt"))
}

func TestPushStarredOnlyIssuesOneCall(t *testing.T) {
	f := &fakeServer{}
	c := newTestClient(t, f)

	res, err := c.Sync(context.Background(), backend.SyncRequest{
		Type: model.ClassicSync,
		Data: model.SyncData{StarredIDs: []string{"i1", "i2"}, LastModified: 1},
	})
	require.NoError(t, err)

	edits := f.callsTo("/reader/api/0/edit-tag")
	require.Len(t, edits, 1)
	assert.Equal(t, StarredTag, edits[0].form.Get("a"))
	assert.Empty(t, edits[0].form.Get("r"))
	assert.Equal(t, []string{"i1", "i2"}, edits[0].form["i"])
	assert.Equal(t, []string{"i1", "i2"}, res.Pushed.StarredIDs)
}

func TestPushOrder(t *testing.T) {
	f := &fakeServer{}
	c := newTestClient(t, f)

	_, err := c.Sync(context.Background(), backend.SyncRequest{
		Type: model.ClassicSync,
		Data: model.SyncData{
			ReadIDs:      []string{"r"},
			UnreadIDs:    []string{"u"},
			StarredIDs:   []string{"s"},
			UnstarredIDs: []string{"x"},
			LastModified: 1,
		},
	})
	require.NoError(t, err)

	edits := f.callsTo("/reader/api/0/edit-tag")
	require.Len(t, edits, 4)
	assert.Equal(t, ReadTag, edits[0].form.Get("a"))
	assert.Equal(t, ReadTag, edits[1].form.Get("r"))
	assert.Equal(t, StarredTag, edits[2].form.Get("a"))
	assert.Equal(t, StarredTag, edits[3].form.Get("r"))
	for _, e := range edits {
		assert.False(t, e.form.Has("a") && e.form.Has("r"), "never add and remove in one call")
	}
}

func TestPushFailureAbortsRound(t *testing.T) {
	f := &fakeServer{failEdits: true}
	c := newTestClient(t, f)
	c.session.MaxRetries = 0

	_, err := c.Sync(context.Background(), backend.SyncRequest{
		Type: model.ClassicSync,
		Data: model.SyncData{ReadIDs: []string{"r"}, LastModified: 1},
	})
	require.Error(t, err)
	assert.Empty(t, f.callsTo("/reader/api/0/tag/list"))
}

func TestFeedAndFolderOperations(t *testing.T) {
	f := &fakeServer{}
	c := newTestClient(t, f)
	ctx := context.Background()

	feeds, err := c.CreateFeed(ctx, "https://a.example/feed.xml", "user/-/label/News")
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, "feed/1", feeds[0].RemoteID)

	_, err = c.CreateFeed(ctx, "https://unknown.example/rss", "")
	assert.Equal(t, feederr.Format, feederr.KindOf(err))

	old := feeds[0]
	updated := old
	updated.Name, updated.RemoteFolderID = "Renamed", "user/-/label/Tech"
	require.NoError(t, c.UpdateFeed(ctx, old, updated))
	require.NoError(t, c.DeleteFeed(ctx, old))

	edits := f.callsTo("/reader/api/0/subscription/edit")
	require.Len(t, edits, 4)
	assert.Equal(t, "subscribe", edits[0].form.Get("ac"))
	assert.Equal(t, "feed/https://a.example/feed.xml", edits[0].form.Get("s"))
	assert.Equal(t, "user/-/label/News", edits[0].form.Get("a"))
	assert.Equal(t, "edit", edits[2].form.Get("ac"))
	assert.Equal(t, "Renamed", edits[2].form.Get("t"))
	assert.Equal(t, "user/-/label/Tech", edits[2].form.Get("a"))
	assert.Equal(t, "user/-/label/News", edits[2].form.Get("r"))
	assert.Equal(t, "unsubscribe", edits[3].form.Get("ac"))
	assert.Equal(t, "feed/1", edits[3].form.Get("s"))

	folder, err := c.CreateFolder(ctx, "Tech")
	require.NoError(t, err)
	assert.Equal(t, "user/-/label/Tech", folder.RemoteID)

	renamed, err := c.RenameFolder(ctx, folder, "Science")
	require.NoError(t, err)
	assert.Equal(t, model.Folder{Name: "Science", RemoteID: "user/-/label/Science"}, renamed)
	rename := f.callsTo("/reader/api/0/rename-tag")
	require.Len(t, rename, 1)
	assert.Equal(t, "user/-/label/Tech", rename[0].form.Get("s"))
	assert.Equal(t, "user/-/label/Science", rename[0].form.Get("dest"))

	require.NoError(t, c.DeleteFolder(ctx, renamed))
	disable := f.callsTo("/reader/api/0/disable-tag")
	require.Len(t, disable, 1)
	assert.Equal(t, "user/-/label/Science", disable[0].form.Get("s"))
}

func TestAuthToken(t *testing.T) {
	assert.Equal(t, "abc", authToken([]byte("SID=1\nAuth=abc\n")))
	assert.Empty(t, authToken([]byte("Error=BadAuthentication")))
}
