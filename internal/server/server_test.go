package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/bryan-buckman/feedsync/internal/database"
	"github.com/bryan-buckman/feedsync/internal/feederr"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/rss"
	"github.com/bryan-buckman/feedsync/internal/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedXML = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Served</title><link>https://served.example/</link>
<item><title>One</title><guid>served-1</guid><description>first post</description></item>
</channel></rss>`

type testEnv struct {
	db      *database.DB
	account *model.Account
	api     *httptest.Server
	feeds   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	account := &model.Account{Name: "home", Type: model.AccountLocal}
	_, err = db.UpsertAccount(account)
	require.NoError(t, err)

	feeds := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feed.xml" {
			w.Write([]byte("<html>nope</html>"))
			return
		}
		w.Write([]byte(feedXML))
	}))
	t.Cleanup(feeds.Close)

	s := syncer.New(db, syncer.NewFactory(rss.NewFetcher(0), 0), nil)
	srv := New(db, s, syncer.NewRunner(s, 1), nil)
	api := httptest.NewServer(srv.Handler())
	t.Cleanup(api.Close)
	return &testEnv{db: db, account: account, api: api, feeds: feeds}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, e.api.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestAddFeedThenSync(t *testing.T) {
	e := newTestEnv(t)

	resp, out := e.do(t, http.MethodPost, "/api/accounts/1/feeds", `{"url":"`+e.feeds.URL+`/feed.xml"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, out["added"])

	resp, out = e.do(t, http.MethodPost, "/api/accounts/1/feeds", `{"url":"`+e.feeds.URL+`/feed.xml"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, out["added"], "existing url is already inserted")

	resp, out = e.do(t, http.MethodPost, "/api/accounts/1/sync", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, out["new_items"])
	assert.Equal(t, "initial", out["sync_type"])
	assert.NotEmpty(t, out["round_id"])

	feed, err := e.db.GetFeedByURL(e.feeds.URL + "/feed.xml")
	require.NoError(t, err)
	items, err := e.db.GetItems(feed.ID, true)
	require.NoError(t, err)
	require.Len(t, items, 1)

	resp, out = e.do(t, http.MethodPost, "/api/items/"+itoa(items[0].ID)+"/read", `{"read":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["read"])

	items, err = e.db.GetItems(feed.ID, true)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestErrorStatuses(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.do(t, http.MethodPost, "/api/accounts/1/feeds", `{"url":"`+e.feeds.URL+`/page.html"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, "not a feed")

	resp, _ = e.do(t, http.MethodPost, "/api/accounts/1/folders", `{"name":"Tech"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = e.do(t, http.MethodPost, "/api/accounts/1/folders", `{"name":"Tech"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = e.do(t, http.MethodDelete, "/api/feeds/77", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/api/accounts/9/sync", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/api/items/abc/read", `{"read":true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/api/items/5/read", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(database.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(feederr.New(feederr.Conflict, "x", nil)))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(feederr.New(feederr.Format, "x", nil)))
	assert.Equal(t, http.StatusBadGateway, statusFor(feederr.New(feederr.Network, "x", nil)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("x")))
}

func TestSettings(t *testing.T) {
	e := newTestEnv(t)

	resp, out := e.do(t, http.MethodPost, "/api/settings", `{"polling_interval":5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, database.MinPollingIntervalMinutes, out["polling_interval"])

	_, out = e.do(t, http.MethodGet, "/api/settings", "")
	assert.EqualValues(t, database.MinPollingIntervalMinutes, out["polling_interval"])
}

func TestImportAndExportOPML(t *testing.T) {
	e := newTestEnv(t)

	doc := `<?xml version="1.0"?><opml version="2.0"><body>
		<outline text="News"><outline text="Served" type="rss" xmlUrl="` + e.feeds.URL + `/feed.xml"/></outline>
		<outline text="Broken" type="rss" xmlUrl="` + e.feeds.URL + `/broken"/>
	</body></opml>`
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("opml", "subs.opml")
	require.NoError(t, err)
	fw.Write([]byte(doc))
	require.NoError(t, mw.Close())

	resp, err := http.Post(e.api.URL+"/api/accounts/1/import-opml", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.EqualValues(t, 1, out["imported"])
	assert.EqualValues(t, 2, out["total"])
	assert.Len(t, out["failures"], 1)

	resp, err = http.Get(e.api.URL + "/api/accounts/1/export-opml")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/xml", resp.Header.Get("Content-Type"))
	var exported bytes.Buffer
	exported.ReadFrom(resp.Body)
	assert.Contains(t, exported.String(), `text="News"`)
	assert.Contains(t, exported.String(), e.feeds.URL+"/feed.xml")
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t)

	resp, out := e.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SQLite", out["database"])

	resp, err := http.Get(e.api.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
