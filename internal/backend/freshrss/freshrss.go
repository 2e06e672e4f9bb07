// Package freshrss implements the backend for FreshRSS and other servers
// speaking the Google Reader API.
package freshrss

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bryan-buckman/feedsync/internal/backend"
	"github.com/bryan-buckman/feedsync/internal/feederr"
	"github.com/bryan-buckman/feedsync/internal/metrics"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/samber/lo"
)

// Stream and tag identifiers of the Google Reader API.
const (
	ReadTag     = "user/-/state/com.google/read"
	StarredTag  = "user/-/state/com.google/starred"
	ReadingList = "user/-/state/com.google/reading-list"
	FeedPrefix  = "feed/"
	LabelPrefix = "user/-/label/"
)

// maxEditIDs bounds the item ids sent in one edit-tag call.
const maxEditIDs = 1000

// Client talks to one FreshRSS account. Write operations need the token
// obtained by Login.
type Client struct {
	session    *backend.Session
	login      string
	password   string
	writeToken string
}

var _ backend.Backend = (*Client)(nil)

// New creates a client for the account. account.URL is the API root,
// usually https://host/api/greader.php.
func New(account model.Account, timeout time.Duration) *Client {
	return &Client{
		session:  backend.NewSession(account.URL, timeout),
		login:    account.Login,
		password: account.Password,
	}
}

// Login exchanges the credentials for an auth token, then fetches the
// write token.
func (c *Client) Login(ctx context.Context) error {
	body, err := c.session.Do(ctx, backend.Request{
		Op:     "freshrss login",
		Method: http.MethodPost,
		Path:   "accounts/ClientLogin",
		Form:   url.Values{"Email": {c.login}, "Passwd": {c.password}},
	})
	if err != nil {
		return err
	}
	token := authToken(body)
	if token == "" {
		return feederr.New(feederr.Parse, "freshrss login", errors.New("no Auth token in response"))
	}
	c.session.SetAuth(func(r *http.Request) {
		r.Header.Set("Authorization", "GoogleLogin auth="+token)
	})

	body, err = c.session.Do(ctx, backend.Request{Op: "freshrss write token", Method: http.MethodGet, Path: "reader/api/0/token"})
	if err != nil {
		return err
	}
	c.writeToken = strings.TrimSpace(string(body))
	return nil
}

// authToken reads the Auth line of a ClientLogin response.
func authToken(body []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		if v, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "Auth="); ok {
			return v
		}
	}
	return ""
}

// Sync pushes the pending read then starred state and pulls folders, feeds
// and items. Any failure ends the round; nothing pulled so far is returned.
func (c *Client) Sync(ctx context.Context, req backend.SyncRequest) (model.SyncResult, error) {
	var pushed model.SyncData

	if err := c.pushStage(ctx, req.Data.ReadIDs, req.Data.UnreadIDs, model.StateRead); err != nil {
		return model.SyncResult{}, fmt.Errorf("push read state: %w", err)
	}
	pushed.ReadIDs, pushed.UnreadIDs = req.Data.ReadIDs, req.Data.UnreadIDs

	if err := c.pushStage(ctx, req.Data.StarredIDs, req.Data.UnstarredIDs, model.StateStarred); err != nil {
		return model.SyncResult{}, fmt.Errorf("push starred state: %w", err)
	}
	pushed.StarredIDs, pushed.UnstarredIDs = req.Data.StarredIDs, req.Data.UnstarredIDs

	folders, err := c.FetchFolders(ctx)
	if err != nil {
		return model.SyncResult{}, err
	}
	feeds, err := c.FetchFeeds(ctx)
	if err != nil {
		return model.SyncResult{}, err
	}
	items, err := c.FetchItems(ctx, backend.QueryFor(req.Type, req.Data.LastModified))
	if err != nil {
		return model.SyncResult{}, err
	}
	return model.SyncResult{Folders: folders, Feeds: feeds, Items: items, Pushed: pushed}, nil
}

// pushStage turns kind on for the on ids, then off for the off ids.
// An empty bucket issues no call.
func (c *Client) pushStage(ctx context.Context, on, off []string, kind model.StateKind) error {
	if err := c.PushItemState(ctx, on, kind, true); err != nil {
		return err
	}
	return c.PushItemState(ctx, off, kind, false)
}

// PushItemState adds the state tag to the items, or removes it.
func (c *Client) PushItemState(ctx context.Context, ids []string, kind model.StateKind, on bool) error {
	if len(ids) == 0 {
		return nil
	}
	tag := ReadTag
	if kind == model.StateStarred {
		tag = StarredTag
	}
	for _, chunk := range lo.Chunk(ids, maxEditIDs) {
		form := url.Values{"T": {c.writeToken}, "i": chunk}
		if on {
			form.Set("a", tag)
		} else {
			form.Set("r", tag)
		}
		if err := c.write(ctx, "freshrss edit-tag", "reader/api/0/edit-tag", form); err != nil {
			return err
		}
	}
	metrics.StatePushes.WithLabelValues(kind.String(), strconv.FormatBool(on)).Add(float64(len(ids)))
	return nil
}

// FetchFolders returns the labels of the account.
func (c *Client) FetchFolders(ctx context.Context) ([]model.Folder, error) {
	var tags tagList
	err := c.session.DoJSON(ctx, backend.Request{
		Op:     "freshrss tag list",
		Method: http.MethodGet,
		Path:   "reader/api/0/tag/list",
		Query:  url.Values{"output": {"json"}},
	}, &tags)
	if err != nil {
		return nil, err
	}
	return tags.folders(), nil
}

// FetchFeeds returns the subscriptions of the account.
func (c *Client) FetchFeeds(ctx context.Context) ([]model.Feed, error) {
	var subs subscriptionList
	err := c.session.DoJSON(ctx, backend.Request{
		Op:     "freshrss subscription list",
		Method: http.MethodGet,
		Path:   "reader/api/0/subscription/list",
		Query:  url.Values{"output": {"json"}},
	}, &subs)
	if err != nil {
		return nil, err
	}
	return lo.Map(subs.Subscriptions, func(s subscription, _ int) model.Feed { return s.feed() }), nil
}

// FetchItems reads the reading list. The number of items is capped to
// q.Max, or to the initial cap when q.Max is not set.
func (c *Client) FetchItems(ctx context.Context, q backend.ItemQuery) ([]model.Item, error) {
	n := q.Max
	if n <= 0 {
		n = backend.InitialItemsCap
	}
	query := url.Values{"output": {"json"}, "n": {strconv.Itoa(n)}}
	if q.ExcludeRead {
		query.Set("xt", ReadTag)
	}
	if q.Since > 0 {
		query.Set("ot", strconv.FormatInt(q.Since, 10))
	}

	var stream streamContents
	err := c.session.DoJSON(ctx, backend.Request{
		Op:     "freshrss stream contents",
		Method: http.MethodGet,
		Path:   "reader/api/0/stream/contents/" + ReadingList,
		Query:  query,
	}, &stream)
	if err != nil {
		return nil, err
	}
	return lo.Map(stream.Items, func(it streamItem, _ int) model.Item { return it.item() }), nil
}

// CreateFeed subscribes to feedURL and returns the subscription created.
func (c *Client) CreateFeed(ctx context.Context, feedURL, folderRemoteID string) ([]model.Feed, error) {
	form := url.Values{"T": {c.writeToken}, "ac": {"subscribe"}, "s": {FeedPrefix + feedURL}}
	if folderRemoteID != "" {
		form.Set("a", folderRemoteID)
	}
	if err := c.write(ctx, "freshrss subscribe", "reader/api/0/subscription/edit", form); err != nil {
		return nil, err
	}

	feeds, err := c.FetchFeeds(ctx)
	if err != nil {
		return nil, err
	}
	created := lo.Filter(feeds, func(f model.Feed, _ int) bool {
		return f.URL == feedURL || f.RemoteID == FeedPrefix+feedURL
	})
	if len(created) == 0 {
		return nil, feederr.New(feederr.Format, "freshrss subscribe", fmt.Errorf("%s not listed after subscribing", feedURL))
	}
	return created, nil
}

// DeleteFeed unsubscribes from the feed.
func (c *Client) DeleteFeed(ctx context.Context, feed model.Feed) error {
	form := url.Values{"T": {c.writeToken}, "ac": {"unsubscribe"}, "s": {streamID(feed)}}
	return c.write(ctx, "freshrss unsubscribe", "reader/api/0/subscription/edit", form)
}

// UpdateFeed renames the feed and moves it to the folder of updated.
func (c *Client) UpdateFeed(ctx context.Context, old, updated model.Feed) error {
	form := url.Values{"T": {c.writeToken}, "ac": {"edit"}, "s": {streamID(old)}, "t": {updated.Name}}
	if updated.RemoteFolderID != old.RemoteFolderID {
		if updated.RemoteFolderID != "" {
			form.Set("a", updated.RemoteFolderID)
		}
		if old.RemoteFolderID != "" {
			form.Set("r", old.RemoteFolderID)
		}
	}
	return c.write(ctx, "freshrss edit subscription", "reader/api/0/subscription/edit", form)
}

// CreateFolder creates a label.
func (c *Client) CreateFolder(ctx context.Context, name string) (model.Folder, error) {
	id := LabelPrefix + name
	form := url.Values{"T": {c.writeToken}, "a": {id}}
	if err := c.write(ctx, "freshrss create label", "reader/api/0/edit-tag", form); err != nil {
		return model.Folder{}, err
	}
	return model.Folder{Name: name, RemoteID: id}, nil
}

// RenameFolder renames a label. The label id changes with its name.
func (c *Client) RenameFolder(ctx context.Context, folder model.Folder, name string) (model.Folder, error) {
	dest := LabelPrefix + name
	form := url.Values{"T": {c.writeToken}, "s": {folder.RemoteID}, "dest": {dest}}
	if err := c.write(ctx, "freshrss rename label", "reader/api/0/rename-tag", form); err != nil {
		return model.Folder{}, err
	}
	folder.Name, folder.RemoteID = name, dest
	return folder, nil
}

// DeleteFolder removes a label. Its feeds are kept.
func (c *Client) DeleteFolder(ctx context.Context, folder model.Folder) error {
	form := url.Values{"T": {c.writeToken}, "s": {folder.RemoteID}}
	return c.write(ctx, "freshrss delete label", "reader/api/0/disable-tag", form)
}

// Close releases the connections of the session.
func (c *Client) Close() {
	c.session.Close()
}

func (c *Client) write(ctx context.Context, op, path string, form url.Values) error {
	_, err := c.session.Do(ctx, backend.Request{Op: op, Method: http.MethodPost, Path: path, Form: form})
	return err
}

func streamID(feed model.Feed) string {
	if feed.RemoteID != "" {
		return feed.RemoteID
	}
	return FeedPrefix + feed.URL
}
