// Package nextcloud implements the backend for the Nextcloud News API v1-2.
package nextcloud

import (
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
	log "github.com/sirupsen/logrus"
)

// Endpoint is the API root below the Nextcloud instance URL.
const Endpoint = "/index.php/apps/news/api/v1-2/"

// Item type selector meaning "all items".
const typeAll = "3"

// ErrStarredUnsupported is returned when pushing starred state: v1-2 stars
// items by feed id and guid hash, which are not stored.
var ErrStarredUnsupported = errors.New("starred state push is not supported by the Nextcloud News API v1-2")

// Client talks to one Nextcloud News account with basic auth.
type Client struct {
	session *backend.Session
}

var _ backend.Backend = (*Client)(nil)

// New creates a client for the account. account.URL is the Nextcloud root.
func New(account model.Account, timeout time.Duration) *Client {
	s := backend.NewSession(strings.TrimRight(account.URL, "/")+Endpoint, timeout)
	login, password := account.Login, account.Password
	s.SetAuth(func(r *http.Request) {
		r.SetBasicAuth(login, password)
	})
	return &Client{session: s}
}

// Login checks the credentials against the user endpoint.
func (c *Client) Login(ctx context.Context) error {
	var u user
	if err := c.session.DoJSON(ctx, backend.Request{Op: "nextcloud user", Method: http.MethodGet, Path: "user"}, &u); err != nil {
		return err
	}
	log.WithField("user", u.UserID).Debug("Nextcloud login ok")
	return nil
}

// Sync pulls feeds, folders and items. Classic rounds push the read and
// unread batches first. A failing call sets the result's Error flag and the
// round goes on with what is left.
func (c *Client) Sync(ctx context.Context, req backend.SyncRequest) (model.SyncResult, error) {
	var res model.SyncResult

	if req.Type == model.ClassicSync {
		if err := c.PushItemState(ctx, req.Data.ReadIDs, model.StateRead, true); err != nil {
			log.WithError(err).Warn("Nextcloud: push read items failed")
			res.Error = true
		} else {
			res.Pushed.ReadIDs = req.Data.ReadIDs
		}
		if err := c.PushItemState(ctx, req.Data.UnreadIDs, model.StateRead, false); err != nil {
			log.WithError(err).Warn("Nextcloud: push unread items failed")
			res.Error = true
		} else {
			res.Pushed.UnreadIDs = req.Data.UnreadIDs
		}
	}

	feeds, err := c.FetchFeeds(ctx)
	if err != nil {
		log.WithError(err).Warn("Nextcloud: fetch feeds failed")
		res.Error = true
	}
	folders, err := c.FetchFolders(ctx)
	if err != nil {
		log.WithError(err).Warn("Nextcloud: fetch folders failed")
		res.Error = true
	}
	res.Feeds, res.Folders = feeds, folders

	q := backend.ItemQuery{ExcludeRead: true}
	if req.Type == model.ClassicSync {
		q = backend.ItemQuery{Since: req.Data.LastModified}
	}
	items, err := c.FetchItems(ctx, q)
	if err != nil {
		log.WithError(err).Warn("Nextcloud: fetch items failed")
		res.Error = true
	}
	res.Items = items

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// PushItemState marks the items read or unread. Starred state cannot be
// pushed with this API version.
func (c *Client) PushItemState(ctx context.Context, ids []string, kind model.StateKind, on bool) error {
	if len(ids) == 0 {
		return nil
	}
	if kind == model.StateStarred {
		return feederr.New(feederr.Unknown, "nextcloud push starred", ErrStarredUnsupported)
	}
	state := "unread"
	if on {
		state = "read"
	}
	numeric := lo.FilterMap(ids, func(id string, _ int) (int64, bool) {
		n, err := strconv.ParseInt(id, 10, 64)
		return n, err == nil
	})
	err := c.session.DoJSON(ctx, backend.Request{
		Op:     "nextcloud mark " + state,
		Method: http.MethodPut,
		Path:   "items/" + state + "/multiple",
		JSON:   itemIDs{Items: numeric},
	}, nil)
	if err != nil {
		return err
	}
	metrics.StatePushes.WithLabelValues(kind.String(), strconv.FormatBool(on)).Add(float64(len(numeric)))
	return nil
}

// FetchFolders returns the folders of the account.
func (c *Client) FetchFolders(ctx context.Context) ([]model.Folder, error) {
	var resp folderList
	if err := c.session.DoJSON(ctx, backend.Request{Op: "nextcloud folders", Method: http.MethodGet, Path: "folders"}, &resp); err != nil {
		return nil, err
	}
	return lo.Map(resp.Folders, func(f folder, _ int) model.Folder { return f.folder() }), nil
}

// FetchFeeds returns the feeds of the account.
func (c *Client) FetchFeeds(ctx context.Context) ([]model.Feed, error) {
	var resp feedList
	if err := c.session.DoJSON(ctx, backend.Request{Op: "nextcloud feeds", Method: http.MethodGet, Path: "feeds"}, &resp); err != nil {
		return nil, err
	}
	return lo.Map(resp.Feeds, func(f feed, _ int) model.Feed { return f.feed() }), nil
}

// FetchItems returns all items when q.Since is zero, bounded by q.Max, and
// the items modified after q.Since otherwise.
func (c *Client) FetchItems(ctx context.Context, q backend.ItemQuery) ([]model.Item, error) {
	req := backend.Request{Op: "nextcloud items", Method: http.MethodGet}
	if q.Since > 0 {
		req.Path = "items/updated"
		req.Query = url.Values{
			"lastModified": {strconv.FormatInt(q.Since, 10)},
			"type":         {typeAll},
			"id":           {"0"},
		}
	} else {
		batch := -1
		if q.Max > 0 {
			batch = q.Max
		}
		req.Path = "items"
		req.Query = url.Values{
			"type":      {typeAll},
			"id":        {"0"},
			"getRead":   {strconv.FormatBool(!q.ExcludeRead)},
			"batchSize": {strconv.Itoa(batch)},
		}
	}
	var resp itemList
	if err := c.session.DoJSON(ctx, req, &resp); err != nil {
		return nil, err
	}
	return lo.Map(resp.Items, func(it item, _ int) model.Item { return it.item() }), nil
}

// CreateFeed subscribes to feedURL. 409 means the feed exists and 422 that
// the server could not read it.
func (c *Client) CreateFeed(ctx context.Context, feedURL, folderRemoteID string) ([]model.Feed, error) {
	body := map[string]any{"url": feedURL, "folderId": nil}
	if id, err := strconv.ParseInt(folderRemoteID, 10, 64); err == nil {
		body["folderId"] = id
	}
	var resp feedList
	if err := c.session.DoJSON(ctx, backend.Request{Op: "nextcloud create feed", Method: http.MethodPost, Path: "feeds", JSON: body}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Feeds) == 0 {
		return nil, feederr.New(feederr.Parse, "nextcloud create feed", fmt.Errorf("no feed returned for %s", feedURL))
	}
	return lo.Map(resp.Feeds, func(f feed, _ int) model.Feed { return f.feed() }), nil
}

// DeleteFeed deletes the feed and its items upstream.
func (c *Client) DeleteFeed(ctx context.Context, f model.Feed) error {
	return c.session.DoJSON(ctx, backend.Request{Op: "nextcloud delete feed", Method: http.MethodDelete, Path: "feeds/" + f.RemoteID}, nil)
}

// UpdateFeed renames and moves the feed. Only the changed attributes are sent.
func (c *Client) UpdateFeed(ctx context.Context, old, updated model.Feed) error {
	if updated.Name != old.Name {
		err := c.session.DoJSON(ctx, backend.Request{
			Op:     "nextcloud rename feed",
			Method: http.MethodPut,
			Path:   "feeds/" + old.RemoteID + "/rename",
			JSON:   map[string]string{"feedTitle": updated.Name},
		}, nil)
		if err != nil {
			return err
		}
	}
	if updated.RemoteFolderID != old.RemoteFolderID {
		var folderID any
		if id, err := strconv.ParseInt(updated.RemoteFolderID, 10, 64); err == nil {
			folderID = id
		}
		err := c.session.DoJSON(ctx, backend.Request{
			Op:     "nextcloud move feed",
			Method: http.MethodPut,
			Path:   "feeds/" + old.RemoteID + "/move",
			JSON:   map[string]any{"folderId": folderID},
		}, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

// CreateFolder creates a folder. 409 means the name is taken.
func (c *Client) CreateFolder(ctx context.Context, name string) (model.Folder, error) {
	var resp folderList
	err := c.session.DoJSON(ctx, backend.Request{
		Op:     "nextcloud create folder",
		Method: http.MethodPost,
		Path:   "folders",
		JSON:   map[string]string{"name": name},
	}, &resp)
	if err != nil {
		return model.Folder{}, err
	}
	if len(resp.Folders) == 0 {
		return model.Folder{}, feederr.New(feederr.Parse, "nextcloud create folder", fmt.Errorf("no folder returned for %s", name))
	}
	return resp.Folders[0].folder(), nil
}

// RenameFolder renames a folder. Its id does not change.
func (c *Client) RenameFolder(ctx context.Context, f model.Folder, name string) (model.Folder, error) {
	err := c.session.DoJSON(ctx, backend.Request{
		Op:     "nextcloud rename folder",
		Method: http.MethodPut,
		Path:   "folders/" + f.RemoteID,
		JSON:   map[string]string{"name": name},
	}, nil)
	if err != nil {
		return model.Folder{}, err
	}
	f.Name = name
	return f, nil
}

// DeleteFolder deletes a folder upstream.
func (c *Client) DeleteFolder(ctx context.Context, f model.Folder) error {
	return c.session.DoJSON(ctx, backend.Request{Op: "nextcloud delete folder", Method: http.MethodDelete, Path: "folders/" + f.RemoteID}, nil)
}

// Close releases the connections of the session.
func (c *Client) Close() {
	c.session.Close()
}
