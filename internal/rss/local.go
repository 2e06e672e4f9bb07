package rss

import (
	"context"

	"github.com/bryan-buckman/feedsync/internal/backend"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/normalize"
	log "github.com/sirupsen/logrus"
)

// Local is the backend of accounts reading feeds directly. The store is the
// only copy of folders and subscriptions, so remote operations are no-ops.
type Local struct {
	fetcher *Fetcher
}

var _ backend.Backend = (*Local)(nil)

// NewLocal creates a local backend fetching through f.
func NewLocal(f *Fetcher) *Local {
	return &Local{fetcher: f}
}

// Login always succeeds.
func (l *Local) Login(ctx context.Context) error {
	return nil
}

// Sync fetches req.Feeds one after the other. A failing feed is recorded in
// the result and the next one is fetched. Items of each feed come oldest first.
func (l *Local) Sync(ctx context.Context, req backend.SyncRequest) (model.SyncResult, error) {
	var res model.SyncResult
	for i, feed := range req.Feeds {
		if err := ctx.Err(); err != nil {
			log.Printf("Local sync cancelled after %d/%d feeds", i, len(req.Feeds))
			return res, err
		}
		res = res.Merge(l.syncFeed(ctx, feed))
	}
	return res, nil
}

func (l *Local) syncFeed(ctx context.Context, feed model.Feed) model.SyncResult {
	resp, err := l.fetcher.Fetch(ctx, feed.URL, model.Validators{ETag: feed.ETag, LastModified: feed.LastModified})
	if err != nil {
		return model.SyncResult{Failures: []model.FeedInsertionResult{{URL: feed.URL, Feed: &feed, Err: err}}}
	}

	res := model.SyncResult{Validators: map[int64]model.Validators{feed.ID: resp.Validators}}
	if resp.NotModified {
		return res
	}

	fetched := normalize.NewFeed(resp.Document, feed.URL)
	fetched.ID = feed.ID
	res.Feeds = []model.Feed{fetched}

	items := normalize.Items(resp.Document, feed)
	model.SortItemsOldestFirst(items)
	res.Items = items
	return res
}

// FetchFolders returns nothing: local folders only live in the store.
func (l *Local) FetchFolders(ctx context.Context) ([]model.Folder, error) {
	return nil, nil
}

// FetchFeeds returns nothing: local feeds only live in the store.
func (l *Local) FetchFeeds(ctx context.Context) ([]model.Feed, error) {
	return nil, nil
}

// FetchItems returns nothing; items are fetched per feed by Sync.
func (l *Local) FetchItems(ctx context.Context, q backend.ItemQuery) ([]model.Item, error) {
	return nil, nil
}

// PushItemState is a no-op.
func (l *Local) PushItemState(ctx context.Context, ids []string, kind model.StateKind, on bool) error {
	return nil
}

// CreateFeed fetches feedURL once to validate it and read its metadata.
func (l *Local) CreateFeed(ctx context.Context, feedURL, folderRemoteID string) ([]model.Feed, error) {
	resp, err := l.fetcher.Fetch(ctx, feedURL, model.Validators{})
	if err != nil {
		return nil, err
	}
	if resp.NotModified {
		return []model.Feed{{Name: feedURL, URL: feedURL}}, nil
	}
	return []model.Feed{normalize.NewFeed(resp.Document, feedURL)}, nil
}

// DeleteFeed is a no-op.
func (l *Local) DeleteFeed(ctx context.Context, feed model.Feed) error {
	return nil
}

// UpdateFeed is a no-op.
func (l *Local) UpdateFeed(ctx context.Context, old, updated model.Feed) error {
	return nil
}

// CreateFolder returns the folder unchanged.
func (l *Local) CreateFolder(ctx context.Context, name string) (model.Folder, error) {
	return model.Folder{Name: name}, nil
}

// RenameFolder returns the folder with its new name.
func (l *Local) RenameFolder(ctx context.Context, folder model.Folder, name string) (model.Folder, error) {
	folder.Name = name
	return folder, nil
}

// DeleteFolder is a no-op.
func (l *Local) DeleteFolder(ctx context.Context, folder model.Folder) error {
	return nil
}

// Close is a no-op; the fetcher is shared between local accounts.
func (l *Local) Close() {}
