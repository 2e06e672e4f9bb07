// Package backend defines the capability interface shared by the sync
// backends and the HTTP plumbing they have in common.
package backend

import (
	"context"

	"github.com/bryan-buckman/feedsync/internal/model"
)

// InitialItemsCap is the number of items requested by the first round of a
// remote account.
const InitialItemsCap = 5000

// SyncRequest carries what a backend needs for one round.
type SyncRequest struct {
	Type model.SyncType
	// Data holds the pending state changes and the time of the last round.
	Data model.SyncData
	// Feeds are the stored feeds of the account. Only the local backend uses them.
	Feeds []model.Feed
}

// ItemQuery filters the items fetched from a remote backend.
type ItemQuery struct {
	// ExcludeRead drops items already read upstream.
	ExcludeRead bool
	// Max bounds the number of items. Zero or less means no bound.
	Max int
	// Since only returns items modified after this unix time when non-zero.
	Since int64
}

// QueryFor returns the item query of a round: initial rounds skip read items
// and are capped, later rounds ask for everything changed since the last one.
func QueryFor(typ model.SyncType, lastModified int64) ItemQuery {
	if typ == model.InitialSync {
		return ItemQuery{ExcludeRead: true, Max: InitialItemsCap}
	}
	return ItemQuery{Since: lastModified}
}

// Backend is implemented once per account type. Errors returned by the
// create, update and delete operations are *feederr.Error values so callers
// can tell a missing resource from a conflict or an unreadable feed.
type Backend interface {
	// Login validates the credentials and prepares the session.
	Login(ctx context.Context) error
	// Sync runs the backend's round pipeline and returns what it fetched.
	Sync(ctx context.Context, req SyncRequest) (model.SyncResult, error)

	FetchFolders(ctx context.Context) ([]model.Folder, error)
	FetchFeeds(ctx context.Context) ([]model.Feed, error)
	FetchItems(ctx context.Context, q ItemQuery) ([]model.Item, error)
	// PushItemState turns kind on or off for the items with the given remote ids.
	PushItemState(ctx context.Context, ids []string, kind model.StateKind, on bool) error

	// CreateFeed subscribes to url, in the folder with the given remote id
	// when not empty, and returns the feeds the backend created.
	CreateFeed(ctx context.Context, url, folderRemoteID string) ([]model.Feed, error)
	DeleteFeed(ctx context.Context, feed model.Feed) error
	// UpdateFeed applies the name and folder of updated to the remote copy of old.
	UpdateFeed(ctx context.Context, old, updated model.Feed) error
	CreateFolder(ctx context.Context, name string) (model.Folder, error)
	// RenameFolder returns the folder as known by the backend after the rename.
	RenameFolder(ctx context.Context, folder model.Folder, name string) (model.Folder, error)
	DeleteFolder(ctx context.Context, folder model.Folder) error

	// Close releases the HTTP connections of the session.
	Close()
}
