// Package database provides storage backends for the sync engine.
package database

import (
	"errors"
	"time"

	"github.com/bryan-buckman/feedsync/internal/model"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
// Uniqueness (feed URL, item GUID, folder name per account) is enforced by
// the schema, so concurrent rounds never need an application-level lock.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// SupportsHighConcurrency returns true if the database can handle
	// many concurrent write operations (e.g., PostgreSQL).
	// SQLite returns false due to write locking limitations.
	SupportsHighConcurrency() bool

	// Account operations
	UpsertAccount(a *model.Account) (int64, error)
	GetAccount(id int64) (*model.Account, error)
	GetAccountByName(name string) (*model.Account, error)
	GetAccounts() ([]model.Account, error)
	UpdateAccountLastModified(id, lastModified int64) error

	// Folder operations
	ListFolders(accountID int64) ([]model.Folder, error)
	GetFolderByID(id int64) (*model.Folder, error)
	GetFolderByName(accountID int64, name string) (*model.Folder, error)
	GetFolderByRemoteID(accountID int64, remoteID string) (*model.Folder, error)
	InsertFolder(f *model.Folder) (int64, error)
	UpdateFolder(f *model.Folder) error
	DeleteFolder(id int64) error

	// Feed operations
	GetAllFeeds() ([]model.Feed, error)
	GetFeeds(accountID int64) ([]model.Feed, error)
	GetFeedByID(id int64) (*model.Feed, error)
	GetFeedByURL(url string) (*model.Feed, error)
	GetFeedByRemoteID(accountID int64, remoteID string) (*model.Feed, error)
	FeedExists(url string) (bool, error)
	InsertFeed(f *model.Feed) (int64, error)
	UpdateFeed(f *model.Feed) error
	UpdateFeedHeaders(etag, lastModified string, id int64) error
	UpdateFeedIcon(id int64, iconURL string) error
	UpdateFeedLastFetched(id int64, t time.Time) error
	UpdateFeedError(id int64, errMsg string) error
	DeleteFeed(id int64) error

	// Item operations
	GUIDExists(guid string) (bool, error)
	InsertItem(item *model.Item) (int64, bool, error)
	GetItemByID(id int64) (*model.Item, error)
	GetItems(feedID int64, onlyUnread bool) ([]model.Item, error)
	SetItemRead(id int64, read bool) error
	SetItemStarred(id int64, starred bool) error
	PendingSyncData(accountID int64) (model.SyncData, error)
	ClearPendingState(accountID int64, data model.SyncData) error

	// Settings operations
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
	GetPollingInterval() (int, error)
}
