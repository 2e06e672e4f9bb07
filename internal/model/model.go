// Package model defines shared data structures.
package model

import (
	"sort"
	"time"
)

// AccountType selects the backend an account synchronizes with.
type AccountType string

const (
	AccountLocal     AccountType = "local"
	AccountFreshRSS  AccountType = "freshrss"
	AccountNextcloud AccountType = "nextcloud"
)

// Valid reports whether t names a known backend.
func (t AccountType) Valid() bool {
	switch t {
	case AccountLocal, AccountFreshRSS, AccountNextcloud:
		return true
	}
	return false
}

// Account is one synchronization source with its credentials.
type Account struct {
	ID       int64
	Name     string
	Type     AccountType
	URL      string
	Login    string
	Password string
	// LastModified is the unix time (seconds) of the last successful round.
	// Zero means the account was never synchronized.
	LastModified int64
}

// Folder represents a user-defined grouping of feeds.
type Folder struct {
	ID        int64
	AccountID int64
	Name      string
	RemoteID  string
}

// Feed represents a subscribed RSS/Atom/JSON feed.
type Feed struct {
	ID             int64
	AccountID      int64
	FolderID       *int64 // nullable if not in a folder
	Name           string
	Description    string
	URL            string
	SiteURL        string
	IconURL        string
	ETag           string
	LastModified   string
	RemoteID       string
	RemoteFolderID string
	LastError      string
	LastFetched    time.Time
}

// Item represents a single article/entry from a feed.
type Item struct {
	ID               int64
	FeedID           int64
	GUID             string // unique across the whole store
	RemoteID         string
	RemoteFeedID     string
	Title            string
	Author           string
	Link             string
	Content          string
	Description      string
	CleanDescription string
	ImageLink        string
	ReadTime         int
	PublishedAt      time.Time
	Read             bool
	Starred          bool
	ReadChanged      bool
	StarChanged      bool
}

// SortItemsOldestFirst orders items by publication date, oldest first.
// Items sharing a date keep their relative order.
func SortItemsOldestFirst(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.Before(items[j].PublishedAt)
	})
}

// Settings key constants.
const (
	SettingPollingInterval = "polling_interval_minutes"
)
