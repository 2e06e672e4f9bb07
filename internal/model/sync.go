package model

import (
	"time"

	"github.com/samber/lo"
)

// SyncType distinguishes the first round of an account from later ones.
type SyncType int

const (
	InitialSync SyncType = iota
	ClassicSync
)

func (t SyncType) String() string {
	if t == InitialSync {
		return "initial"
	}
	return "classic"
}

// SyncTypeFor returns InitialSync for accounts that never completed a round.
func SyncTypeFor(a Account) SyncType {
	if a.LastModified == 0 {
		return InitialSync
	}
	return ClassicSync
}

// StateKind is the item state pushed to a remote backend.
type StateKind int

const (
	StateRead StateKind = iota
	StateStarred
)

func (k StateKind) String() string {
	if k == StateStarred {
		return "starred"
	}
	return "read"
}

// SyncData holds the local state changes waiting to be pushed upstream.
// Ids are remote item ids.
type SyncData struct {
	ReadIDs      []string
	UnreadIDs    []string
	StarredIDs   []string
	UnstarredIDs []string
	LastModified int64
}

// Empty reports whether no state change is pending.
func (d SyncData) Empty() bool {
	return len(d.ReadIDs) == 0 && len(d.UnreadIDs) == 0 &&
		len(d.StarredIDs) == 0 && len(d.UnstarredIDs) == 0
}

// ReadStateIDs returns every id whose read flag changed.
func (d SyncData) ReadStateIDs() []string {
	return lo.Uniq(append(append([]string{}, d.ReadIDs...), d.UnreadIDs...))
}

// StarStateIDs returns every id whose starred flag changed.
func (d SyncData) StarStateIDs() []string {
	return lo.Uniq(append(append([]string{}, d.StarredIDs...), d.UnstarredIDs...))
}

// Validators are the conditional-fetch cache validators of a feed.
type Validators struct {
	ETag         string
	LastModified string
}

// FeedInsertionResult is the outcome of adding or refreshing one feed.
type FeedInsertionResult struct {
	URL             string
	Feed            *Feed
	Err             error
	AlreadyInserted bool
}

// Failed reports whether the feed could not be inserted or refreshed.
func (r FeedInsertionResult) Failed() bool {
	return r.Err != nil
}

// SyncResult is what a backend returns for one round. It is treated as a
// value: stages combine results with Merge instead of mutating a shared one.
type SyncResult struct {
	Folders  []Folder
	Feeds    []Feed
	Items    []Item
	Failures []FeedInsertionResult
	// Validators maps local feed ids to the validators of their last successful fetch.
	Validators map[int64]Validators
	// Pushed holds the state changes the backend accepted this round.
	Pushed SyncData
	// Error is set when a remote call failed but the round carried on.
	Error bool
}

// Merge returns a new result holding the content of r followed by o.
func (r SyncResult) Merge(o SyncResult) SyncResult {
	out := SyncResult{
		Folders:    append(append([]Folder{}, r.Folders...), o.Folders...),
		Feeds:      append(append([]Feed{}, r.Feeds...), o.Feeds...),
		Items:      append(append([]Item{}, r.Items...), o.Items...),
		Failures:   append(append([]FeedInsertionResult{}, r.Failures...), o.Failures...),
		Validators: make(map[int64]Validators, len(r.Validators)+len(o.Validators)),
		Pushed: SyncData{
			ReadIDs:      append(append([]string{}, r.Pushed.ReadIDs...), o.Pushed.ReadIDs...),
			UnreadIDs:    append(append([]string{}, r.Pushed.UnreadIDs...), o.Pushed.UnreadIDs...),
			StarredIDs:   append(append([]string{}, r.Pushed.StarredIDs...), o.Pushed.StarredIDs...),
			UnstarredIDs: append(append([]string{}, r.Pushed.UnstarredIDs...), o.Pushed.UnstarredIDs...),
		},
		Error: r.Error || o.Error,
	}
	for id, v := range r.Validators {
		out.Validators[id] = v
	}
	for id, v := range o.Validators {
		out.Validators[id] = v
	}
	return out
}

// Report summarizes one sync round for the caller.
type Report struct {
	RoundID     string
	AccountID   int64
	AccountName string
	SyncType    SyncType
	StartedAt   time.Time
	FinishedAt  time.Time
	NewFolders  int
	NewFeeds    int
	NewItems    int
	Failures    []FeedInsertionResult
	RemoteError bool
}

// Duration is the wall time of the round.
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
