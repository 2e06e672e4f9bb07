package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bryan-buckman/feedsync/internal/backend"
	"github.com/bryan-buckman/feedsync/internal/database"
	"github.com/bryan-buckman/feedsync/internal/feederr"
	"github.com/bryan-buckman/feedsync/internal/model"
	log "github.com/sirupsen/logrus"
)

// NewFeed is a feed to subscribe to. FolderID is the local folder, nil for
// the root.
type NewFeed struct {
	URL      string
	FolderID *int64
}

// AddFeed subscribes the account to feedURL. A URL already stored gives an
// AlreadyInserted result without calling the backend.
func (s *Syncer) AddFeed(ctx context.Context, accountID int64, feedURL string, folderID *int64) model.FeedInsertionResult {
	return s.AddFeeds(ctx, accountID, []NewFeed{{URL: feedURL, FolderID: folderID}})[0]
}

// AddFeeds subscribes the account to every feed in order, through one
// backend session. There is one result per input, in input order.
func (s *Syncer) AddFeeds(ctx context.Context, accountID int64, feeds []NewFeed) []model.FeedInsertionResult {
	results := make([]model.FeedInsertionResult, len(feeds))
	for i, f := range feeds {
		results[i].URL = strings.TrimSpace(f.URL)
	}

	fail := func(err error) []model.FeedInsertionResult {
		for i := range results {
			if results[i].Err == nil && !results[i].AlreadyInserted {
				results[i].Err = err
			}
		}
		return results
	}

	defer s.lock(accountID)()
	account, err := s.account(accountID)
	if err != nil {
		return fail(err)
	}

	var b backend.Backend
	for i, f := range feeds {
		res := &results[i]
		if res.URL == "" {
			res.Err = feederr.New(feederr.Format, "add feed", errors.New("empty url"))
			continue
		}
		if existing, err := s.store.GetFeedByURL(res.URL); err == nil {
			res.Feed, res.AlreadyInserted = existing, true
			continue
		} else if !errors.Is(err, database.ErrNotFound) {
			res.Err = fmt.Errorf("find feed %s: %w", res.URL, err)
			continue
		}

		if b == nil {
			if b, err = s.open(ctx, *account); err != nil {
				return fail(fmt.Errorf("add feeds to %s: %w", account.Name, err))
			}
			defer b.Close()
		}
		res.Feed, res.AlreadyInserted, res.Err = s.addFeed(ctx, b, *account, res.URL, f.FolderID)
		if res.Err != nil {
			log.WithError(res.Err).Warnf("Failed to add feed %s", res.URL)
		}
	}
	return results
}

func (s *Syncer) addFeed(ctx context.Context, b backend.Backend, account model.Account, feedURL string, folderID *int64) (*model.Feed, bool, error) {
	var folderRemoteID string
	if folderID != nil {
		folder, err := s.folderOf(account.ID, *folderID)
		if err != nil {
			return nil, false, err
		}
		folderRemoteID = folder.RemoteID
	}

	created, err := b.CreateFeed(ctx, feedURL, folderRemoteID)
	if err != nil {
		return nil, false, err
	}
	if len(created) == 0 {
		return nil, false, feederr.New(feederr.Format, "add feed "+feedURL, errors.New("backend created no feed"))
	}

	// The backend may answer with an existing subscription, under a URL
	// other than the requested one.
	var inserted, existing *model.Feed
	for _, f := range created {
		if e, err := s.store.GetFeedByURL(f.URL); err == nil {
			if existing == nil {
				existing = e
			}
			continue
		}
		f.AccountID = account.ID
		f.FolderID = folderID
		f.ETag, f.LastModified = "", ""
		if _, err := s.store.InsertFeed(&f); err != nil {
			return nil, false, feederr.New(feederr.Conflict, "add feed "+f.URL, err)
		}
		if inserted == nil {
			first := f
			inserted = &first
		}
		if f.IconURL != "" {
			if err := s.store.UpdateFeedIcon(f.ID, f.IconURL); err != nil {
				log.WithError(err).Warnf("Failed to store icon of %s", f.URL)
			}
		} else {
			s.resolveIcon(f)
		}
	}
	if inserted != nil {
		return inserted, false, nil
	}
	return existing, true, nil
}

// folderOf returns the folder with the given id if it belongs to the account.
func (s *Syncer) folderOf(accountID, folderID int64) (*model.Folder, error) {
	op := fmt.Sprintf("get folder %d", folderID)
	folder, err := s.store.GetFolderByID(folderID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	if folder.AccountID != accountID {
		return nil, feederr.New(feederr.NotFound, op, database.ErrNotFound)
	}
	return folder, nil
}

// withFeed loads a feed, locks its account and opens the account backend.
func (s *Syncer) withFeed(ctx context.Context, feedID int64, fn func(backend.Backend, *model.Feed) error) error {
	feed, err := s.store.GetFeedByID(feedID)
	if err != nil {
		return storeErr(fmt.Sprintf("get feed %d", feedID), err)
	}
	return s.withAccount(ctx, feed.AccountID, func(b backend.Backend, _ *model.Account) error {
		return fn(b, feed)
	})
}

// withAccount locks the account and runs fn with its logged in backend.
func (s *Syncer) withAccount(ctx context.Context, accountID int64, fn func(backend.Backend, *model.Account) error) error {
	defer s.lock(accountID)()
	account, err := s.account(accountID)
	if err != nil {
		return err
	}

	b, err := s.open(ctx, *account)
	if err != nil {
		return fmt.Errorf("%s: %w", account.Name, err)
	}
	defer b.Close()
	return fn(b, account)
}

// DeleteFeed unsubscribes and deletes the feed with its items. A feed the
// backend no longer knows is deleted locally all the same.
func (s *Syncer) DeleteFeed(ctx context.Context, feedID int64) error {
	return s.withFeed(ctx, feedID, func(b backend.Backend, feed *model.Feed) error {
		if err := b.DeleteFeed(ctx, *feed); err != nil && !feederr.Is(err, feederr.NotFound) {
			return err
		}
		if err := s.store.DeleteFeed(feed.ID); err != nil {
			return fmt.Errorf("delete feed %d: %w", feed.ID, err)
		}
		return nil
	})
}

// UpdateFeed renames the feed when name is not empty and moves it to
// folderID, nil meaning the root.
func (s *Syncer) UpdateFeed(ctx context.Context, feedID int64, name string, folderID *int64) error {
	return s.withFeed(ctx, feedID, func(b backend.Backend, feed *model.Feed) error {
		updated := *feed
		if name = strings.TrimSpace(name); name != "" {
			updated.Name = name
		}
		updated.FolderID = folderID
		updated.RemoteFolderID = ""
		if folderID != nil {
			folder, err := s.folderOf(feed.AccountID, *folderID)
			if err != nil {
				return err
			}
			updated.RemoteFolderID = folder.RemoteID
		}

		if err := b.UpdateFeed(ctx, *feed, updated); err != nil {
			return err
		}
		if err := s.store.UpdateFeed(&updated); err != nil {
			return fmt.Errorf("update feed %d: %w", feed.ID, err)
		}
		return nil
	})
}

// CreateFolder creates a folder on the backend then in the store. Names
// are unique per account.
func (s *Syncer) CreateFolder(ctx context.Context, accountID int64, name string) (model.Folder, error) {
	name = strings.TrimSpace(name)
	op := "create folder " + name
	if name == "" {
		return model.Folder{}, feederr.New(feederr.Format, "create folder", errors.New("empty name"))
	}

	var folder model.Folder
	err := s.withAccount(ctx, accountID, func(b backend.Backend, account *model.Account) error {
		if err := s.checkFolderName(account.ID, name, 0); err != nil {
			return feederr.New(feederr.Conflict, op, err)
		}
		remote, err := b.CreateFolder(ctx, name)
		if err != nil {
			return err
		}
		folder = model.Folder{AccountID: account.ID, Name: name, RemoteID: remote.RemoteID}
		if _, err := s.store.InsertFolder(&folder); err != nil {
			return feederr.New(feederr.Conflict, op, err)
		}
		return nil
	})
	return folder, err
}

// checkFolderName fails when another folder of the account, other than
// exceptID, already has name.
func (s *Syncer) checkFolderName(accountID int64, name string, exceptID int64) error {
	existing, err := s.store.GetFolderByName(accountID, name)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID == exceptID:
		return nil
	default:
		return fmt.Errorf("folder %q already exists", name)
	}
}

// RenameFolder renames the folder on the backend then in the store.
func (s *Syncer) RenameFolder(ctx context.Context, folderID int64, name string) (model.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Folder{}, feederr.New(feederr.Format, "rename folder", errors.New("empty name"))
	}
	folder, err := s.store.GetFolderByID(folderID)
	if err != nil {
		return model.Folder{}, storeErr(fmt.Sprintf("get folder %d", folderID), err)
	}

	op := "rename folder " + folder.Name
	renamed := *folder
	err = s.withAccount(ctx, folder.AccountID, func(b backend.Backend, _ *model.Account) error {
		if err := s.checkFolderName(folder.AccountID, name, folder.ID); err != nil {
			return feederr.New(feederr.Conflict, op, err)
		}
		remote, err := b.RenameFolder(ctx, *folder, name)
		if err != nil {
			return err
		}
		renamed.Name, renamed.RemoteID = name, remote.RemoteID
		if err := s.store.UpdateFolder(&renamed); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
	return renamed, err
}

// DeleteFolder deletes the folder. Its feeds stay, moved to the root.
func (s *Syncer) DeleteFolder(ctx context.Context, folderID int64) error {
	folder, err := s.store.GetFolderByID(folderID)
	if err != nil {
		return storeErr(fmt.Sprintf("get folder %d", folderID), err)
	}
	return s.withAccount(ctx, folder.AccountID, func(b backend.Backend, _ *model.Account) error {
		if err := b.DeleteFolder(ctx, *folder); err != nil && !feederr.Is(err, feederr.NotFound) {
			return err
		}
		if err := s.store.DeleteFolder(folder.ID); err != nil {
			return fmt.Errorf("delete folder %d: %w", folder.ID, err)
		}
		return nil
	})
}

// MarkRead sets the read flag of an item. The change is pushed upstream by
// the next round of its account.
func (s *Syncer) MarkRead(itemID int64, read bool) error {
	if err := s.store.SetItemRead(itemID, read); err != nil {
		return storeErr(fmt.Sprintf("mark item %d read", itemID), err)
	}
	return nil
}

// MarkStarred sets the starred flag of an item. The change is pushed
// upstream by the next round of its account.
func (s *Syncer) MarkStarred(itemID int64, starred bool) error {
	if err := s.store.SetItemStarred(itemID, starred); err != nil {
		return storeErr(fmt.Sprintf("mark item %d starred", itemID), err)
	}
	return nil
}
