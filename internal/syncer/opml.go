package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/bryan-buckman/feedsync/internal/database"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/opml"
	log "github.com/sirupsen/logrus"
)

// ImportOPML subscribes the account to the entries, creating their folders
// as needed. There is one result per entry.
func (s *Syncer) ImportOPML(ctx context.Context, accountID int64, entries []opml.FeedEntry) []model.FeedInsertionResult {
	folderIDs := make(map[string]*int64)
	feeds := make([]NewFeed, len(entries))
	for i, e := range entries {
		feeds[i].URL = e.URL
		name := e.Folder()
		if name == "" {
			continue
		}
		id, ok := folderIDs[name]
		if !ok {
			folder, err := s.ensureFolder(ctx, accountID, name)
			if err != nil {
				log.WithError(err).Warnf("Error creating folder %s", name)
			} else {
				id = &folder.ID
			}
			folderIDs[name] = id
		}
		feeds[i].FolderID = id
	}
	return s.AddFeeds(ctx, accountID, feeds)
}

func (s *Syncer) ensureFolder(ctx context.Context, accountID int64, name string) (model.Folder, error) {
	folder, err := s.store.GetFolderByName(accountID, name)
	if err == nil {
		return *folder, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return model.Folder{}, err
	}
	return s.CreateFolder(ctx, accountID, name)
}

// ExportOPML returns the subscriptions of the account as an OPML document.
func (s *Syncer) ExportOPML(accountID int64) ([]byte, error) {
	account, err := s.account(accountID)
	if err != nil {
		return nil, err
	}
	folders, err := s.store.ListFolders(account.ID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	feeds, err := s.store.GetFeeds(account.ID)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	return opml.Export("feedsync: "+account.Name, folders, feeds)
}
