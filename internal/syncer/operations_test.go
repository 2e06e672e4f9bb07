package syncer

import (
	"context"
	"testing"

	"github.com/bryan-buckman/feedsync/internal/database"
	"github.com/bryan-buckman/feedsync/internal/feederr"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddFeedExistingURLIsAlreadyInserted(t *testing.T) {
	db := newTestStore(t)
	a := newAccount(t, db, "fresh", model.AccountFreshRSS)
	existing := &model.Feed{AccountID: a.ID, Name: "A", URL: "https://a.example/feed.xml"}
	_, err := db.InsertFeed(existing)
	require.NoError(t, err)

	fb := &fakeBackend{}
	res := New(db, fixed(fb), nil).AddFeed(context.Background(), a.ID, " https://a.example/feed.xml ", nil)
	require.NoError(t, res.Err)
	assert.True(t, res.AlreadyInserted)
	require.NotNil(t, res.Feed)
	assert.Equal(t, existing.ID, res.Feed.ID)
	assert.Empty(t, fb.creates, "backend not called")
}

func TestAddFeedsOneResultPerInput(t *testing.T) {
	db := newTestStore(t)
	a := newAccount(t, db, "fresh", model.AccountFreshRSS)
	folder := &model.Folder{AccountID: a.ID, Name: "News", RemoteID: "label/News"}
	_, err := db.InsertFolder(folder)
	require.NoError(t, err)

	fb := &fakeBackend{created: []model.Feed{{
		Name: "B", URL: "https://b.example/rss", RemoteID: "feed/2", RemoteFolderID: "label/News",
		ETag: "stale", IconURL: "https://b.example/i.png",
	}}}
	results := New(db, fixed(fb), nil).AddFeeds(context.Background(), a.ID, []NewFeed{
		{URL: "https://b.example/rss", FolderID: &folder.ID},
		{URL: ""},
	})
	require.Len(t, results, 2)

	require.NoError(t, results[0].Err)
	assert.False(t, results[0].AlreadyInserted)
	assert.Equal(t, []string{"https://b.example/rss|label/News"}, fb.creates)

	stored, err := db.GetFeedByURL("https://b.example/rss")
	require.NoError(t, err)
	assert.Equal(t, results[0].Feed.ID, stored.ID)
	assert.Equal(t, a.ID, stored.AccountID)
	require.NotNil(t, stored.FolderID)
	assert.Equal(t, folder.ID, *stored.FolderID)
	assert.Empty(t, stored.ETag, "validators cleared on insert")
	assert.Equal(t, "https://b.example/i.png", stored.IconURL)

	assert.Equal(t, feederr.Format, feederr.KindOf(results[1].Err))
	assert.Equal(t, 1, fb.closed)
}

func TestAddFeedBackendFailure(t *testing.T) {
	db := newTestStore(t)
	a := newAccount(t, db, "next", model.AccountNextcloud)
	fb := &fakeBackend{createErr: feederr.New(feederr.Conflict, "create feed", nil)}

	res := New(db, fixed(fb), nil).AddFeed(context.Background(), a.ID, "https://c.example/rss", nil)
	assert.Equal(t, feederr.Conflict, feederr.KindOf(res.Err))
	exists, err := db.FeedExists("https://c.example/rss")
	require.NoError(t, err)
	assert.False(t, exists)

	other := newAccount(t, db, "other", model.AccountNextcloud)
	folder := &model.Folder{AccountID: other.ID, Name: "Theirs"}
	_, err = db.InsertFolder(folder)
	require.NoError(t, err)
	res = New(db, fixed(&fakeBackend{}), nil).AddFeed(context.Background(), a.ID, "https://d.example/rss", &folder.ID)
	assert.Equal(t, feederr.NotFound, feederr.KindOf(res.Err))
}

func TestDeleteFeedIgnoresRemoteNotFound(t *testing.T) {
	db := newTestStore(t)
	a := newAccount(t, db, "next", model.AccountNextcloud)
	feed := &model.Feed{AccountID: a.ID, Name: "A", URL: "https://a.example/feed.xml", RemoteID: "39"}
	_, err := db.InsertFeed(feed)
	require.NoError(t, err)

	fb := &fakeBackend{deleteErr: feederr.New(feederr.NotFound, "delete feed", nil)}
	s := New(db, fixed(fb), nil)
	require.NoError(t, s.DeleteFeed(context.Background(), feed.ID))
	assert.Equal(t, 1, fb.deletes)

	_, err = db.GetFeedByID(feed.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	err = s.DeleteFeed(context.Background(), feed.ID)
	assert.Equal(t, feederr.NotFound, feederr.KindOf(err))
}

func TestDeleteFeedKeepsLocalCopyOnRemoteFailure(t *testing.T) {
	db := newTestStore(t)
	a := newAccount(t, db, "next", model.AccountNextcloud)
	feed := &model.Feed{AccountID: a.ID, Name: "A", URL: "https://a.example/feed.xml", RemoteID: "39"}
	_, err := db.InsertFeed(feed)
	require.NoError(t, err)

	fb := &fakeBackend{deleteErr: feederr.New(feederr.Network, "delete feed", nil)}
	err = New(db, fixed(fb), nil).DeleteFeed(context.Background(), feed.ID)
	assert.Equal(t, feederr.Network, feederr.KindOf(err))

	_, err = db.GetFeedByID(feed.ID)
	assert.NoError(t, err)
}

func TestUpdateFeedMovesAndRenames(t *testing.T) {
	db := newTestStore(t)
	a := newAccount(t, db, "fresh", model.AccountFreshRSS)
	folder := &model.Folder{AccountID: a.ID, Name: "Tech", RemoteID: "label/Tech"}
	_, err := db.InsertFolder(folder)
	require.NoError(t, err)
	feed := &model.Feed{AccountID: a.ID, Name: "A", URL: "https://a.example/feed.xml", RemoteID: "feed/1"}
	_, err = db.InsertFeed(feed)
	require.NoError(t, err)

	s := New(db, fixed(&fakeBackend{}), nil)
	require.NoError(t, s.UpdateFeed(context.Background(), feed.ID, "Renamed", &folder.ID))
	stored, err := db.GetFeedByID(feed.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Name)
	assert.Equal(t, "label/Tech", stored.RemoteFolderID)
	require.NotNil(t, stored.FolderID)

	require.NoError(t, s.UpdateFeed(context.Background(), feed.ID, "", nil))
	stored, err = db.GetFeedByID(feed.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Name)
	assert.Nil(t, stored.FolderID)
	assert.Empty(t, stored.RemoteFolderID)
}

func TestFolderOperations(t *testing.T) {
	db := newTestStore(t)
	a := newAccount(t, db, "fresh", model.AccountFreshRSS)
	fb := &fakeBackend{}
	s := New(db, fixed(fb), nil)
	ctx := context.Background()

	folder, err := s.CreateFolder(ctx, a.ID, " Tech ")
	require.NoError(t, err)
	assert.Equal(t, "Tech", folder.Name)
	assert.Equal(t, "label/Tech", folder.RemoteID)
	assert.NotZero(t, folder.ID)

	_, err = s.CreateFolder(ctx, a.ID, "Tech")
	assert.Equal(t, feederr.Conflict, feederr.KindOf(err))
	assert.Equal(t, []string{"Tech"}, fb.folders, "conflict detected before the backend call")

	_, err = s.CreateFolder(ctx, a.ID, "  ")
	assert.Equal(t, feederr.Format, feederr.KindOf(err))

	other, err := s.CreateFolder(ctx, a.ID, "Other")
	require.NoError(t, err)
	_, err = s.RenameFolder(ctx, other.ID, "Tech")
	assert.Equal(t, feederr.Conflict, feederr.KindOf(err))

	renamed, err := s.RenameFolder(ctx, folder.ID, "Science")
	require.NoError(t, err)
	assert.Equal(t, folder.ID, renamed.ID)
	stored, err := db.GetFolderByID(folder.ID)
	require.NoError(t, err)
	assert.Equal(t, "Science", stored.Name)
	assert.Equal(t, "label/Science", stored.RemoteID)

	feed := &model.Feed{AccountID: a.ID, FolderID: &folder.ID, Name: "A", URL: "https://a.example/feed.xml"}
	_, err = db.InsertFeed(feed)
	require.NoError(t, err)
	require.NoError(t, s.DeleteFolder(ctx, folder.ID))

	kept, err := db.GetFeedByID(feed.ID)
	require.NoError(t, err)
	assert.Nil(t, kept.FolderID, "feeds survive their folder")
}

func TestMarkItemState(t *testing.T) {
	db := newTestStore(t)
	s := New(db, fixed(&fakeBackend{}), nil)
	assert.Equal(t, feederr.NotFound, feederr.KindOf(s.MarkRead(42, true)))
	assert.Equal(t, feederr.NotFound, feederr.KindOf(s.MarkStarred(42, true)))
}
