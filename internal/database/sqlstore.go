package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bryan-buckman/feedsync/internal/model"
	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/samber/lo"
)

// MinPollingIntervalMinutes is the lower bound of the polling interval setting.
const MinPollingIntervalMinutes = 15

// sqlStore holds the queries shared by the SQLite and PostgreSQL stores.
// Queries are written with '?' placeholders and rebound for PostgreSQL.
type sqlStore struct {
	conn   *sql.DB
	flavor sqlbuilder.Flavor
}

func (s *sqlStore) rebind(query string) string {
	if s.flavor != sqlbuilder.PostgreSQL {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(query string, args ...any) (sql.Result, error) {
	return s.conn.Exec(s.rebind(query), args...)
}

func (s *sqlStore) queryRow(query string, args ...any) *sql.Row {
	return s.conn.QueryRow(s.rebind(query), args...)
}

func (s *sqlStore) query(query string, args ...any) (*sql.Rows, error) {
	return s.conn.Query(s.rebind(query), args...)
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.conn.Close()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// --- Account Methods ---

const accountColumns = "id, name, type, url, login, password, last_modified"

func scanAccount(row interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	var typ string
	if err := row.Scan(&a.ID, &a.Name, &typ, &a.URL, &a.Login, &a.Password, &a.LastModified); err != nil {
		return nil, notFound(err)
	}
	a.Type = model.AccountType(typ)
	return &a, nil
}

// UpsertAccount inserts the account or updates the one with the same name.
// Changing the type or URL of an account resets its last sync time.
func (s *sqlStore) UpsertAccount(a *model.Account) (int64, error) {
	var id int64
	err := s.queryRow(`
		INSERT INTO accounts (name, type, url, login, password, last_modified)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT (name) DO UPDATE SET
			last_modified = CASE WHEN accounts.type = excluded.type AND accounts.url = excluded.url
				THEN accounts.last_modified ELSE 0 END,
			type = excluded.type,
			url = excluded.url,
			login = excluded.login,
			password = excluded.password
		RETURNING id`,
		a.Name, string(a.Type), a.URL, a.Login, a.Password).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert account %s: %w", a.Name, err)
	}
	a.ID = id
	return id, nil
}

// GetAccount returns the account with the given id.
func (s *sqlStore) GetAccount(id int64) (*model.Account, error) {
	return scanAccount(s.queryRow("SELECT "+accountColumns+" FROM accounts WHERE id = ?", id))
}

// GetAccountByName returns the account with the given name.
func (s *sqlStore) GetAccountByName(name string) (*model.Account, error) {
	return scanAccount(s.queryRow("SELECT "+accountColumns+" FROM accounts WHERE name = ?", name))
}

// GetAccounts returns all accounts ordered by id.
func (s *sqlStore) GetAccounts() ([]model.Account, error) {
	rows, err := s.query("SELECT " + accountColumns + " FROM accounts ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// UpdateAccountLastModified stores the time of the last successful round.
func (s *sqlStore) UpdateAccountLastModified(id, lastModified int64) error {
	_, err := s.exec("UPDATE accounts SET last_modified = ? WHERE id = ?", lastModified, id)
	return err
}

// --- Folder Methods ---

const folderColumns = "id, account_id, name, remote_id"

func scanFolder(row interface{ Scan(...any) error }) (*model.Folder, error) {
	var f model.Folder
	if err := row.Scan(&f.ID, &f.AccountID, &f.Name, &f.RemoteID); err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

// ListFolders returns the folders of an account ordered by name.
func (s *sqlStore) ListFolders(accountID int64) ([]model.Folder, error) {
	rows, err := s.query("SELECT "+folderColumns+" FROM folders WHERE account_id = ? ORDER BY name", accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var folders []model.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		folders = append(folders, *f)
	}
	return folders, rows.Err()
}

// GetFolderByID returns a folder by id.
func (s *sqlStore) GetFolderByID(id int64) (*model.Folder, error) {
	return scanFolder(s.queryRow("SELECT "+folderColumns+" FROM folders WHERE id = ?", id))
}

// GetFolderByName returns a folder of the account by name.
func (s *sqlStore) GetFolderByName(accountID int64, name string) (*model.Folder, error) {
	return scanFolder(s.queryRow("SELECT "+folderColumns+" FROM folders WHERE account_id = ? AND name = ?", accountID, name))
}

// GetFolderByRemoteID returns a folder of the account by backend id.
func (s *sqlStore) GetFolderByRemoteID(accountID int64, remoteID string) (*model.Folder, error) {
	return scanFolder(s.queryRow("SELECT "+folderColumns+" FROM folders WHERE account_id = ? AND remote_id = ?", accountID, remoteID))
}

// InsertFolder creates a new folder. Returns the ID.
func (s *sqlStore) InsertFolder(f *model.Folder) (int64, error) {
	var id int64
	err := s.queryRow("INSERT INTO folders (account_id, name, remote_id) VALUES (?, ?, ?) RETURNING id",
		f.AccountID, f.Name, f.RemoteID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert folder %s: %w", f.Name, err)
	}
	f.ID = id
	return id, nil
}

// UpdateFolder saves the name and backend id of a folder.
func (s *sqlStore) UpdateFolder(f *model.Folder) error {
	_, err := s.exec("UPDATE folders SET name = ?, remote_id = ? WHERE id = ?", f.Name, f.RemoteID, f.ID)
	return err
}

// DeleteFolder deletes a folder. Its feeds are kept and become folder-less.
func (s *sqlStore) DeleteFolder(id int64) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(s.rebind("UPDATE feeds SET folder_id = NULL WHERE folder_id = ?"), id); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(s.rebind("DELETE FROM folders WHERE id = ?"), id); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- Feed Methods ---

const feedColumns = `id, account_id, folder_id, name, description, url, site_url, icon_url,
	etag, last_modified, remote_id, remote_folder_id, last_error, last_fetched`

func scanFeed(row interface{ Scan(...any) error }) (*model.Feed, error) {
	var f model.Feed
	var lastFetched sql.NullTime
	if err := row.Scan(&f.ID, &f.AccountID, &f.FolderID, &f.Name, &f.Description, &f.URL, &f.SiteURL, &f.IconURL,
		&f.ETag, &f.LastModified, &f.RemoteID, &f.RemoteFolderID, &f.LastError, &lastFetched); err != nil {
		return nil, notFound(err)
	}
	if lastFetched.Valid {
		f.LastFetched = lastFetched.Time
	}
	return &f, nil
}

func (s *sqlStore) listFeeds(query string, args ...any) ([]model.Feed, error) {
	rows, err := s.query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

// GetAllFeeds returns all feeds of every account.
func (s *sqlStore) GetAllFeeds() ([]model.Feed, error) {
	return s.listFeeds("SELECT " + feedColumns + " FROM feeds ORDER BY name")
}

// GetFeeds returns the feeds of an account.
func (s *sqlStore) GetFeeds(accountID int64) ([]model.Feed, error) {
	return s.listFeeds("SELECT "+feedColumns+" FROM feeds WHERE account_id = ? ORDER BY name", accountID)
}

// GetFeedByID returns a feed by id.
func (s *sqlStore) GetFeedByID(id int64) (*model.Feed, error) {
	return scanFeed(s.queryRow("SELECT "+feedColumns+" FROM feeds WHERE id = ?", id))
}

// GetFeedByURL returns the feed subscribed at url.
func (s *sqlStore) GetFeedByURL(url string) (*model.Feed, error) {
	return scanFeed(s.queryRow("SELECT "+feedColumns+" FROM feeds WHERE url = ?", url))
}

// GetFeedByRemoteID returns a feed of the account by backend id.
func (s *sqlStore) GetFeedByRemoteID(accountID int64, remoteID string) (*model.Feed, error) {
	return scanFeed(s.queryRow("SELECT "+feedColumns+" FROM feeds WHERE account_id = ? AND remote_id = ?", accountID, remoteID))
}

// FeedExists reports whether a feed is subscribed at url.
func (s *sqlStore) FeedExists(url string) (bool, error) {
	var n int
	if err := s.queryRow("SELECT COUNT(*) FROM feeds WHERE url = ?", url).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertFeed adds a new feed. Returns the ID.
func (s *sqlStore) InsertFeed(f *model.Feed) (int64, error) {
	var id int64
	err := s.queryRow(`
		INSERT INTO feeds (account_id, folder_id, name, description, url, site_url, icon_url,
			etag, last_modified, remote_id, remote_folder_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		f.AccountID, f.FolderID, f.Name, f.Description, f.URL, f.SiteURL, f.IconURL,
		f.ETag, f.LastModified, f.RemoteID, f.RemoteFolderID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert feed %s: %w", f.URL, err)
	}
	f.ID = id
	return id, nil
}

// UpdateFeed saves the editable fields of a feed.
func (s *sqlStore) UpdateFeed(f *model.Feed) error {
	_, err := s.exec(`
		UPDATE feeds SET folder_id = ?, name = ?, description = ?, url = ?, site_url = ?,
			remote_id = ?, remote_folder_id = ?
		WHERE id = ?`,
		f.FolderID, f.Name, f.Description, f.URL, f.SiteURL, f.RemoteID, f.RemoteFolderID, f.ID)
	return err
}

// UpdateFeedHeaders stores the conditional-fetch validators of a feed.
func (s *sqlStore) UpdateFeedHeaders(etag, lastModified string, id int64) error {
	_, err := s.exec("UPDATE feeds SET etag = ?, last_modified = ? WHERE id = ?", etag, lastModified, id)
	return err
}

// UpdateFeedIcon stores the resolved icon of a feed.
func (s *sqlStore) UpdateFeedIcon(id int64, iconURL string) error {
	_, err := s.exec("UPDATE feeds SET icon_url = ? WHERE id = ?", iconURL, id)
	return err
}

// UpdateFeedLastFetched updates the last_fetched timestamp and clears any previous error.
func (s *sqlStore) UpdateFeedLastFetched(id int64, t time.Time) error {
	_, err := s.exec("UPDATE feeds SET last_fetched = ?, last_error = '' WHERE id = ?", nullTime(t), id)
	return err
}

// maxFeedErrorRunes bounds the stored fetch error.
const maxFeedErrorRunes = 200

// UpdateFeedError records the last fetch error of a feed for display.
func (s *sqlStore) UpdateFeedError(id int64, errMsg string) error {
	errMsg = truncateRunes(errMsg, maxFeedErrorRunes)
	_, err := s.exec("UPDATE feeds SET last_error = ? WHERE id = ?", errMsg, id)
	return err
}

// truncateRunes cuts s to at most n runes, never inside one.
func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// DeleteFeed deletes a feed and its items.
func (s *sqlStore) DeleteFeed(id int64) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(s.rebind("DELETE FROM items WHERE feed_id = ?"), id); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(s.rebind("DELETE FROM feeds WHERE id = ?"), id); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- Item Methods ---

const itemColumns = `items.id, items.feed_id, items.guid, items.remote_id, feeds.remote_id, items.title,
	items.author, items.link, items.content, items.description, items.clean_description, items.image_link,
	items.read_time, items.published_at, items.is_read, items.is_starred, items.read_changed, items.star_changed`

func scanItem(row interface{ Scan(...any) error }) (*model.Item, error) {
	var it model.Item
	var publishedAt sql.NullTime
	if err := row.Scan(&it.ID, &it.FeedID, &it.GUID, &it.RemoteID, &it.RemoteFeedID, &it.Title,
		&it.Author, &it.Link, &it.Content, &it.Description, &it.CleanDescription, &it.ImageLink,
		&it.ReadTime, &publishedAt, &it.Read, &it.Starred, &it.ReadChanged, &it.StarChanged); err != nil {
		return nil, notFound(err)
	}
	if publishedAt.Valid {
		it.PublishedAt = publishedAt.Time
	}
	return &it, nil
}

// GUIDExists reports whether an item with the GUID is stored.
func (s *sqlStore) GUIDExists(guid string) (bool, error) {
	var n int
	if err := s.queryRow("SELECT COUNT(*) FROM items WHERE guid = ?", guid).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertItem inserts a new item if its GUID doesn't exist. Returns ID and whether it was new.
// An existing item is never updated.
func (s *sqlStore) InsertItem(item *model.Item) (int64, bool, error) {
	var id int64
	err := s.queryRow(`
		INSERT INTO items (feed_id, guid, remote_id, title, author, link, content, description,
			clean_description, image_link, read_time, published_at, is_read, is_starred)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (guid) DO NOTHING
		RETURNING id`,
		item.FeedID, item.GUID, item.RemoteID, item.Title, item.Author, item.Link, item.Content, item.Description,
		item.CleanDescription, item.ImageLink, item.ReadTime, nullTime(item.PublishedAt), item.Read, item.Starred).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("insert item %s: %w", item.GUID, err)
	}
	item.ID = id
	return id, true, nil
}

// GetItemByID returns an item by id.
func (s *sqlStore) GetItemByID(id int64) (*model.Item, error) {
	return scanItem(s.queryRow("SELECT "+itemColumns+" FROM items JOIN feeds ON feeds.id = items.feed_id WHERE items.id = ?", id))
}

// GetItems returns items for a feed, ordered by published date desc.
func (s *sqlStore) GetItems(feedID int64, onlyUnread bool) ([]model.Item, error) {
	query := "SELECT " + itemColumns + " FROM items JOIN feeds ON feeds.id = items.feed_id WHERE items.feed_id = ?"
	args := []any{feedID}
	if onlyUnread {
		query += " AND items.is_read = ?"
		args = append(args, false)
	}
	query += " ORDER BY items.published_at DESC, items.id DESC"
	rows, err := s.query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// SetItemRead changes the read flag of an item and tracks it for the next push.
// Any change of value stays pending until a push of that value is cleared.
func (s *sqlStore) SetItemRead(id int64, read bool) error {
	res, err := s.exec(`
		UPDATE items SET
			read_changed = CASE WHEN is_read = ? THEN read_changed ELSE TRUE END,
			is_read = ?
		WHERE id = ?`, read, read, id)
	return affectedOne(res, err)
}

// SetItemStarred changes the starred flag of an item and tracks it for the next push.
func (s *sqlStore) SetItemStarred(id int64, starred bool) error {
	res, err := s.exec(`
		UPDATE items SET
			star_changed = CASE WHEN is_starred = ? THEN star_changed ELSE TRUE END,
			is_starred = ?
		WHERE id = ?`, starred, starred, id)
	return affectedOne(res, err)
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingSyncData collects the state changes of an account not pushed yet.
func (s *sqlStore) PendingSyncData(accountID int64) (model.SyncData, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select("items.remote_id", "items.is_read", "items.is_starred", "items.read_changed", "items.star_changed").
		From("items").
		Join("feeds", "feeds.id = items.feed_id").
		Where(
			sb.Equal("feeds.account_id", accountID),
			sb.NotEqual("items.remote_id", ""),
			sb.Or(sb.Equal("items.read_changed", true), sb.Equal("items.star_changed", true)),
		).
		OrderBy("items.id")
	query, args := sb.Build()

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return model.SyncData{}, err
	}
	defer rows.Close()

	var data model.SyncData
	for rows.Next() {
		var remoteID string
		var read, starred, readChanged, starChanged bool
		if err := rows.Scan(&remoteID, &read, &starred, &readChanged, &starChanged); err != nil {
			return model.SyncData{}, err
		}
		switch {
		case readChanged && read:
			data.ReadIDs = append(data.ReadIDs, remoteID)
		case readChanged:
			data.UnreadIDs = append(data.UnreadIDs, remoteID)
		}
		switch {
		case starChanged && starred:
			data.StarredIDs = append(data.StarredIDs, remoteID)
		case starChanged:
			data.UnstarredIDs = append(data.UnstarredIDs, remoteID)
		}
	}
	return data, rows.Err()
}

// ClearPendingState marks the changes listed in data as pushed. A row whose
// flag changed again since data was collected keeps its pending change.
func (s *sqlStore) ClearPendingState(accountID int64, data model.SyncData) error {
	clearFlag := func(changed, value string, pushed bool, ids []string) error {
		if len(ids) == 0 {
			return nil
		}
		feeds := s.flavor.NewSelectBuilder()
		feeds.Select("id").From("feeds").Where(feeds.Equal("account_id", accountID))

		ub := s.flavor.NewUpdateBuilder()
		ub.Update("items").
			Set(ub.Assign(changed, false)).
			Where(
				ub.In("remote_id", lo.ToAnySlice(ids)...),
				ub.In("feed_id", feeds),
				ub.Equal(value, pushed),
			)
		query, args := ub.Build()
		_, err := s.conn.Exec(query, args...)
		return err
	}
	if err := clearFlag("read_changed", "is_read", true, data.ReadIDs); err != nil {
		return fmt.Errorf("clear read state: %w", err)
	}
	if err := clearFlag("read_changed", "is_read", false, data.UnreadIDs); err != nil {
		return fmt.Errorf("clear unread state: %w", err)
	}
	if err := clearFlag("star_changed", "is_starred", true, data.StarredIDs); err != nil {
		return fmt.Errorf("clear starred state: %w", err)
	}
	if err := clearFlag("star_changed", "is_starred", false, data.UnstarredIDs); err != nil {
		return fmt.Errorf("clear unstarred state: %w", err)
	}
	return nil
}

// --- Settings Methods ---

// GetSetting retrieves a setting value.
func (s *sqlStore) GetSetting(key string) (string, error) {
	var val string
	err := s.queryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&val)
	return val, notFound(err)
}

// SetSetting saves a setting.
func (s *sqlStore) SetSetting(key, value string) error {
	_, err := s.exec("INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value", key, value)
	return err
}

// GetPollingInterval returns the polling interval in minutes, with a minimum of 15.
func (s *sqlStore) GetPollingInterval() (int, error) {
	val, err := s.GetSetting(model.SettingPollingInterval)
	if errors.Is(err, ErrNotFound) {
		return MinPollingIntervalMinutes, nil // default
	}
	if err != nil {
		return 0, err
	}
	mins, _ := strconv.Atoi(val)
	if mins < MinPollingIntervalMinutes {
		mins = MinPollingIntervalMinutes
	}
	return mins, nil
}
