// Package syncer runs sync rounds: it pushes pending local state, pulls
// folders, feeds and items from an account's backend and merges them into
// the store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryan-buckman/feedsync/internal/backend"
	"github.com/bryan-buckman/feedsync/internal/backend/freshrss"
	"github.com/bryan-buckman/feedsync/internal/backend/nextcloud"
	"github.com/bryan-buckman/feedsync/internal/content"
	"github.com/bryan-buckman/feedsync/internal/database"
	"github.com/bryan-buckman/feedsync/internal/feederr"
	"github.com/bryan-buckman/feedsync/internal/metrics"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/rss"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Concurrency settings
const (
	// MaxConcurrencyPostgres is the number of accounts synced in parallel on PostgreSQL
	MaxConcurrencyPostgres = 10
	// MaxConcurrencySQLite is the number of accounts synced in parallel on SQLite (limited due to locking)
	MaxConcurrencySQLite = 1
)

const iconTimeout = 30 * time.Second

// Factory creates the backend of an account.
type Factory func(account model.Account) (backend.Backend, error)

// NewFactory returns the factory used in production: local accounts share
// fetcher, remote accounts get their own session.
func NewFactory(fetcher *rss.Fetcher, timeout time.Duration) Factory {
	return func(account model.Account) (backend.Backend, error) {
		switch account.Type {
		case model.AccountLocal:
			return rss.NewLocal(fetcher), nil
		case model.AccountFreshRSS:
			return freshrss.New(account, timeout), nil
		case model.AccountNextcloud:
			return nextcloud.New(account, timeout), nil
		default:
			return nil, fmt.Errorf("unknown account type %q", account.Type)
		}
	}
}

// IconResolver finds the icon of a site.
type IconResolver interface {
	Resolve(ctx context.Context, siteURL string) (string, error)
}

// Syncer merges backend results into the store. Rounds and feed operations
// of one account are serialized; different accounts run independently.
type Syncer struct {
	store     database.Store
	factory   Factory
	processor *content.Processor
	icons     IconResolver

	mu    sync.Mutex
	locks map[int64]*sync.Mutex

	iconJobs sync.WaitGroup
}

// New creates a syncer. icons may be nil to skip icon resolution.
func New(store database.Store, factory Factory, icons IconResolver) *Syncer {
	return &Syncer{
		store:     store,
		factory:   factory,
		processor: content.NewProcessor(),
		icons:     icons,
		locks:     make(map[int64]*sync.Mutex),
	}
}

// lock serializes work on one account and returns the unlock function.
func (s *Syncer) lock(accountID int64) func() {
	s.mu.Lock()
	l, ok := s.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[accountID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Wait blocks until every pending icon job is done.
func (s *Syncer) Wait() {
	s.iconJobs.Wait()
}

// Concurrency is the number of accounts SyncAll runs at once for the store.
func (s *Syncer) Concurrency() int {
	if s.store.SupportsHighConcurrency() {
		return MaxConcurrencyPostgres
	}
	return MaxConcurrencySQLite
}

// open creates the backend of account and logs in.
func (s *Syncer) open(ctx context.Context, account model.Account) (backend.Backend, error) {
	b, err := s.factory(account)
	if err != nil {
		return nil, err
	}
	if err := b.Login(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("login: %w", err)
	}
	return b, nil
}

func (s *Syncer) account(id int64) (*model.Account, error) {
	a, err := s.store.GetAccount(id)
	if err != nil {
		return nil, storeErr(fmt.Sprintf("get account %d", id), err)
	}
	return a, nil
}

// storeErr classifies a store lookup failure.
func storeErr(op string, err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return feederr.New(feederr.NotFound, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Sync runs one round for the account. Feed failures are collected in the
// report; setup failures (unknown account, login, backend pipeline abort)
// are returned and leave pending state and LastModified untouched.
func (s *Syncer) Sync(ctx context.Context, accountID int64) (model.Report, error) {
	// The account is read under the lock so a queued round sees the
	// LastModified of the round before it.
	defer s.lock(accountID)()
	account, err := s.account(accountID)
	if err != nil {
		return model.Report{AccountID: accountID}, err
	}

	report := model.Report{
		RoundID:     uuid.NewString(),
		AccountID:   account.ID,
		AccountName: account.Name,
		SyncType:    model.SyncTypeFor(*account),
		StartedAt:   time.Now(),
	}
	logger := log.WithFields(log.Fields{
		"round":   report.RoundID,
		"account": account.Name,
		"type":    report.SyncType,
	})
	accountType := string(account.Type)

	abort := func(err error) (model.Report, error) {
		report.FinishedAt = time.Now()
		metrics.SyncRounds.WithLabelValues(accountType, "aborted").Inc()
		logger.WithError(err).Warn("Sync round aborted")
		return report, fmt.Errorf("sync %s: %w", account.Name, err)
	}

	b, err := s.open(ctx, *account)
	if err != nil {
		return abort(err)
	}
	defer b.Close()

	data, err := s.store.PendingSyncData(account.ID)
	if err != nil {
		return abort(fmt.Errorf("pending state: %w", err))
	}
	data.LastModified = account.LastModified

	req := backend.SyncRequest{Type: report.SyncType, Data: data}
	if account.Type == model.AccountLocal {
		if req.Feeds, err = s.store.GetFeeds(account.ID); err != nil {
			return abort(fmt.Errorf("list feeds: %w", err))
		}
	}

	logger.Debugf("Starting round (%d read, %d starred changes pending)", len(data.ReadStateIDs()), len(data.StarStateIDs()))
	res, err := b.Sync(ctx, req)
	if err != nil {
		return abort(err)
	}

	if err := s.persist(ctx, *account, res, &report, logger); err != nil {
		return abort(err)
	}

	if err := s.store.ClearPendingState(account.ID, res.Pushed); err != nil {
		return abort(err)
	}
	report.RemoteError = res.Error
	if !res.Error {
		if err := s.store.UpdateAccountLastModified(account.ID, report.StartedAt.Unix()); err != nil {
			return abort(fmt.Errorf("advance last modified: %w", err))
		}
	}

	report.FinishedAt = time.Now()
	outcome := "ok"
	if res.Error {
		outcome = "remote_error"
	}
	metrics.SyncRounds.WithLabelValues(accountType, outcome).Inc()
	metrics.SyncDuration.WithLabelValues(accountType).Observe(report.Duration().Seconds())

	logger.WithFields(log.Fields{
		"new_folders": report.NewFolders,
		"new_feeds":   report.NewFeeds,
		"new_items":   report.NewItems,
		"failures":    len(report.Failures),
		"duration":    report.Duration().Round(time.Millisecond),
	}).Info("Sync round done")
	return report, nil
}

// SyncAll runs a round for every account, at most Concurrency at a time.
// One account failing does not stop the others; their errors are joined.
func (s *Syncer) SyncAll(ctx context.Context) ([]model.Report, error) {
	accounts, err := s.store.GetAccounts()
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	reports := make([]model.Report, len(accounts))
	errs := make([]error, len(accounts))

	var g errgroup.Group
	g.SetLimit(s.Concurrency())
	for i, a := range accounts {
		g.Go(func() error {
			reports[i], errs[i] = s.Sync(ctx, a.ID)
			return nil
		})
	}
	g.Wait()
	return reports, errors.Join(errs...)
}

// persist merges res into the store: folders, then feeds, then the fetch
// outcome of each feed, then items. Already committed writes are kept when
// a later step fails; GUID uniqueness makes the next round idempotent.
func (s *Syncer) persist(ctx context.Context, account model.Account, res model.SyncResult, report *model.Report, logger *log.Entry) error {
	m := &merger{
		Syncer:    s,
		account:   account,
		report:    report,
		logger:    logger,
		folderIDs: make(map[string]*int64),
	}
	if err := m.mergeFolders(res.Folders); err != nil {
		return err
	}
	if err := m.mergeFeeds(res.Feeds); err != nil {
		return err
	}
	m.fetchOutcomes(res.Validators, res.Failures)
	return m.mergeItems(ctx, res.Items)
}

// merger holds the lookup tables of one persist call.
type merger struct {
	*Syncer
	account model.Account
	report  *model.Report
	logger  *log.Entry

	// folderIDs maps remote folder ids to local ids; nil for unknown folders.
	folderIDs map[string]*int64
	byID      map[int64]model.Feed
	byRemote  map[string]model.Feed
}

func (m *merger) mergeFolders(remote []model.Folder) error {
	for _, f := range remote {
		existing, err := m.findFolder(f)
		switch {
		case errors.Is(err, database.ErrNotFound):
			f.AccountID = m.account.ID
			if _, err := m.store.InsertFolder(&f); err != nil {
				m.logger.WithError(err).Warnf("Failed to insert folder %q", f.Name)
				continue
			}
			m.report.NewFolders++
			m.folderIDs[f.RemoteID] = &f.ID
		case err != nil:
			return fmt.Errorf("find folder %q: %w", f.Name, err)
		default:
			if existing.Name != f.Name || existing.RemoteID != f.RemoteID {
				existing.Name, existing.RemoteID = f.Name, f.RemoteID
				if err := m.store.UpdateFolder(existing); err != nil {
					m.logger.WithError(err).Warnf("Failed to update folder %q", f.Name)
				}
			}
			id := existing.ID
			m.folderIDs[f.RemoteID] = &id
		}
	}
	return nil
}

// findFolder matches a remote folder by remote id, then by name.
func (m *merger) findFolder(f model.Folder) (*model.Folder, error) {
	if f.RemoteID != "" {
		existing, err := m.store.GetFolderByRemoteID(m.account.ID, f.RemoteID)
		if !errors.Is(err, database.ErrNotFound) {
			return existing, err
		}
	}
	return m.store.GetFolderByName(m.account.ID, f.Name)
}

// folderID returns the local id of a remote folder, nil when unknown.
func (m *merger) folderID(remoteID string) *int64 {
	if remoteID == "" {
		return nil
	}
	if id, ok := m.folderIDs[remoteID]; ok {
		return id
	}
	var id *int64
	if f, err := m.store.GetFolderByRemoteID(m.account.ID, remoteID); err == nil {
		id = &f.ID
	}
	m.folderIDs[remoteID] = id
	return id
}

func (m *merger) mergeFeeds(fetched []model.Feed) error {
	for _, f := range fetched {
		if m.account.Type == model.AccountLocal {
			m.refreshLocalFeed(f)
			continue
		}
		if err := m.mergeRemoteFeed(f); err != nil {
			return err
		}
	}

	stored, err := m.store.GetFeeds(m.account.ID)
	if err != nil {
		return fmt.Errorf("list feeds: %w", err)
	}
	m.byID = make(map[int64]model.Feed, len(stored))
	m.byRemote = make(map[string]model.Feed, len(stored))
	for _, f := range stored {
		m.byID[f.ID] = f
		if f.RemoteID != "" {
			m.byRemote[f.RemoteID] = f
		}
	}
	return nil
}

// refreshLocalFeed fills the metadata of a stored local feed that was added
// before its document was known.
func (m *merger) refreshLocalFeed(f model.Feed) {
	existing, err := m.store.GetFeedByID(f.ID)
	if err != nil {
		return
	}
	changed := false
	if existing.Name == existing.URL && f.Name != "" && f.Name != f.URL {
		existing.Name = f.Name
		changed = true
	}
	if existing.SiteURL == "" && f.SiteURL != "" {
		existing.SiteURL = f.SiteURL
		changed = true
	}
	if existing.Description == "" && f.Description != "" {
		existing.Description = f.Description
		changed = true
	}
	if changed {
		if err := m.store.UpdateFeed(existing); err != nil {
			m.logger.WithError(err).Warnf("Failed to update feed %s", existing.URL)
		}
	}
	if existing.IconURL == "" {
		m.setIcon(*existing, f.IconURL)
	}
}

func (m *merger) mergeRemoteFeed(f model.Feed) error {
	existing, err := m.store.GetFeedByURL(f.URL)
	if errors.Is(err, database.ErrNotFound) && f.RemoteID != "" {
		existing, err = m.store.GetFeedByRemoteID(m.account.ID, f.RemoteID)
	}

	switch {
	case errors.Is(err, database.ErrNotFound):
		f.AccountID = m.account.ID
		f.FolderID = m.folderID(f.RemoteFolderID)
		f.ETag, f.LastModified = "", ""
		if _, err := m.store.InsertFeed(&f); err != nil {
			m.logger.WithError(err).Warnf("Failed to insert feed %s", f.URL)
			return nil
		}
		m.report.NewFeeds++
		m.setIcon(f, f.IconURL)
		return nil
	case err != nil:
		return fmt.Errorf("find feed %s: %w", f.URL, err)
	}

	if existing.AccountID != m.account.ID {
		m.logger.Warnf("Feed %s already belongs to account %d", f.URL, existing.AccountID)
		return nil
	}

	updated := *existing
	updated.Name = f.Name
	updated.URL = f.URL
	updated.RemoteID = f.RemoteID
	updated.RemoteFolderID = f.RemoteFolderID
	updated.FolderID = m.folderID(f.RemoteFolderID)
	if f.SiteURL != "" {
		updated.SiteURL = f.SiteURL
	}
	if !sameFeed(*existing, updated) {
		if err := m.store.UpdateFeed(&updated); err != nil {
			m.logger.WithError(err).Warnf("Failed to update feed %s", f.URL)
		}
	}
	if existing.IconURL == "" {
		m.setIcon(updated, f.IconURL)
	}
	return nil
}

func sameFeed(a, b model.Feed) bool {
	sameFolder := (a.FolderID == nil && b.FolderID == nil) ||
		(a.FolderID != nil && b.FolderID != nil && *a.FolderID == *b.FolderID)
	return sameFolder && a.Name == b.Name && a.URL == b.URL && a.SiteURL == b.SiteURL &&
		a.RemoteID == b.RemoteID && a.RemoteFolderID == b.RemoteFolderID
}

// setIcon stores iconURL, or resolves the icon of the feed's site in the
// background when the backend gave none.
func (m *merger) setIcon(f model.Feed, iconURL string) {
	if iconURL != "" {
		if err := m.store.UpdateFeedIcon(f.ID, iconURL); err != nil {
			m.logger.WithError(err).Warnf("Failed to store icon of %s", f.URL)
		}
		return
	}
	m.resolveIcon(f)
}

// resolveIcon looks up the icon of the feed's site off the round.
func (s *Syncer) resolveIcon(f model.Feed) {
	if s.icons == nil || f.SiteURL == "" {
		return
	}
	s.iconJobs.Add(1)
	go func() {
		defer s.iconJobs.Done()
		ctx, cancel := context.WithTimeout(context.Background(), iconTimeout)
		defer cancel()

		iconURL, err := s.icons.Resolve(ctx, f.SiteURL)
		if err != nil {
			log.WithError(err).Debugf("No icon for %s", f.SiteURL)
			return
		}
		if err := s.store.UpdateFeedIcon(f.ID, iconURL); err != nil {
			log.WithError(err).Warnf("Failed to store icon of %s", f.URL)
		}
	}()
}

// fetchOutcomes records validators and last fetch time of the feeds fetched
// successfully, and the error of the others.
func (m *merger) fetchOutcomes(validators map[int64]model.Validators, failures []model.FeedInsertionResult) {
	now := time.Now()
	for id, v := range validators {
		if err := m.store.UpdateFeedHeaders(v.ETag, v.LastModified, id); err != nil {
			m.logger.WithError(err).Warnf("Failed to store validators of feed %d", id)
		}
		if err := m.store.UpdateFeedLastFetched(id, now); err != nil {
			m.logger.WithError(err).Warnf("Failed to update feed %d", id)
		}
	}
	for _, f := range failures {
		metrics.FeedFailures.WithLabelValues(feederr.KindOf(f.Err).String()).Inc()
		m.logger.WithError(f.Err).Warnf("Failed to fetch %s", f.URL)
		if f.Feed != nil && f.Feed.ID != 0 {
			if err := m.store.UpdateFeedError(f.Feed.ID, f.Err.Error()); err != nil {
				m.logger.WithError(err).Warnf("Failed to record error of %s", f.URL)
			}
		}
		m.report.Failures = append(m.report.Failures, f)
	}
}

// mergeItems inserts the items whose GUID is unknown. Known items are never
// updated, so local read and starred flags survive.
func (m *merger) mergeItems(ctx context.Context, items []model.Item) error {
	accountType := string(m.account.Type)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 && i%500 == 0 {
			m.logger.Debugf("Progress: %d/%d items merged", i, len(items))
		}

		feed, ok := m.owner(item)
		if !ok {
			m.logger.Debugf("Skipping item %s of unknown feed %q", item.GUID, item.RemoteFeedID)
			continue
		}

		exists, err := m.store.GUIDExists(item.GUID)
		if err != nil {
			return fmt.Errorf("check guid: %w", err)
		}
		if exists {
			metrics.ItemsSkipped.WithLabelValues(accountType).Inc()
			continue
		}

		processed := m.processor.Process(item, feed.SiteURL)
		processed.FeedID = feed.ID
		processed.ReadChanged, processed.StarChanged = false, false
		_, inserted, err := m.store.InsertItem(&processed)
		if err != nil {
			return fmt.Errorf("insert item %s: %w", item.GUID, err)
		}
		if !inserted {
			metrics.ItemsSkipped.WithLabelValues(accountType).Inc()
			continue
		}
		metrics.ItemsInserted.WithLabelValues(accountType).Inc()
		m.report.NewItems++
	}
	return nil
}

// owner returns the stored feed an item belongs to.
func (m *merger) owner(item model.Item) (model.Feed, bool) {
	if item.FeedID != 0 {
		f, ok := m.byID[item.FeedID]
		return f, ok
	}
	f, ok := m.byRemote[item.RemoteFeedID]
	return f, ok
}
