package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/bryan-buckman/feedsync/internal/database"
	log "github.com/sirupsen/logrus"
)

// roundTimeout bounds one polling pass over every account.
const roundTimeout = 10 * time.Minute

// Poller runs continuous polling.
type Poller struct {
	syncer   *Syncer
	db       database.Store
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	interval func() time.Duration
}

// NewPoller creates a background poller syncing every account on the
// polling interval stored in the settings.
func NewPoller(s *Syncer, db database.Store) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{syncer: s, db: db, ctx: ctx, cancel: cancel}
	p.interval = p.storedInterval
	return p
}

func (p *Poller) storedInterval() time.Duration {
	interval, err := p.db.GetPollingInterval()
	if err != nil {
		log.WithError(err).Warn("Poller: Failed to read polling interval")
	}
	if interval < database.MinPollingIntervalMinutes {
		interval = database.MinPollingIntervalMinutes
	}
	return time.Duration(interval) * time.Minute
}

// Start begins the polling loop.
func (p *Poller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			interval := p.interval()
			log.Printf("Poller: Syncing all accounts (interval: %s)", interval)

			ctx, cancel := context.WithTimeout(p.ctx, roundTimeout)
			reports, err := p.syncer.SyncAll(ctx)
			cancel()

			if err != nil {
				log.Printf("Poller error: %v", err)
			}
			total, failures := 0, 0
			for _, r := range reports {
				total += r.NewItems
				failures += len(r.Failures)
			}
			log.Printf("Poller: Fetched %d new items from %d accounts (%d feed failures)", total, len(reports), failures)

			select {
			case <-p.ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}()
}

// Stop cancels the running pass and stops the poller gracefully.
func (p *Poller) Stop() {
	p.cancel()
	p.wg.Wait()
	p.syncer.Wait()
}
