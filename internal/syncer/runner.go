package syncer

import (
	"context"
	"sync"

	"github.com/bryan-buckman/feedsync/internal/model"
	"golang.org/x/sync/semaphore"
)

// Outcome is what a submitted round delivers.
type Outcome struct {
	Report model.Report
	Err    error
}

// Runner executes rounds in the background, at most a fixed number at a time.
type Runner struct {
	syncer *Syncer
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
}

// NewRunner creates a runner with the given number of workers; zero or less
// uses the syncer's concurrency for its store.
func NewRunner(s *Syncer, workers int) *Runner {
	if workers <= 0 {
		workers = s.Concurrency()
	}
	return &Runner{syncer: s, sem: semaphore.NewWeighted(int64(workers))}
}

// Submit queues a round of the account. The returned channel delivers one
// outcome then is closed. Cancelling ctx while the round waits for a worker
// delivers ctx's error.
func (r *Runner) Submit(ctx context.Context, accountID int64) <-chan Outcome {
	out := make(chan Outcome, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(out)

		if err := r.sem.Acquire(ctx, 1); err != nil {
			out <- Outcome{Report: model.Report{AccountID: accountID}, Err: err}
			return
		}
		defer r.sem.Release(1)

		report, err := r.syncer.Sync(ctx, accountID)
		out <- Outcome{Report: report, Err: err}
	}()
	return out
}

// Wait blocks until every submitted round and icon job is done.
func (r *Runner) Wait() {
	r.wg.Wait()
	r.syncer.Wait()
}
