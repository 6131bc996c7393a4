package queue

import (
	"sort"
	"sync"

	"github.com/licenseforge/foreman/pkg/log"
	"github.com/licenseforge/foreman/pkg/storage"
	"github.com/licenseforge/foreman/pkg/types"
	"github.com/rs/zerolog"
)

// KindCaps reports the global concurrency cap for an agent kind.
// A return of 0 with ok=false means the kind is unknown and its jobs are
// not eligible to run; ok=true with cap<=0 means uncapped.
type KindCaps interface {
	MaxConcurrent(kind string) (cap int, ok bool)
}

// Queue delivers ready jobs from persistent storage in priority order.
// A job claimed by Next counts as active until it is either launched
// (MarkRunning) or handed back (Release).
type Queue struct {
	store  storage.Store
	caps   KindCaps
	logger zerolog.Logger

	mu      sync.Mutex
	pending []*types.Job
	claimed map[string]*types.Job
	running map[string]*types.Job
}

// New creates a queue over the given store. Call Refresh to populate it.
func New(store storage.Store, caps KindCaps) *Queue {
	return &Queue{
		store:   store,
		caps:    caps,
		logger:  log.WithComponent("queue"),
		claimed: make(map[string]*types.Job),
		running: make(map[string]*types.Job),
	}
}

// Refresh pulls pending jobs from storage that the queue does not already
// track. Called at startup and on every database update event.
func (q *Queue) Refresh() error {
	jobs, err := q.store.ListJobsByState(types.JobStatePending)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	known := make(map[string]bool, len(q.pending)+len(q.claimed)+len(q.running))
	for _, j := range q.pending {
		known[j.ID] = true
	}
	for id := range q.claimed {
		known[id] = true
	}
	for id := range q.running {
		known[id] = true
	}

	added := 0
	for _, j := range jobs {
		if !known[j.ID] {
			q.pending = append(q.pending, j)
			added++
		}
	}
	if added > 0 {
		q.sortPendingLocked()
		q.logger.Debug().Int("added", added).Int("pending", len(q.pending)).Msg("Queue refreshed")
	}
	return nil
}

// Next returns the highest-priority pending job whose kind has spare global
// capacity, or nil if none. Ties break to the oldest enqueue time. The
// returned job is claimed; nil returns leave the queue untouched.
func (q *Queue) Next() *types.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	active := q.activePerKindLocked()
	for i, j := range q.pending {
		cap, ok := q.caps.MaxConcurrent(j.Kind)
		if !ok {
			continue
		}
		if cap > 0 && active[j.Kind] >= cap {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		q.claimed[j.ID] = j
		return j
	}
	return nil
}

// Release returns a claimed job to pending. Used when no host had capacity
// or the launch failed for a reason worth retrying on a later tick.
func (q *Queue) Release(job *types.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.claimed[job.ID]; !ok {
		return
	}
	delete(q.claimed, job.ID)
	q.pending = append(q.pending, job)
	q.sortPendingLocked()
}

// MarkRunning moves a claimed job into the running set after a successful
// agent launch.
func (q *Queue) MarkRunning(job *types.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.claimed, job.ID)
	q.running[job.ID] = job
}

// Drop removes a claimed job without returning it to pending. Used when the
// launch failed terminally and the job has been marked failed.
func (q *Queue) Drop(job *types.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.claimed, job.ID)
}

// Finish removes a job from the running set once it reaches a terminal state.
func (q *Queue) Finish(job *types.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.running, job.ID)
}

// ActiveCount returns the number of claimed plus running jobs.
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.claimed) + len(q.running)
}

// PendingCount returns the number of jobs waiting to be claimed.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) activePerKindLocked() map[string]int {
	active := make(map[string]int, len(q.claimed)+len(q.running))
	for _, j := range q.claimed {
		active[j.Kind]++
	}
	for _, j := range q.running {
		active[j.Kind]++
	}
	return active
}

// sortPendingLocked keeps pending ordered by priority descending, then by
// enqueue time ascending. The sort is stable so equal jobs keep arrival order.
func (q *Queue) sortPendingLocked() {
	sort.SliceStable(q.pending, func(i, k int) bool {
		a, b := q.pending[i], q.pending[k]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	})
}
