// Package memory is an in-process broker. It is safe for concurrent use
// and intended for tests and single-process development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/id"
	"github.com/hirelane/taskcore/job"
)

var _ job.Store = (*Store)(nil)

// Store keeps jobs in a map guarded by one mutex. Every read returns a
// copy so callers can mutate freely.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs: make(map[string]*job.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate is a no-op.
func (s *Store) Migrate(context.Context) error { return nil }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func clone(j *job.Job) *job.Job {
	cp := *j
	return &cp
}

// EnqueueJob implements job.Store.
func (s *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := j.ID.String()
	if _, exists := s.jobs[key]; exists {
		return taskcore.ErrJobAlreadyExists
	}
	s.jobs[key] = clone(j)
	return nil
}

// DequeueJobs implements job.Store.
func (s *Store) DequeueJobs(_ context.Context, queues []string, limit int) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(queues))
	for _, q := range queues {
		wanted[q] = true
	}
	now := s.now()

	var ready []*job.Job
	for _, j := range s.jobs {
		if j.State != job.StateWaiting || j.RunAt.After(now) {
			continue
		}
		if len(wanted) > 0 && !wanted[j.Queue] {
			continue
		}
		ready = append(ready, j)
	}
	sort.Slice(ready, func(a, b int) bool {
		if ready[a].Priority != ready[b].Priority {
			return ready[a].Priority > ready[b].Priority
		}
		return ready[a].RunAt.Before(ready[b].RunAt)
	})
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}

	out := make([]*job.Job, len(ready))
	for i, j := range ready {
		hb := now
		j.State = job.StateActive
		j.HeartbeatAt = &hb
		j.UpdatedAt = now
		out[i] = clone(j)
	}
	return out, nil
}

// GetJob implements job.Store.
func (s *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, taskcore.ErrJobNotFound
	}
	return clone(j), nil
}

// UpdateJob implements job.Store.
func (s *Store) UpdateJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := j.ID.String()
	if _, ok := s.jobs[key]; !ok {
		return taskcore.ErrJobNotFound
	}
	cp := clone(j)
	cp.UpdatedAt = s.now()
	s.jobs[key] = cp
	return nil
}

// DeleteJob implements job.Store.
func (s *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobID.String()
	if _, ok := s.jobs[key]; !ok {
		return taskcore.ErrJobNotFound
	}
	delete(s.jobs, key)
	return nil
}

// ListJobsByState implements job.Store. Results are ordered by CreatedAt.
func (s *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*job.Job
	for _, j := range s.jobs {
		if j.State != state || (opts.Queue != "" && j.Queue != opts.Queue) {
			continue
		}
		out = append(out, clone(j))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// HeartbeatJob implements job.Store.
func (s *Store) HeartbeatJob(_ context.Context, jobID id.JobID, _ id.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return taskcore.ErrJobNotFound
	}
	now := s.now()
	j.HeartbeatAt = &now
	return nil
}

// ReapStaleJobs implements job.Store.
func (s *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-threshold)
	var stale []*job.Job
	for _, j := range s.jobs {
		if j.State == job.StateActive && j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, clone(j))
		}
	}
	return stale, nil
}

// CountJobs implements job.Store.
func (s *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, j := range s.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		n++
	}
	return n, nil
}

// PromoteDelayed implements job.Store.
func (s *Store) PromoteDelayed(_ context.Context, queues []string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(queues))
	for _, q := range queues {
		wanted[q] = true
	}
	moved := 0
	for _, j := range s.jobs {
		if j.State != job.StateDelayed || j.RunAt.After(now) {
			continue
		}
		if len(wanted) > 0 && !wanted[j.Queue] {
			continue
		}
		j.State = job.StateWaiting
		j.UpdatedAt = s.now()
		moved++
	}
	return moved, nil
}

// PruneJobs implements job.Store.
func (s *Store) PruneJobs(_ context.Context, queue string, keep job.Retention) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	prune := func(state job.State, limit int) {
		if limit <= 0 {
			return
		}
		var finished []*job.Job
		for _, j := range s.jobs {
			if j.Queue == queue && j.State == state {
				finished = append(finished, j)
			}
		}
		if len(finished) <= limit {
			return
		}
		// Newest first; everything past limit goes.
		sort.Slice(finished, func(a, b int) bool { return finishedAt(finished[a]).After(finishedAt(finished[b])) })
		for _, j := range finished[limit:] {
			delete(s.jobs, j.ID.String())
			removed++
		}
	}
	prune(job.StateCompleted, keep.KeepCompleted)
	prune(job.StateFailed, keep.KeepFailed)
	return removed, nil
}

func finishedAt(j *job.Job) time.Time {
	if j.FinishedAt != nil {
		return *j.FinishedAt
	}
	return j.UpdatedAt
}
