// Package ext defines lifecycle hooks. Each hook is its own interface so
// an extension opts in only to the events it cares about.
package ext

import (
	"context"
	"time"

	"github.com/hirelane/taskcore/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is persisted by the broker.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when an attempt begins, after the rate gate.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a successful attempt.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when a failed attempt is scheduled for another try.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobDelayed is called when a claimed job is held back by its queue's
// start-rate budget.
type JobDelayed interface {
	OnJobDelayed(ctx context.Context, j *job.Job, until time.Time) error
}

// JobFailed is called when a job fails terminally: a fatal outcome, an
// exhausted attempt budget, or a stalled job with no attempts left.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobStalled is called when the reaper recovers a job whose lease expired.
type JobStalled interface {
	OnJobStalled(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Sync hooks
// ──────────────────────────────────────────────────

// SyncEvent identifies one change dispatch.
type SyncEvent struct {
	Entity string
	ID     string
	Op     string
}

// SyncDispatchFailed is called when a change could not be handed to the
// index-sync queue: the supervisor was full or the enqueue failed.
type SyncDispatchFailed interface {
	OnSyncDispatchFailed(ctx context.Context, ev SyncEvent, err error) error
}

// ReconcileCompleted is called after a reconciliation pass over one
// entity type.
type ReconcileCompleted interface {
	OnReconcileCompleted(ctx context.Context, entity string, synced, errors, total int) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
