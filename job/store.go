package job

import (
	"context"
	"time"

	"github.com/hirelane/taskcore/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	Queue string
	State State
}

// Retention bounds how many finished jobs a queue keeps. Zero keeps all.
type Retention struct {
	KeepCompleted int `json:"keep_completed" yaml:"keep_completed"`
	KeepFailed    int `json:"keep_failed" yaml:"keep_failed"`
}

// Store is the broker contract: durable job persistence with claim
// semantics.
type Store interface {
	// EnqueueJob persists a new job in waiting or delayed state.
	EnqueueJob(ctx context.Context, j *Job) error

	// DequeueJobs atomically claims up to limit waiting jobs whose RunAt
	// has passed, sets them active with a fresh heartbeat, and returns
	// them ordered by priority (descending) then RunAt.
	DequeueJobs(ctx context.Context, queues []string, limit int) ([]*Job, error)

	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	DeleteJob(ctx context.Context, jobID id.JobID) error

	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// HeartbeatJob refreshes the lease of an active job.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs returns active jobs whose heartbeat is older than
	// threshold. It does not modify them.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)

	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// PromoteDelayed moves delayed jobs of the given queues whose RunAt is
	// at or before now to waiting and returns how many moved.
	PromoteDelayed(ctx context.Context, queues []string, now time.Time) (int, error)

	// PruneJobs deletes the oldest finished jobs of queue beyond the
	// retention limits and returns how many were removed.
	PruneJobs(ctx context.Context, queue string, keep Retention) (int, error)
}
