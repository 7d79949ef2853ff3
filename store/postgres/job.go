package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/id"
	"github.com/hirelane/taskcore/job"
)

const jobColumns = `
	id, name, queue, payload, encoding, state, priority,
	attempts_made, max_attempts, backoff, result, last_error, worker_id,
	run_at, started_at, finished_at, heartbeat_at, timeout,
	created_at, updated_at`

// EnqueueJob persists a new job.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	backoffJSON, err := json.Marshal(j.Backoff)
	if err != nil {
		return fmt.Errorf("taskcore/postgres: encode backoff: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO taskcore_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20
		)`,
		j.ID.String(), j.Name, j.Queue, payloadOrEmpty(j.Payload), j.Encoding, string(j.State), j.Priority,
		j.AttemptsMade, j.MaxAttempts, backoffJSON, j.Result, j.LastError, j.WorkerID.String(),
		j.RunAt, j.StartedAt, j.FinishedAt, j.HeartbeatAt, j.Timeout.Nanoseconds(),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return taskcore.ErrJobAlreadyExists
		}
		return fmt.Errorf("taskcore/postgres: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit waiting jobs from the given
// queues, sets them active with a fresh heartbeat, and returns them.
// Uses SELECT FOR UPDATE SKIP LOCKED for concurrent-safe dequeue.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH dequeued AS (
			UPDATE taskcore_jobs
			SET state = 'active', heartbeat_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM taskcore_jobs
				WHERE state = 'waiting'
				  AND queue = ANY($1)
				  AND run_at <= NOW()
				ORDER BY priority DESC, run_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM dequeued ORDER BY priority DESC, run_at ASC`,
		queues, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("taskcore/postgres: dequeue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM taskcore_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, taskcore.ErrJobNotFound
		}
		return nil, fmt.Errorf("taskcore/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	backoffJSON, err := json.Marshal(j.Backoff)
	if err != nil {
		return fmt.Errorf("taskcore/postgres: encode backoff: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE taskcore_jobs SET
			name = $2, queue = $3, payload = $4, encoding = $5, state = $6,
			priority = $7, attempts_made = $8, max_attempts = $9, backoff = $10,
			result = $11, last_error = $12, worker_id = $13,
			run_at = $14, started_at = $15, finished_at = $16,
			heartbeat_at = $17, timeout = $18,
			updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.Name, j.Queue, payloadOrEmpty(j.Payload), j.Encoding, string(j.State),
		j.Priority, j.AttemptsMade, j.MaxAttempts, backoffJSON,
		j.Result, j.LastError, j.WorkerID.String(),
		j.RunAt, j.StartedAt, j.FinishedAt,
		j.HeartbeatAt, j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("taskcore/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return taskcore.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM taskcore_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("taskcore/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return taskcore.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs matching the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM taskcore_jobs WHERE state = $1`
	args := []any{string(state)}
	argIdx := 2

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("taskcore/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// HeartbeatJob refreshes the lease of an active job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, _ id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE taskcore_jobs SET heartbeat_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND state = 'active'`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("taskcore/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return taskcore.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns active jobs whose last heartbeat is older than
// threshold, measured on the database clock.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM taskcore_jobs
		WHERE state = 'active'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < NOW() - make_interval(secs => $1)`,
		threshold.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("taskcore/postgres: reap stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM taskcore_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("taskcore/postgres: count jobs: %w", err)
	}
	return count, nil
}

// PromoteDelayed moves due delayed jobs back to waiting.
func (s *Store) PromoteDelayed(ctx context.Context, queues []string, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE taskcore_jobs SET state = 'waiting', updated_at = NOW()
		WHERE state = 'delayed' AND queue = ANY($1) AND run_at <= $2`,
		queues, now,
	)
	if err != nil {
		return 0, fmt.Errorf("taskcore/postgres: promote delayed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PruneJobs deletes the oldest finished jobs of queue beyond keep.
func (s *Store) PruneJobs(ctx context.Context, queue string, keep job.Retention) (int, error) {
	var total int
	for state, n := range map[job.State]int{
		job.StateCompleted: keep.KeepCompleted,
		job.StateFailed:    keep.KeepFailed,
	} {
		if n <= 0 {
			continue
		}
		tag, err := s.pool.Exec(ctx, `
			DELETE FROM taskcore_jobs WHERE id IN (
				SELECT id FROM taskcore_jobs
				WHERE queue = $1 AND state = $2
				ORDER BY finished_at DESC NULLS LAST, id DESC
				OFFSET $3
			)`,
			queue, string(state), n,
		)
		if err != nil {
			return total, fmt.Errorf("taskcore/postgres: prune %s jobs: %w", state, err)
		}
		total += int(tag.RowsAffected())
	}
	return total, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j           job.Job
		idStr       string
		stateStr    string
		workerStr   string
		backoffJSON []byte
		timeoutNs   int64
	)
	err := row.Scan(
		&idStr, &j.Name, &j.Queue, &j.Payload, &j.Encoding, &stateStr, &j.Priority,
		&j.AttemptsMade, &j.MaxAttempts, &backoffJSON, &j.Result, &j.LastError, &workerStr,
		&j.RunAt, &j.StartedAt, &j.FinishedAt, &j.HeartbeatAt, &timeoutNs,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)
	if len(backoffJSON) > 0 {
		if err := json.Unmarshal(backoffJSON, &j.Backoff); err != nil {
			return nil, fmt.Errorf("taskcore/postgres: decode backoff for %s: %w", idStr, err)
		}
	}

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("taskcore/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		if parsedWorker, workerErr := id.ParseWorkerID(workerStr); workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("taskcore/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("taskcore/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

func payloadOrEmpty(p []byte) []byte {
	if p == nil {
		return []byte{}
	}
	return p
}
