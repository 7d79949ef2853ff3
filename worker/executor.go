// Package worker drains queues: a Pool per queue claims jobs under its
// concurrency and start-rate budgets, and the Executor runs each attempt
// through middleware and records the decided next state.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/ext"
	"github.com/hirelane/taskcore/job"
	"github.com/hirelane/taskcore/middleware"
)

// Executor runs one attempt of a job and persists its result.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs the queue's handler for j, whose attempt has already been
// counted, and applies the decided transition. The returned error is the
// handler's, for logging; persistence errors are returned wrapped.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	start := time.Now()

	var out job.Outcome
	if handler, ok := e.registry.Get(j.Queue); ok {
		out = e.mw(ctx, j, func(ctx context.Context) job.Outcome { return handler(ctx, j) })
	} else {
		out = job.Fail(fmt.Errorf("%w: %s", taskcore.ErrNoHandler, j.Queue))
	}

	// Record the outcome even when the attempt's context was cancelled.
	return e.apply(context.WithoutCancel(ctx), j, out, time.Since(start))
}

func (e *Executor) apply(ctx context.Context, j *job.Job, out job.Outcome, elapsed time.Duration) error {
	d := Decide(out.Kind, j.AttemptsMade, j.MaxAttempts, j.Backoff.Strategy())
	now := time.Now().UTC()
	j.HeartbeatAt = nil

	if err := j.Transition(d.State); err != nil {
		return err
	}

	switch d.State {
	case job.StateCompleted:
		j.Result = out.Result
		j.LastError = ""
		j.FinishedAt = &now
		if err := e.store.UpdateJob(ctx, j); err != nil {
			return e.persistError(j, err)
		}
		e.extensions.EmitJobCompleted(ctx, j, elapsed)
		return nil

	case job.StateDelayed:
		j.LastError = errText(out.Err)
		j.RunAt = now.Add(d.Delay)
		if err := e.store.UpdateJob(ctx, j); err != nil {
			return e.persistError(j, err)
		}
		e.extensions.EmitJobRetrying(ctx, j, j.AttemptsMade, j.RunAt)
		e.logger.Info("job scheduled for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.Int("attempt", j.AttemptsMade),
			slog.Int("max_attempts", j.MaxAttempts),
			slog.Duration("delay", d.Delay),
		)
		return out.Err

	default:
		failErr := out.Err
		if out.Kind == job.OutcomeRetry {
			failErr = fmt.Errorf("%w after %d attempts: %w", taskcore.ErrMaxAttemptsReached, j.AttemptsMade, out.Err)
		}
		if failErr == nil {
			failErr = errors.New("job failed")
		}
		j.LastError = failErr.Error()
		j.FinishedAt = &now
		if err := e.store.UpdateJob(ctx, j); err != nil {
			return e.persistError(j, err)
		}
		e.extensions.EmitJobFailed(ctx, j, failErr)
		e.logger.Warn("job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.Int("attempts_made", j.AttemptsMade),
			slog.Bool("fatal", out.Kind == job.OutcomeFail),
			slog.String("error", failErr.Error()),
		)
		return failErr
	}
}

func (e *Executor) persistError(j *job.Job, err error) error {
	e.logger.Error("failed to persist job outcome",
		slog.String("job_id", j.ID.String()),
		slog.String("state", string(j.State)),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("persist job %s: %w", j.ID, err)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
