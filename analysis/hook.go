package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/ext"
	"github.com/hirelane/taskcore/job"
)

// FailureHook marks a run FAILED when its analysis job fails terminally:
// a fatal error, an exhausted attempt budget, or a stalled job with no
// attempts left.
type FailureHook struct {
	queue  string
	runs   RunStore
	logger *slog.Logger
}

var (
	_ ext.Extension = (*FailureHook)(nil)
	_ ext.JobFailed = (*FailureHook)(nil)
)

// NewFailureHook watches jobs of queue.
func NewFailureHook(queue string, runs RunStore, logger *slog.Logger) *FailureHook {
	return &FailureHook{queue: queue, runs: runs, logger: logger}
}

// Name implements ext.Extension.
func (h *FailureHook) Name() string { return "analysis-failure" }

// OnJobFailed implements ext.JobFailed.
func (h *FailureHook) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	if j.Queue != h.queue {
		return nil
	}
	var p Payload
	if err := job.Decode(j, &p); err != nil {
		return err
	}

	// One retry covers a concurrent status write.
	var err error
	for range 2 {
		if err = h.markFailed(ctx, p, jobErr); !errors.Is(err, taskcore.ErrVersionConflict) {
			break
		}
	}
	if errors.Is(err, taskcore.ErrRunNotFound) {
		return nil
	}
	return err
}

func (h *FailureHook) markFailed(ctx context.Context, p Payload, jobErr error) error {
	run, err := h.runs.GetRun(ctx, p.RunID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}
	if run.Status == StatusPending {
		if err := run.Transition(StatusProcessing); err != nil {
			return err
		}
	}
	if err := run.Transition(StatusFailed); err != nil {
		return err
	}
	run.ErrorMessage = errMessage(jobErr)
	if err := h.runs.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("mark run %s failed: %w", run.ID, err)
	}
	h.logger.Warn("analysis run failed",
		slog.String("run_id", run.ID.String()),
		slog.String("error", run.ErrorMessage),
	)
	return nil
}

func errMessage(err error) string {
	if err == nil {
		return "analysis job failed"
	}
	return err.Error()
}
