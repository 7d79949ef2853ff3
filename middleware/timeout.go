package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/job"
)

// Timeout bounds an attempt by the job's Timeout. An attempt that fails
// after its deadline passed is reported as a transient timeout.
func Timeout() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) job.Outcome {
		if j.Timeout <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()

		out := next(ctx)
		if out.Kind != job.OutcomeSuccess && errors.Is(ctx.Err(), context.DeadlineExceeded) && !taskcore.IsFatal(out.Err) {
			return job.Retry(taskcore.Transient(fmt.Errorf("job %s exceeded timeout %s: %w", j.ID, j.Timeout, context.DeadlineExceeded)))
		}
		return out
	}
}
