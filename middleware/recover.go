package middleware

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/job"
)

// Recover converts a handler panic into a Fail outcome. A panic is a bug
// and replaying the same payload would panic again.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (out job.Outcome) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("job handler panicked",
					slog.String("job_id", j.ID.String()),
					slog.String("job_name", j.Name),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				out = job.Fail(taskcore.Fatalf("panic in job %s: %v", j.Name, r))
			}
		}()
		return next(ctx)
	}
}
