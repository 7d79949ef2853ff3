package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/hirelane/taskcore/job"
)

// Deps selects the stock middleware for Default.
type Deps struct {
	Logger  *slog.Logger
	Metrics bool
	Tracing bool
}

// Logging logs each attempt's start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) job.Outcome {
		attrs := []any{
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("queue", j.Queue),
			slog.Int("attempt", j.AttemptsMade),
		}
		logger.Debug("job attempt started", attrs...)

		start := time.Now()
		out := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)), slog.String("outcome", out.Kind.String()))

		switch out.Kind {
		case job.OutcomeSuccess:
			logger.Info("job attempt succeeded", attrs...)
		case job.OutcomeRetry:
			logger.Warn("job attempt failed", append(attrs, slog.String("error", errString(out.Err)))...)
		default:
			logger.Error("job attempt failed", append(attrs, slog.String("error", errString(out.Err)))...)
		}
		return out
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
