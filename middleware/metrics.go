package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hirelane/taskcore/job"
)

const instrumentationName = "github.com/hirelane/taskcore"

// Metrics records attempt duration and count on the global MeterProvider.
//
// Instruments:
//   - taskcore.job.duration (Float64Histogram, seconds)
//   - taskcore.job.attempts (Int64Counter)
//
// both with attributes queue, job_name, outcome.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(instrumentationName))
}

// MetricsWithMeter is Metrics on an explicit meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The OTel API returns noop instruments alongside any error.
	duration, _ := meter.Float64Histogram(
		"taskcore.job.duration",
		metric.WithDescription("Duration of job attempts in seconds"),
		metric.WithUnit("s"),
	)
	attempts, _ := meter.Int64Counter(
		"taskcore.job.attempts",
		metric.WithDescription("Job handler attempts"),
		metric.WithUnit("{attempt}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) job.Outcome {
		start := time.Now()
		out := next(ctx)

		attrs := metric.WithAttributes(
			attribute.String("queue", j.Queue),
			attribute.String("job_name", j.Name),
			attribute.String("outcome", out.Kind.String()),
		)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		attempts.Add(ctx, 1, attrs)
		return out
	}
}
