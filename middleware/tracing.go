package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hirelane/taskcore/job"
)

// Tracing wraps each attempt in a span on the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer is Tracing on an explicit tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) job.Outcome {
		ctx, span := tracer.Start(ctx, "taskcore.job.attempt",
			trace.WithAttributes(
				attribute.String("taskcore.job.id", j.ID.String()),
				attribute.String("taskcore.job.name", j.Name),
				attribute.String("taskcore.queue", j.Queue),
				attribute.Int("taskcore.job.attempt", j.AttemptsMade),
				attribute.Int("taskcore.job.max_attempts", j.MaxAttempts),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		out := next(ctx)
		span.SetAttributes(attribute.String("taskcore.job.outcome", out.Kind.String()))
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return out
	}
}
