package audithook

import (
	"context"
	"log/slog"
)

// LogRecorder writes audit events to a structured logger. Critical events
// log at error level, warnings at warn, everything else at info.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder returns a LogRecorder writing to logger.
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger.With(slog.String("component", "audit"))}
}

// Record implements Recorder.
func (r *LogRecorder) Record(ctx context.Context, evt *AuditEvent) error {
	level := slog.LevelInfo
	switch evt.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}

	attrs := []slog.Attr{
		slog.String("category", evt.Category),
		slog.String("resource", evt.Resource),
		slog.String("resource_id", evt.ResourceID),
		slog.String("outcome", evt.Outcome),
	}
	if evt.Reason != "" {
		attrs = append(attrs, slog.String("reason", evt.Reason))
	}
	if len(evt.Metadata) > 0 {
		meta := make([]any, 0, len(evt.Metadata))
		for k, v := range evt.Metadata {
			if k == "error" {
				continue
			}
			meta = append(meta, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("meta", meta...))
	}
	r.logger.LogAttrs(ctx, level, evt.Action, attrs...)
	return nil
}
