package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser supports standard 5-field cron and descriptors like "@every 15m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Schedule runs differential reconciliation of diverging types on a cron
// expression. A tick that finds the previous pass still running is
// skipped.
type Schedule struct {
	cron    *cronlib.Cron
	rec     *Reconciler
	timeout time.Duration
	logger  *slog.Logger
}

// NewSchedule parses spec and binds it to rec. Each pass is bounded by
// timeout when positive.
func NewSchedule(rec *Reconciler, spec string, timeout time.Duration, logger *slog.Logger) (*Schedule, error) {
	s := &Schedule{rec: rec, timeout: timeout, logger: logger}
	s.cron = cronlib.New(
		cronlib.WithParser(cronParser),
		cronlib.WithChain(cronlib.SkipIfStillRunning(cronlib.DiscardLogger)),
	)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("syncer: invalid reconcile schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing.
func (s *Schedule) Start(_ context.Context) error {
	s.cron.Start()
	s.logger.Info("reconcile schedule started")
	return nil
}

// Stop stops firing and waits for a running pass, or for ctx to end.
func (s *Schedule) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Schedule) tick() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	reports, err := s.rec.ReconcileAll(ctx, ModeDifferential)
	if err != nil {
		s.logger.Error("scheduled reconcile failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("scheduled reconcile finished", slog.Int("types", len(reports)))
}
