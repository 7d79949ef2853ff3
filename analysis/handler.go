package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/batch"
	"github.com/hirelane/taskcore/id"
	"github.com/hirelane/taskcore/job"
	"github.com/hirelane/taskcore/record"
)

// JobName is the name of analysis jobs.
const JobName = "analyze-run"

// Payload is the analysis job payload.
type Payload struct {
	RunID id.ID `json:"run_id"`
}

// Summary is the stored result of an analysis job.
type Summary struct {
	RunID     id.ID  `json:"run_id"`
	Status    Status `json:"status"`
	Scored    int    `json:"scored"`
	Failed    int    `json:"failed"`
	Unchanged bool   `json:"unchanged,omitempty"`
}

// Handler processes analysis jobs.
type Handler struct {
	records   record.Store
	runs      RunStore
	scorer    Scorer
	batchSize int
	logger    *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithBatchSize sets the sub-batch size. Default 6.
func WithBatchSize(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.batchSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates a Handler. records should be the intercepted store so
// that written results reach the index; runs must join its transactions.
func NewHandler(records record.Store, runs RunStore, scorer Scorer, opts ...HandlerOption) *Handler {
	h := &Handler{
		records:   records,
		runs:      runs,
		scorer:    scorer,
		batchSize: 6,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandlerFunc returns the queue handler.
func (h *Handler) HandlerFunc() job.HandlerFunc {
	return job.Handle(nil, h.Handle)
}

// Handle scores every candidate of the run. With at least one success the
// run is COMPLETED together with its results in one transaction; failed
// candidates are recorded on the run. With none the error is returned,
// fatal only when every item failed fatally.
func (h *Handler) Handle(ctx context.Context, p Payload) (Summary, error) {
	run, err := h.runs.GetRun(ctx, p.RunID)
	if errors.Is(err, taskcore.ErrRunNotFound) {
		return Summary{}, taskcore.Fatalf("analysis run %s: %w", p.RunID, err)
	}
	if err != nil {
		return Summary{}, err
	}
	if run.Status.Terminal() {
		h.logger.Info("analysis run already finished",
			slog.String("run_id", run.ID.String()),
			slog.String("status", string(run.Status)),
		)
		return Summary{RunID: run.ID, Status: run.Status, Unchanged: true}, nil
	}

	if len(run.CandidateIDs) == 0 {
		return Summary{}, taskcore.Fatalf("analysis run %s has no candidates", run.ID)
	}
	if err := run.Transition(StatusProcessing); err != nil {
		return Summary{}, taskcore.Fatal(err)
	}
	if err := h.runs.UpdateRun(ctx, run); err != nil {
		return Summary{}, versionRetry(err)
	}

	posting, err := h.posting(ctx, run.JobPostingID)
	if err != nil {
		return Summary{}, err
	}

	report, err := batch.Process(ctx, run.CandidateIDs, h.batchSize, func(ctx context.Context, cid id.ID) (Score, error) {
		c, err := h.candidate(ctx, cid)
		if err != nil {
			return Score{}, err
		}
		return h.scorer.Score(ctx, posting, c)
	})
	if err != nil {
		// Cancelled mid-run: candidates cut short were never scored, so
		// the run stays PROCESSING and the job retries.
		return Summary{}, taskcore.Transient(fmt.Errorf("analysis run %s interrupted: %w", run.ID, err))
	}

	var partial *taskcore.PartialBatchError
	if len(report.Failed) > 0 {
		partial = &taskcore.PartialBatchError{Failed: make(map[string]error, len(report.Failed))}
		for _, f := range report.Failed {
			partial.Failed[f.Item.String()] = f.Err
		}
	}
	if len(report.Succeeded) == 0 {
		if allFatal(report.Failed) {
			return Summary{}, taskcore.Fatal(partial)
		}
		return Summary{}, taskcore.Transient(partial)
	}

	if err := ctx.Err(); err != nil {
		return Summary{}, taskcore.Transient(fmt.Errorf("analysis run %s interrupted: %w", run.ID, err))
	}
	err = h.records.RunInTx(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()
		if err := run.Transition(StatusCompleted); err != nil {
			return err
		}
		run.CompletedAt = &now
		run.FailedCandidateIDs = nil
		run.ErrorMessage = ""
		for _, f := range report.Failed {
			run.FailedCandidateIDs = append(run.FailedCandidateIDs, f.Item)
		}
		if partial != nil {
			run.ErrorMessage = partial.Error()
		}
		if err := h.runs.UpdateRun(ctx, run); err != nil {
			return err
		}
		for _, s := range report.Succeeded {
			res := &record.AnalysisResult{
				Entity:       taskcore.Entity{CreatedAt: now, UpdatedAt: now},
				ID:           id.NewResultID(),
				RunID:        run.ID,
				JobPostingID: run.JobPostingID,
				CandidateID:  s.Item,
				Score:        s.Value.Value,
				Summary:      s.Value.Summary,
			}
			if err := h.records.Insert(ctx, res); err != nil {
				return fmt.Errorf("insert result for %s: %w", s.Item, err)
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, versionRetry(err)
	}

	h.logger.Info("analysis run completed",
		slog.String("run_id", run.ID.String()),
		slog.Int("scored", len(report.Succeeded)),
		slog.Int("failed", len(report.Failed)),
	)
	return Summary{RunID: run.ID, Status: run.Status, Scored: len(report.Succeeded), Failed: len(report.Failed)}, nil
}

func (h *Handler) posting(ctx context.Context, pid id.ID) (*record.JobPosting, error) {
	r, err := h.records.Get(ctx, record.TypeJobPosting, pid)
	if errors.Is(err, taskcore.ErrRecordNotFound) {
		return nil, taskcore.Fatalf("job posting %s: %w", pid, err)
	}
	if err != nil {
		return nil, err
	}
	p, ok := r.(*record.JobPosting)
	if !ok || p.Deleted() {
		return nil, taskcore.Fatalf("job posting %s: %w", pid, taskcore.ErrRecordNotFound)
	}
	return p, nil
}

func (h *Handler) candidate(ctx context.Context, cid id.ID) (*record.Candidate, error) {
	r, err := h.records.Get(ctx, record.TypeCandidate, cid)
	if errors.Is(err, taskcore.ErrRecordNotFound) {
		return nil, taskcore.Fatalf("candidate %s: %w", cid, err)
	}
	if err != nil {
		return nil, err
	}
	c, ok := r.(*record.Candidate)
	if !ok || c.Deleted() {
		return nil, taskcore.Fatalf("candidate %s: %w", cid, taskcore.ErrRecordNotFound)
	}
	return c, nil
}

func allFatal(failed []batch.Failure[id.ID]) bool {
	for _, f := range failed {
		if !taskcore.IsFatal(f.Err) {
			return false
		}
	}
	return true
}

// versionRetry makes a lost optimistic race retryable.
func versionRetry(err error) error {
	if errors.Is(err, taskcore.ErrVersionConflict) {
		return taskcore.Transient(err)
	}
	return err
}
