// Package analysis scores the candidates of an analysis run against a job
// posting. A run is processed by one job on the analysis queue: its
// candidates are scored in sub-batches, and the successful scores are
// written together with the run's COMPLETED transition in one
// transaction.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/id"
)

// Status is the lifecycle state of a Run.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether the run is finished.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// CanTransition reports whether from → to is legal. PROCESSING →
// PROCESSING is the re-entry of a requeued job.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Run is one request to score CandidateIDs against JobPostingID.
type Run struct {
	taskcore.Entity

	ID                 id.ID      `json:"id"`
	JobPostingID       id.ID      `json:"job_posting_id"`
	CandidateIDs       []id.ID    `json:"candidate_ids"`
	Status             Status     `json:"status"`
	Version            int        `json:"version"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	FailedCandidateIDs []id.ID    `json:"failed_candidate_ids,omitempty"`
}

// NewRun creates a PENDING run.
func NewRun(postingID id.ID, candidateIDs []id.ID) *Run {
	return &Run{
		Entity:       taskcore.NewEntity(),
		ID:           id.NewRunID(),
		JobPostingID: postingID,
		CandidateIDs: candidateIDs,
		Status:       StatusPending,
	}
}

// Transition moves r to status to, or returns ErrInvalidState.
func (r *Run) Transition(to Status) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: run %s %s → %s", taskcore.ErrInvalidState, r.ID, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// RunStore persists runs. Implementations join a record.Store
// transaction carried by ctx.
type RunStore interface {
	// CreateRun fails with ErrRecordAlreadyExists on a duplicate ID.
	CreateRun(ctx context.Context, r *Run) error
	// GetRun fails with ErrRunNotFound.
	GetRun(ctx context.Context, runID id.ID) (*Run, error)
	// UpdateRun writes r when the stored Version equals r.Version and
	// then increments r.Version. A stale r fails with ErrVersionConflict.
	UpdateRun(ctx context.Context, r *Run) error
}
