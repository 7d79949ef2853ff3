// Package record defines the primary-store entities whose mutations are
// mirrored into the secondary index, and the primary-store contract the
// change interceptor decorates.
package record

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/id"
)

// Type names a watched entity type.
type Type string

const (
	TypeCandidate      Type = "candidate"
	TypeJobPosting     Type = "job_posting"
	TypeAnalysisResult Type = "analysis_result"
)

// Types lists every watched type.
var Types = []Type{TypeCandidate, TypeJobPosting, TypeAnalysisResult}

// ParseType validates s as a watched type.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("record: unknown type %q", s)
}

// Record is implemented by every watched entity.
type Record interface {
	RecordType() Type
	RecordID() id.ID
	// IndexText is the text embedded into the secondary index.
	IndexText() string
	// IndexFields are stored alongside the vector for filtering.
	IndexFields() map[string]string
	Created() time.Time
	// Deleted reports a soft delete.
	Deleted() bool
}

// ──────────────────────────────────────────────────
// Entities
// ──────────────────────────────────────────────────

// Candidate is an applicant profile.
type Candidate struct {
	taskcore.Entity

	ID         id.ID      `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Headline   string     `json:"headline"`
	ResumeText string     `json:"resume_text"`
	Skills     []string   `json:"skills"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

func (c *Candidate) RecordType() Type   { return TypeCandidate }
func (c *Candidate) RecordID() id.ID    { return c.ID }
func (c *Candidate) Created() time.Time { return c.CreatedAt }
func (c *Candidate) Deleted() bool      { return c.DeletedAt != nil }

func (c *Candidate) IndexText() string {
	return strings.Join([]string{c.Name, c.Headline, strings.Join(c.Skills, ", "), c.ResumeText}, "\n")
}

func (c *Candidate) IndexFields() map[string]string {
	return map[string]string{"type": string(TypeCandidate), "name": c.Name, "email": c.Email}
}

// JobPosting is an open position.
type JobPosting struct {
	taskcore.Entity

	ID           id.ID      `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Requirements []string   `json:"requirements"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

func (p *JobPosting) RecordType() Type   { return TypeJobPosting }
func (p *JobPosting) RecordID() id.ID    { return p.ID }
func (p *JobPosting) Created() time.Time { return p.CreatedAt }
func (p *JobPosting) Deleted() bool      { return p.DeletedAt != nil }

func (p *JobPosting) IndexText() string {
	return strings.Join([]string{p.Title, p.Description, strings.Join(p.Requirements, ", ")}, "\n")
}

func (p *JobPosting) IndexFields() map[string]string {
	return map[string]string{"type": string(TypeJobPosting), "title": p.Title}
}

// AnalysisResult is the score of one candidate within an analysis run.
// Results are written in the same transaction that completes the run.
type AnalysisResult struct {
	taskcore.Entity

	ID           id.ID   `json:"id"`
	RunID        id.ID   `json:"run_id"`
	JobPostingID id.ID   `json:"job_posting_id"`
	CandidateID  id.ID   `json:"candidate_id"`
	Score        float64 `json:"score"`
	Summary      string  `json:"summary"`
}

func (r *AnalysisResult) RecordType() Type   { return TypeAnalysisResult }
func (r *AnalysisResult) RecordID() id.ID    { return r.ID }
func (r *AnalysisResult) Created() time.Time { return r.CreatedAt }
func (r *AnalysisResult) Deleted() bool      { return false }
func (r *AnalysisResult) IndexText() string  { return r.Summary }

func (r *AnalysisResult) IndexFields() map[string]string {
	return map[string]string{
		"type":           string(TypeAnalysisResult),
		"run_id":         r.RunID.String(),
		"job_posting_id": r.JobPostingID.String(),
		"candidate_id":   r.CandidateID.String(),
		"score":          fmt.Sprintf("%.4f", r.Score),
	}
}

// ──────────────────────────────────────────────────
// Store
// ──────────────────────────────────────────────────

// Cursor is a keyset position: records strictly after (CreatedAt, ID).
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// ListOpts pages through non-deleted records of one type in
// (CreatedAt, ID) order.
type ListOpts struct {
	After *Cursor
	// CreatedAfter keeps only records created strictly after it.
	CreatedAfter time.Time
	Limit        int
}

// CursorOf returns the keyset position of r.
func CursorOf(r Record) *Cursor {
	return &Cursor{CreatedAt: r.Created(), ID: r.RecordID().String()}
}

// Store is the primary relational store for watched records.
//
// RunInTx runs fn in one transaction: every Store call made with the
// context fn receives joins it, and the whole set commits or rolls back
// together. Nested RunInTx calls join the outer transaction.
type Store interface {
	// Insert fails with ErrRecordAlreadyExists on a duplicate ID.
	Insert(ctx context.Context, r Record) error
	// Update fails with ErrRecordNotFound when the record is missing.
	Update(ctx context.Context, r Record) error
	Upsert(ctx context.Context, r Record) error
	// Delete hard-deletes a record.
	Delete(ctx context.Context, t Type, rid id.ID) error
	// Get returns a record even when soft-deleted.
	Get(ctx context.Context, t Type, rid id.ID) (Record, error)
	// List returns non-deleted records.
	List(ctx context.Context, t Type, opts ListOpts) ([]Record, error)
	// Count counts non-deleted records.
	Count(ctx context.Context, t Type) (int64, error)
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Op is the kind of a mutating operation.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)
