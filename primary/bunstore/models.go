package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/analysis"
	"github.com/hirelane/taskcore/id"
	"github.com/hirelane/taskcore/record"
)

// ── Candidate model ───────────────────────────────────────────────

type candidateModel struct {
	bun.BaseModel `bun:"table:candidates"`

	ID         string     `bun:"id,pk"`
	Name       string     `bun:"name,notnull"`
	Email      string     `bun:"email,notnull"`
	Headline   string     `bun:"headline,notnull,default:''"`
	ResumeText string     `bun:"resume_text,notnull,default:''"`
	Skills     []string   `bun:"skills,array"`
	CreatedAt  time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt  time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	DeletedAt  *time.Time `bun:"deleted_at"`
}

func toCandidateModel(c *record.Candidate) *candidateModel {
	return &candidateModel{
		ID:         c.ID.String(),
		Name:       c.Name,
		Email:      c.Email,
		Headline:   c.Headline,
		ResumeText: c.ResumeText,
		Skills:     c.Skills,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
		DeletedAt:  c.DeletedAt,
	}
}

func (m *candidateModel) toRecord() (record.Record, error) {
	rid, err := id.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("taskcore/bunstore: parse candidate id %q: %w", m.ID, err)
	}
	return &record.Candidate{
		Entity:     taskcore.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:         rid,
		Name:       m.Name,
		Email:      m.Email,
		Headline:   m.Headline,
		ResumeText: m.ResumeText,
		Skills:     m.Skills,
		DeletedAt:  m.DeletedAt,
	}, nil
}

// ── Job posting model ─────────────────────────────────────────────

type postingModel struct {
	bun.BaseModel `bun:"table:job_postings"`

	ID           string     `bun:"id,pk"`
	Title        string     `bun:"title,notnull"`
	Description  string     `bun:"description,notnull,default:''"`
	Requirements []string   `bun:"requirements,array"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	DeletedAt    *time.Time `bun:"deleted_at"`
}

func toPostingModel(p *record.JobPosting) *postingModel {
	return &postingModel{
		ID:           p.ID.String(),
		Title:        p.Title,
		Description:  p.Description,
		Requirements: p.Requirements,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
		DeletedAt:    p.DeletedAt,
	}
}

func (m *postingModel) toRecord() (record.Record, error) {
	rid, err := id.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("taskcore/bunstore: parse posting id %q: %w", m.ID, err)
	}
	return &record.JobPosting{
		Entity:       taskcore.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:           rid,
		Title:        m.Title,
		Description:  m.Description,
		Requirements: m.Requirements,
		DeletedAt:    m.DeletedAt,
	}, nil
}

// ── Analysis result model ─────────────────────────────────────────

type resultModel struct {
	bun.BaseModel `bun:"table:analysis_results"`

	ID           string    `bun:"id,pk"`
	RunID        string    `bun:"run_id,notnull"`
	JobPostingID string    `bun:"job_posting_id,notnull"`
	CandidateID  string    `bun:"candidate_id,notnull"`
	Score        float64   `bun:"score,notnull"`
	Summary      string    `bun:"summary,notnull,default:''"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func toResultModel(r *record.AnalysisResult) *resultModel {
	return &resultModel{
		ID:           r.ID.String(),
		RunID:        r.RunID.String(),
		JobPostingID: r.JobPostingID.String(),
		CandidateID:  r.CandidateID.String(),
		Score:        r.Score,
		Summary:      r.Summary,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (m *resultModel) toRecord() (record.Record, error) {
	ids, err := parseIDs(m.ID, m.RunID, m.JobPostingID, m.CandidateID)
	if err != nil {
		return nil, fmt.Errorf("taskcore/bunstore: analysis result %q: %w", m.ID, err)
	}
	return &record.AnalysisResult{
		Entity:       taskcore.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:           ids[0],
		RunID:        ids[1],
		JobPostingID: ids[2],
		CandidateID:  ids[3],
		Score:        m.Score,
		Summary:      m.Summary,
	}, nil
}

// ── Analysis run model ────────────────────────────────────────────

type runModel struct {
	bun.BaseModel `bun:"table:analysis_runs"`

	ID                 string     `bun:"id,pk"`
	JobPostingID       string     `bun:"job_posting_id,notnull"`
	CandidateIDs       []string   `bun:"candidate_ids,array"`
	Status             string     `bun:"status,notnull,default:'PENDING'"`
	Version            int        `bun:"version,notnull,default:0"`
	CompletedAt        *time.Time `bun:"completed_at"`
	ErrorMessage       string     `bun:"error_message,notnull,default:''"`
	FailedCandidateIDs []string   `bun:"failed_candidate_ids,array"`
	CreatedAt          time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt          time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toRunModel(r *analysis.Run) *runModel {
	return &runModel{
		ID:                 r.ID.String(),
		JobPostingID:       r.JobPostingID.String(),
		CandidateIDs:       idStrings(r.CandidateIDs),
		Status:             string(r.Status),
		Version:            r.Version,
		CompletedAt:        r.CompletedAt,
		ErrorMessage:       r.ErrorMessage,
		FailedCandidateIDs: idStrings(r.FailedCandidateIDs),
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func fromRunModel(m *runModel) (*analysis.Run, error) {
	ids, err := parseIDs(m.ID, m.JobPostingID)
	if err != nil {
		return nil, fmt.Errorf("taskcore/bunstore: analysis run %q: %w", m.ID, err)
	}
	candidates, err := parseIDs(m.CandidateIDs...)
	if err != nil {
		return nil, fmt.Errorf("taskcore/bunstore: run %s candidates: %w", m.ID, err)
	}
	failed, err := parseIDs(m.FailedCandidateIDs...)
	if err != nil {
		return nil, fmt.Errorf("taskcore/bunstore: run %s failed candidates: %w", m.ID, err)
	}
	return &analysis.Run{
		Entity:             taskcore.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                 ids[0],
		JobPostingID:       ids[1],
		CandidateIDs:       candidates,
		Status:             analysis.Status(m.Status),
		Version:            m.Version,
		CompletedAt:        m.CompletedAt,
		ErrorMessage:       m.ErrorMessage,
		FailedCandidateIDs: failed,
	}, nil
}

// ── Conversion helpers ────────────────────────────────────────────

func idStrings(ids []id.ID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}

func parseIDs(ss ...string) ([]id.ID, error) {
	if len(ss) == 0 {
		return nil, nil
	}
	out := make([]id.ID, len(ss))
	for i, s := range ss {
		v, err := id.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse id %q: %w", s, err)
		}
		out[i] = v
	}
	return out, nil
}
