package analysis

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/record"
)

// Score is the external AI's verdict on one candidate.
type Score struct {
	Value   float64 `json:"value"`
	Summary string  `json:"summary"`
}

// Scorer calls the external AI API. Implementations classify failures
// with taskcore.Transient, taskcore.Fatal or taskcore.FromStatus.
type Scorer interface {
	Score(ctx context.Context, posting *record.JobPosting, candidate *record.Candidate) (Score, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, posting *record.JobPosting, candidate *record.Candidate) (Score, error)

// Score calls f.
func (f ScorerFunc) Score(ctx context.Context, p *record.JobPosting, c *record.Candidate) (Score, error) {
	return f(ctx, p, c)
}

// ThrottleScorer paces calls to a Scorer with a token bucket shared by
// every analysis worker in the process.
type ThrottleScorer struct {
	next    Scorer
	limiter *rate.Limiter
}

// NewThrottleScorer allows perSecond calls with bursts of burst.
func NewThrottleScorer(next Scorer, perSecond float64, burst int) *ThrottleScorer {
	return &ThrottleScorer{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))}
}

// Score waits for a token, then calls the wrapped Scorer.
func (t *ThrottleScorer) Score(ctx context.Context, p *record.JobPosting, c *record.Candidate) (Score, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return Score{}, taskcore.Transient(fmt.Errorf("score throttle: %w", err))
	}
	return t.next.Score(ctx, p, c)
}
