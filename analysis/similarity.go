package analysis

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/hirelane/taskcore/index"
	"github.com/hirelane/taskcore/record"
)

// SimilarityScorer scores a candidate by the cosine similarity of the
// embedded posting and resume texts, scaled to [0, 100]. It stands in for
// the external model where none is configured.
type SimilarityScorer struct {
	emb index.Embedder
}

var _ Scorer = (*SimilarityScorer)(nil)

// NewSimilarityScorer creates a SimilarityScorer.
func NewSimilarityScorer(emb index.Embedder) *SimilarityScorer {
	return &SimilarityScorer{emb: emb}
}

// Score implements Scorer.
func (s *SimilarityScorer) Score(ctx context.Context, p *record.JobPosting, c *record.Candidate) (Score, error) {
	pv, err := s.emb.Embed(ctx, p.IndexText())
	if err != nil {
		return Score{}, err
	}
	cv, err := s.emb.Embed(ctx, c.IndexText())
	if err != nil {
		return Score{}, err
	}

	value := math.Round(max(cosine(pv, cv), 0)*1000) / 10
	matched := matchedSkills(p.Requirements, c.Skills)
	summary := fmt.Sprintf("%s: %.1f/100 for %s", c.Name, value, p.Title)
	if len(matched) > 0 {
		summary += "; matches " + strings.Join(matched, ", ")
	}
	return Score{Value: value, Summary: summary}, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func matchedSkills(requirements, skills []string) []string {
	have := make(map[string]bool, len(skills))
	for _, s := range skills {
		have[strings.ToLower(s)] = true
	}
	var out []string
	for _, r := range requirements {
		if have[strings.ToLower(r)] {
			out = append(out, r)
		}
	}
	return out
}
