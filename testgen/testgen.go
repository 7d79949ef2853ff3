// Package testgen generates candidate assessments for the test-generation
// queue. A Generator drafts the questions and an ObjectStore keeps the
// rendered document.
package testgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/id"
	"github.com/hirelane/taskcore/job"
	"github.com/hirelane/taskcore/record"
)

// JobName is the job name on the test-generation queue.
const JobName = "generate-assessment"

// Question counts accepted per assessment.
const (
	MinQuestions     = 1
	MaxQuestions     = 50
	DefaultQuestions = 10
)

// Payload asks for one assessment tailored to a candidate and posting.
type Payload struct {
	CandidateID   id.ID  `json:"candidate_id"`
	JobPostingID  id.ID  `json:"job_posting_id"`
	Difficulty    string `json:"difficulty,omitempty"`
	QuestionCount int    `json:"question_count,omitempty"`
}

// Question is one assessment item.
type Question struct {
	Prompt  string   `json:"prompt"`
	Kind    string   `json:"kind"`
	Choices []string `json:"choices,omitempty"`
}

// Assessment is a generated test.
type Assessment struct {
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Generator drafts assessments, usually through a model API.
type Generator interface {
	Generate(ctx context.Context, posting *record.JobPosting, candidate *record.Candidate, n int, difficulty string) (Assessment, error)
}

// ObjectStore persists generated documents.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Output is the stored result of a generation job.
type Output struct {
	Key       string `json:"key"`
	Questions int    `json:"questions"`
}

// Handler runs generation jobs.
type Handler struct {
	records record.Store
	gen     Generator
	objects ObjectStore
	logger  *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(records record.Store, gen Generator, objects ObjectStore, logger *slog.Logger) *Handler {
	return &Handler{records: records, gen: gen, objects: objects, logger: logger}
}

// HandlerFunc adapts Handle to the worker.
func (h *Handler) HandlerFunc() job.HandlerFunc { return job.Handle(nil, h.Handle) }

// Key is where the assessment for a candidate and posting is stored.
// Retries overwrite the same object.
func Key(p Payload) string {
	return fmt.Sprintf("assessments/%s/%s.json", p.JobPostingID, p.CandidateID)
}

// Handle generates and stores one assessment.
func (h *Handler) Handle(ctx context.Context, p Payload) (Output, error) {
	n := p.QuestionCount
	if n == 0 {
		n = DefaultQuestions
	}
	if n < MinQuestions || n > MaxQuestions {
		return Output{}, taskcore.Fatalf("testgen: question count %d outside [%d, %d]", n, MinQuestions, MaxQuestions)
	}

	posting, err := lookup[*record.JobPosting](ctx, h.records, record.TypeJobPosting, p.JobPostingID)
	if err != nil {
		return Output{}, err
	}
	candidate, err := lookup[*record.Candidate](ctx, h.records, record.TypeCandidate, p.CandidateID)
	if err != nil {
		return Output{}, err
	}

	a, err := h.gen.Generate(ctx, posting, candidate, n, p.Difficulty)
	if err != nil {
		return Output{}, err
	}
	if len(a.Questions) == 0 {
		return Output{}, taskcore.Transient(errors.New("testgen: generator returned no questions"))
	}

	data, err := json.Marshal(a)
	if err != nil {
		return Output{}, taskcore.Fatal(err)
	}
	key := Key(p)
	if err := h.objects.Put(ctx, key, data, "application/json"); err != nil {
		return Output{}, err
	}

	h.logger.Info("assessment generated",
		slog.String("key", key),
		slog.Int("questions", len(a.Questions)),
	)
	return Output{Key: key, Questions: len(a.Questions)}, nil
}

func lookup[T record.Record](ctx context.Context, rs record.Store, t record.Type, rid id.ID) (T, error) {
	var zero T
	r, err := rs.Get(ctx, t, rid)
	if errors.Is(err, taskcore.ErrRecordNotFound) {
		return zero, taskcore.Fatalf("%s %s: %w", t, rid, err)
	}
	if err != nil {
		return zero, err
	}
	v, ok := r.(T)
	if !ok || v.Deleted() {
		return zero, taskcore.Fatalf("%s %s: %w", t, rid, taskcore.ErrRecordNotFound)
	}
	return v, nil
}

// MemoryObjects is an in-process ObjectStore.
type MemoryObjects struct {
	mu   sync.RWMutex
	objs map[string][]byte
}

// NewMemoryObjects creates an empty store.
func NewMemoryObjects() *MemoryObjects {
	return &MemoryObjects{objs: make(map[string][]byte)}
}

// Put stores a copy of data under key.
func (m *MemoryObjects) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[key] = append([]byte(nil), data...)
	return nil
}

// Get returns the object under key.
func (m *MemoryObjects) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objs[key]
	return b, ok
}

// Len counts stored objects.
func (m *MemoryObjects) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objs)
}
