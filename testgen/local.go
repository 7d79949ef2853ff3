package testgen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hirelane/taskcore/record"
)

// RequirementsGenerator drafts open questions from a posting's
// requirements. It stands in for the model API in development.
type RequirementsGenerator struct{}

var _ Generator = RequirementsGenerator{}

// Generate implements Generator.
func (RequirementsGenerator) Generate(_ context.Context, p *record.JobPosting, c *record.Candidate, n int, difficulty string) (Assessment, error) {
	topics := p.Requirements
	if len(topics) == 0 {
		topics = []string{p.Title}
	}
	if difficulty == "" {
		difficulty = "intermediate"
	}
	a := Assessment{Title: fmt.Sprintf("%s assessment for %s", p.Title, c.Name)}
	for i := range n {
		topic := topics[i%len(topics)]
		a.Questions = append(a.Questions, Question{
			Prompt: fmt.Sprintf("(%s) Describe a problem you solved with %s and the trade-offs you weighed.", difficulty, topic),
			Kind:   "open",
		})
	}
	return a, nil
}

// DirObjects writes objects under a root directory.
type DirObjects struct {
	root string
}

var _ ObjectStore = (*DirObjects)(nil)

// NewDirObjects creates a DirObjects rooted at root.
func NewDirObjects(root string) *DirObjects { return &DirObjects{root: root} }

// Put writes data to root/key, replacing any existing file atomically.
func (d *DirObjects) Put(_ context.Context, key string, data []byte, _ string) error {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return fmt.Errorf("testgen: key %q escapes the object root", key)
	}
	path := filepath.Join(d.root, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
