package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/analysis"
	"github.com/hirelane/taskcore/id"
	"github.com/hirelane/taskcore/primary/memory"
	"github.com/hirelane/taskcore/record"
)

func candidate(name string, created time.Time) *record.Candidate {
	return &record.Candidate{
		Entity: taskcore.Entity{CreatedAt: created, UpdatedAt: created},
		ID:     id.NewCandidateID(),
		Name:   name,
		Email:  name + "@example.com",
		Skills: []string{"go"},
	}
}

func TestInsertGetDelete(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	c := candidate("ada", time.Now())

	if err := s.Insert(ctx, c); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(ctx, c); !errors.Is(err, taskcore.ErrRecordAlreadyExists) {
		t.Fatalf("duplicate insert = %v", err)
	}

	// Stored copies are isolated from the caller.
	c.Skills[0] = "cobol"
	got, err := s.Get(ctx, record.TypeCandidate, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.(*record.Candidate).Skills[0] != "go" {
		t.Error("store aliased the caller's slice")
	}

	if err := s.Delete(ctx, record.TypeCandidate, c.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, record.TypeCandidate, c.ID); !errors.Is(err, taskcore.ErrRecordNotFound) {
		t.Fatalf("get after delete = %v", err)
	}
	if err := s.Update(ctx, c); !errors.Is(err, taskcore.ErrRecordNotFound) {
		t.Fatalf("update after delete = %v", err)
	}
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	kept := candidate("kept", time.Now())
	if err := s.Insert(ctx, kept); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("abort")
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.Insert(ctx, candidate("ghost", time.Now())); err != nil {
			return err
		}
		if err := s.Delete(ctx, record.TypeCandidate, kept.ID); err != nil {
			return err
		}
		// Nested transactions join the outer one.
		return s.RunInTx(ctx, func(context.Context) error { return boom })
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx = %v, want abort", err)
	}

	n, _ := s.Count(ctx, record.TypeCandidate)
	if n != 1 {
		t.Errorf("count after rollback = %d, want 1", n)
	}
	if _, err := s.Get(ctx, record.TypeCandidate, kept.ID); err != nil {
		t.Errorf("deleted record not restored: %v", err)
	}
}

func TestList_KeysetAndSoftDelete(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var all []*record.Candidate
	for i := range 5 {
		c := candidate("c", base.Add(time.Duration(i)*time.Minute))
		all = append(all, c)
		if err := s.Insert(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	deleted := base
	all[2].DeletedAt = &deleted
	if err := s.Update(ctx, all[2]); err != nil {
		t.Fatal(err)
	}

	var seen []string
	var cursor *record.Cursor
	for {
		page, err := s.List(ctx, record.TypeCandidate, record.ListOpts{After: cursor, Limit: 2})
		if err != nil {
			t.Fatal(err)
		}
		if len(page) == 0 {
			break
		}
		for _, r := range page {
			seen = append(seen, r.RecordID().String())
		}
		cursor = record.CursorOf(page[len(page)-1])
	}
	want := []string{all[0].ID.String(), all[1].ID.String(), all[3].ID.String(), all[4].ID.String()}
	if len(seen) != len(want) {
		t.Fatalf("listed %d records, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("position %d: %s, want %s", i, seen[i], want[i])
		}
	}

	recent, _ := s.List(ctx, record.TypeCandidate, record.ListOpts{CreatedAfter: all[3].CreatedAt})
	if len(recent) != 1 || recent[0].RecordID().String() != all[4].ID.String() {
		t.Errorf("CreatedAfter returned %d records", len(recent))
	}
	if n, _ := s.Count(ctx, record.TypeCandidate); n != 4 {
		t.Errorf("count = %d, want 4 (soft delete excluded)", n)
	}
}

func TestUpdateRun_OptimisticVersion(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	run := analysis.NewRun(id.NewPostingID(), []id.ID{id.NewCandidateID()})
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	a, _ := s.GetRun(ctx, run.ID)
	b, _ := s.GetRun(ctx, run.ID)

	if err := a.Transition(analysis.StatusProcessing); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateRun(ctx, a); err != nil {
		t.Fatal(err)
	}
	if a.Version != 1 {
		t.Errorf("version after update = %d, want 1", a.Version)
	}

	_ = b.Transition(analysis.StatusProcessing)
	if err := s.UpdateRun(ctx, b); !errors.Is(err, taskcore.ErrVersionConflict) {
		t.Fatalf("stale update = %v, want ErrVersionConflict", err)
	}
	if _, err := s.GetRun(ctx, id.NewRunID()); !errors.Is(err, taskcore.ErrRunNotFound) {
		t.Fatalf("missing run = %v", err)
	}
}
