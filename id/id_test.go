package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/hirelane/taskcore/id"
)

func TestKinds(t *testing.T) {
	tests := []struct {
		newFn   func() id.ID
		prefix  id.Prefix
		parseFn func(string) (id.ID, error)
	}{
		{id.NewJobID, id.PrefixJob, id.ParseJobID},
		{id.NewWorkerID, id.PrefixWorker, id.ParseWorkerID},
		{id.NewRunID, id.PrefixRun, id.ParseRunID},
		{id.NewResultID, id.PrefixResult, id.ParseResultID},
		{id.NewCandidateID, id.PrefixCandidate, nil},
		{id.NewPostingID, id.PrefixPosting, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.prefix), func(t *testing.T) {
			v := tt.newFn()
			if v.Prefix() != tt.prefix || !strings.HasPrefix(v.String(), string(tt.prefix)+"_") {
				t.Fatalf("got %q, want prefix %q", v, tt.prefix)
			}
			if tt.parseFn == nil {
				return
			}
			back, err := tt.parseFn(v.String())
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if back.String() != v.String() {
				t.Errorf("round trip: %q != %q", back, v)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		parseFn func(string) (id.ID, error)
	}{
		{"empty", "", id.Parse},
		{"garbage", "not an id", id.Parse},
		{"run as job", id.NewRunID().String(), id.ParseJobID},
		{"job as result", id.NewJobID().String(), id.ParseResultID},
		{"candidate as worker", id.NewCandidateID().String(), id.ParseWorkerID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.parseFn(tt.input); err == nil {
				t.Errorf("expected error for %q", tt.input)
			}
		})
	}
}

func TestNil(t *testing.T) {
	var v id.ID
	if !v.IsNil() || v.String() != "" || v.Prefix() != "" {
		t.Fatalf("zero ID should be Nil: %q", v)
	}

	val, err := v.Value()
	if err != nil || val != nil {
		t.Errorf("Value(Nil) = %v, %v; want nil, nil", val, err)
	}

	for _, src := range []any{nil, "", []byte{}} {
		got := id.NewJobID()
		if err := got.Scan(src); err != nil || !got.IsNil() {
			t.Errorf("Scan(%#v) = %q, %v; want Nil", src, got, err)
		}
	}
}

func TestScan(t *testing.T) {
	want := id.NewRunID()
	val, err := want.Value()
	if err != nil {
		t.Fatal(err)
	}

	var fromString, fromBytes id.ID
	if err := fromString.Scan(val); err != nil {
		t.Fatalf("Scan(string): %v", err)
	}
	if err := fromBytes.Scan([]byte(want.String())); err != nil {
		t.Fatalf("Scan([]byte): %v", err)
	}
	if fromString.String() != want.String() || fromBytes.String() != want.String() {
		t.Errorf("scanned %q and %q, want %q", fromString, fromBytes, want)
	}

	if err := fromString.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}

func TestJSON(t *testing.T) {
	type row struct {
		ID     id.JobID    `json:"id"`
		Worker id.WorkerID `json:"worker"`
	}
	in := row{ID: id.NewJobID()}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"worker":""`) {
		t.Errorf("Nil should encode as empty string: %s", data)
	}

	var out row
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.ID.String() != in.ID.String() || !out.Worker.IsNil() {
		t.Errorf("decoded %+v, want %+v", out, in)
	}
}

func TestUniqueness(t *testing.T) {
	a, b := id.NewJobID(), id.NewJobID()
	if a.String() == b.String() {
		t.Errorf("two NewJobID calls returned %q", a)
	}
}
