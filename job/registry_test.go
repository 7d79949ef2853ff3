package job_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/job"
)

type emailPayload struct {
	To      string `json:"to" msgpack:"to"`
	Subject string `json:"subject" msgpack:"subject"`
}

func newJob(t *testing.T, codec job.Codec, payload any) *job.Job {
	t.Helper()
	data, err := codec.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	opts := job.Apply(job.DefaultOptions(), job.WithEncoding(codec.Name()))
	return job.New("email", "send", data, opts)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := job.NewRegistry()

	var got emailPayload
	def := job.NewDefinition("send-email", func(_ context.Context, p emailPayload) error {
		got = p
		return nil
	})
	if err := r.Register("email", def.HandlerFunc()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	h, ok := r.Get("email")
	if !ok {
		t.Fatal("expected handler to be registered")
	}
	out := h(context.Background(), newJob(t, job.JSON, emailPayload{To: "a@example.com", Subject: "Hi"}))
	if out.Kind != job.OutcomeSuccess {
		t.Fatalf("outcome = %v (%v), want success", out.Kind, out.Err)
	}
	if got.To != "a@example.com" || got.Subject != "Hi" {
		t.Errorf("payload = %+v", got)
	}
}

func TestRegistry_DuplicateQueue(t *testing.T) {
	r := job.NewRegistry()
	h := func(context.Context, *job.Job) job.Outcome { return job.Success(nil) }
	if err := r.Register("email", h); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	err := r.Register("email", h)
	if !errors.Is(err, taskcore.ErrQueueExists) {
		t.Fatalf("second Register = %v, want ErrQueueExists", err)
	}
}

func TestRegistry_Queues(t *testing.T) {
	r := job.NewRegistry()
	h := func(context.Context, *job.Job) job.Outcome { return job.Success(nil) }
	for _, q := range []string{"index-sync", "analysis", "email"} {
		if err := r.Register(q, h); err != nil {
			t.Fatal(err)
		}
	}
	got := r.Queues()
	want := []string{"analysis", "email", "index-sync"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Queues() = %v, want %v", got, want)
		}
	}
}

func TestHandle_Classification(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want job.OutcomeKind
	}{
		{"nil error", nil, job.OutcomeSuccess},
		{"unclassified", boom, job.OutcomeRetry},
		{"transient", taskcore.Transient(boom), job.OutcomeRetry},
		{"fatal", taskcore.Fatal(boom), job.OutcomeFail},
		{"429", taskcore.FromStatus(429, nil), job.OutcomeRetry},
		{"503", taskcore.FromStatus(503, nil), job.OutcomeRetry},
		{"404", taskcore.FromStatus(404, nil), job.OutcomeFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := job.Handle(nil, func(context.Context, emailPayload) (string, error) {
				return "ok", tt.err
			})
			out := h(context.Background(), newJob(t, job.JSON, emailPayload{To: "x"}))
			if out.Kind != tt.want {
				t.Errorf("kind = %v, want %v", out.Kind, tt.want)
			}
		})
	}
}

func TestHandle_MalformedPayloadFails(t *testing.T) {
	h := job.Handle(nil, func(context.Context, emailPayload) (string, error) {
		t.Fatal("handler must not run")
		return "", nil
	})
	j := job.New("email", "send", []byte("{not json"), job.DefaultOptions())

	out := h(context.Background(), j)
	if out.Kind != job.OutcomeFail {
		t.Fatalf("kind = %v, want fail", out.Kind)
	}
	if !taskcore.IsFatal(out.Err) {
		t.Errorf("err %v should be fatal", out.Err)
	}
}

func TestHandle_MsgpackRoundTrip(t *testing.T) {
	h := job.Handle(job.Msgpack, func(_ context.Context, p emailPayload) (emailPayload, error) {
		p.Subject = "re: " + p.Subject
		return p, nil
	})
	out := h(context.Background(), newJob(t, job.Msgpack, emailPayload{To: "b@example.com", Subject: "offer"}))
	if out.Kind != job.OutcomeSuccess {
		t.Fatalf("kind = %v: %v", out.Kind, out.Err)
	}
	var res emailPayload
	if err := job.Msgpack.Unmarshal(out.Result, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Subject != "re: offer" {
		t.Errorf("subject = %q", res.Subject)
	}
}
