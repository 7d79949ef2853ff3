package job

import (
	"context"
	"fmt"

	"github.com/hirelane/taskcore"
)

// HandlerFunc processes one attempt of a job.
type HandlerFunc func(ctx context.Context, j *Job) Outcome

// Definition binds a typed payload handler to a job name. It is the unit
// producers and workers share: producers use Name and the payload type,
// workers use Handler.
type Definition[T any] struct {
	Name    string
	Handler func(ctx context.Context, payload T) error
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](name string, handler func(ctx context.Context, payload T) error) *Definition[T] {
	return &Definition[T]{Name: name, Handler: handler}
}

// HandlerFunc converts d into a type-erased handler.
func (d *Definition[T]) HandlerFunc() HandlerFunc {
	return Handle(nil, func(ctx context.Context, p T) (struct{}, error) {
		return struct{}{}, d.Handler(ctx, p)
	})
}

// Decode unmarshals j's payload into v using the job's own encoding. A
// malformed payload is fatal.
func Decode(j *Job, v any) error {
	codec, err := CodecFor(j.Encoding)
	if err != nil {
		return taskcore.Fatal(err)
	}
	if len(j.Payload) == 0 {
		return nil
	}
	if err := codec.Unmarshal(j.Payload, v); err != nil {
		return taskcore.Fatalf("decode payload for job %s (%s): %w", j.ID, j.Name, err)
	}
	return nil
}

// Handle adapts a typed function. The payload is decoded with the job's
// encoding, the error is classified with FromError, and a successful
// result is encoded with codec (JSON when nil). Encoding a struct{}
// result stores nothing.
func Handle[T, R any](codec Codec, fn func(ctx context.Context, payload T) (R, error)) HandlerFunc {
	if codec == nil {
		codec = JSON
	}
	return func(ctx context.Context, j *Job) Outcome {
		var payload T
		if err := Decode(j, &payload); err != nil {
			return Fail(err)
		}
		res, err := fn(ctx, payload)
		if err != nil {
			return FromError(err)
		}
		if _, empty := any(res).(struct{}); empty {
			return Success(nil)
		}
		data, err := codec.Marshal(res)
		if err != nil {
			return Fail(fmt.Errorf("encode result for job %s: %w", j.ID, err))
		}
		return Success(data)
	}
}
