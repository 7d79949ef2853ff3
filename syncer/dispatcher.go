package syncer

import (
	"context"
	"fmt"

	"github.com/hirelane/taskcore/id"
	"github.com/hirelane/taskcore/intercept"
	"github.com/hirelane/taskcore/job"
	"github.com/hirelane/taskcore/queue"
	"github.com/hirelane/taskcore/record"
)

// JobName is the name of index-sync jobs.
const JobName = "sync-record"

// Payload is the index-sync job payload. It is msgpack-encoded.
type Payload struct {
	Entity record.Type `msgpack:"entity" json:"entity"`
	ID     id.ID       `msgpack:"id" json:"id"`
	Op     record.Op   `msgpack:"op" json:"op"`
}

// Enqueuer persists a pre-encoded job. engine.Engine implements it.
type Enqueuer interface {
	EnqueueRaw(ctx context.Context, queue, name string, payload []byte, opts ...job.Option) (*job.Job, error)
}

// Dispatcher enqueues index-sync jobs. It is the Sink of the change
// interceptor's supervisor and the Reconciler's output.
type Dispatcher struct {
	enq   Enqueuer
	queue string
}

var _ intercept.Sink = (*Dispatcher)(nil)

// NewDispatcher targets the index-sync queue.
func NewDispatcher(enq Enqueuer) *Dispatcher {
	return &Dispatcher{enq: enq, queue: queue.IndexSync}
}

// Dispatch implements intercept.Sink.
func (d *Dispatcher) Dispatch(ctx context.Context, op intercept.Operation) error {
	data, err := job.Msgpack.Marshal(Payload{Entity: op.Entity, ID: op.ID, Op: op.Kind})
	if err != nil {
		return fmt.Errorf("syncer: encode payload: %w", err)
	}
	if _, err := d.enq.EnqueueRaw(ctx, d.queue, JobName, data, job.WithEncoding(job.CodecMsgpack)); err != nil {
		return fmt.Errorf("syncer: enqueue %s %s/%s: %w", op.Kind, op.Entity, op.ID, err)
	}
	return nil
}
