package backend

import (
	"context"
	"errors"
	"time"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/metrics"
	"go.opentelemetry.io/otel/trace"
)

var ErrInvalidCommit = errors.New("invalid commit")

const TracerName = "flow-engine-backend"

// Commit is the result of processing one flow event. It is applied atomically: the checkpoint
// is written (or deleted when State is nil), Records are appended to the outbox in order, and
// DeadLetter, if set, is appended to the dead letter queue.
type Commit struct {
	FlowID string

	State *core.CheckpointState

	Records []*core.Record

	DeadLetter *core.Record
}

// OutboxEntry is a record waiting to be published.
type OutboxEntry struct {
	ID string

	// FlowID is the flow whose processing produced the record.
	FlowID string

	Record    *core.Record
	CreatedAt time.Time
}

type DeadLetter struct {
	ID        string
	Record    *core.Record
	CreatedAt time.Time
}

// Store persists checkpoints together with the records their processing produced.
type Store interface {
	// GetCheckpoint returns the checkpoint for the given flow, or nil if there is none.
	GetCheckpoint(ctx context.Context, flowID string) (*core.CheckpointState, error)

	// Commit atomically applies the outcome of one processed event.
	Commit(ctx context.Context, c *Commit) error

	// GetOutbox returns up to limit unpublished records, oldest first.
	GetOutbox(ctx context.Context, limit int) ([]*OutboxEntry, error)

	// AckOutbox removes published records from the outbox.
	AckOutbox(ctx context.Context, ids ...string) error

	GetDeadLetters(ctx context.Context) ([]*DeadLetter, error)

	GetStats(ctx context.Context) (*Stats, error)

	Tracer() trace.Tracer

	Metrics() metrics.Client

	Options() *Options

	Close() error
}

// Validate checks that a commit can be applied.
func (c *Commit) Validate() error {
	if c == nil || c.FlowID == "" {
		return ErrInvalidCommit
	}

	if c.State != nil && c.State.FlowID != c.FlowID {
		return ErrInvalidCommit
	}

	for _, r := range c.Records {
		if r == nil {
			return ErrInvalidCommit
		}
	}

	return nil
}

// OutboxNotifier is implemented by stores that can signal new outbox records.
type OutboxNotifier interface {
	OutboxSignal() <-chan struct{}
}
