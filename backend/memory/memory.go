package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/corda/corda-runtime-os-sub030/backend"
	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/metrickeys"
	"github.com/corda/corda-runtime-os-sub030/metrics"
)

// NewMemoryStore returns a store that keeps everything in process memory. State is copied
// on the way in and out, so callers never share it with the store.
func NewMemoryStore(opts ...backend.BackendOption) *memoryStore {
	options := backend.ApplyOptions(opts...)

	return &memoryStore{
		options:     &options,
		checkpoints: make(map[string][]byte),
	}
}

type entry struct {
	id     string
	flowID string
	record []byte
	at     time.Time
}

type memoryStore struct {
	options *backend.Options

	mu          sync.Mutex
	checkpoints map[string][]byte
	outbox      []entry
	deadLetters []entry
}

var _ backend.Store = (*memoryStore)(nil)

func (ms *memoryStore) GetCheckpoint(ctx context.Context, flowID string) (*core.CheckpointState, error) {
	ms.mu.Lock()
	data, ok := ms.checkpoints[flowID]
	ms.mu.Unlock()

	if !ok {
		return nil, nil
	}

	cp := &core.CheckpointState{}
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("unmarshaling checkpoint: %w", err)
	}

	return cp, nil
}

func (ms *memoryStore) Commit(ctx context.Context, c *backend.Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}

	// Serialize everything before taking the lock so a failure leaves the store untouched.
	var state []byte
	if c.State != nil {
		var err error
		state, err = json.Marshal(c.State)
		if err != nil {
			return fmt.Errorf("marshaling checkpoint: %w", err)
		}
	}

	now := ms.options.Clock.Now()

	records := make([]entry, 0, len(c.Records))
	for _, r := range c.Records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}

		records = append(records, entry{id: uuid.NewString(), flowID: c.FlowID, record: data, at: now})
	}

	var deadLetter *entry
	if c.DeadLetter != nil {
		data, err := json.Marshal(c.DeadLetter)
		if err != nil {
			return fmt.Errorf("marshaling dead letter: %w", err)
		}

		deadLetter = &entry{id: uuid.NewString(), flowID: c.FlowID, record: data, at: now}
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if state != nil {
		ms.checkpoints[c.FlowID] = state
	} else {
		delete(ms.checkpoints, c.FlowID)
	}

	ms.outbox = append(ms.outbox, records...)

	if deadLetter != nil {
		ms.deadLetters = append(ms.deadLetters, *deadLetter)
	}

	return nil
}

func (ms *memoryStore) GetOutbox(ctx context.Context, limit int) ([]*backend.OutboxEntry, error) {
	ms.mu.Lock()
	n := min(limit, len(ms.outbox))
	pending := append([]entry(nil), ms.outbox[:n]...)
	ms.mu.Unlock()

	result := make([]*backend.OutboxEntry, 0, len(pending))
	for _, e := range pending {
		r, err := decodeRecord(e.record)
		if err != nil {
			return nil, err
		}

		result = append(result, &backend.OutboxEntry{ID: e.id, FlowID: e.flowID, Record: r, CreatedAt: e.at})
	}

	return result, nil
}

func (ms *memoryStore) AckOutbox(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	acked := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		acked[id] = struct{}{}
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	remaining := ms.outbox[:0]
	for _, e := range ms.outbox {
		if _, ok := acked[e.id]; !ok {
			remaining = append(remaining, e)
		}
	}
	ms.outbox = remaining

	return nil
}

func (ms *memoryStore) GetDeadLetters(ctx context.Context) ([]*backend.DeadLetter, error) {
	ms.mu.Lock()
	dls := append([]entry(nil), ms.deadLetters...)
	ms.mu.Unlock()

	result := make([]*backend.DeadLetter, 0, len(dls))
	for _, e := range dls {
		r, err := decodeRecord(e.record)
		if err != nil {
			return nil, err
		}

		result = append(result, &backend.DeadLetter{ID: e.id, Record: r, CreatedAt: e.at})
	}

	return result, nil
}

func (ms *memoryStore) GetStats(ctx context.Context) (*backend.Stats, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	return &backend.Stats{
		Checkpoints:   int64(len(ms.checkpoints)),
		PendingOutbox: int64(len(ms.outbox)),
		DeadLetters:   int64(len(ms.deadLetters)),
	}, nil
}

func (ms *memoryStore) Tracer() trace.Tracer {
	return ms.options.TracerProvider.Tracer(backend.TracerName)
}

func (ms *memoryStore) Metrics() metrics.Client {
	return ms.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "memory"})
}

func (ms *memoryStore) Options() *backend.Options {
	return ms.options
}

func (ms *memoryStore) Close() error {
	return nil
}

func decodeRecord(data []byte) (*core.Record, error) {
	r := &core.Record{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("unmarshaling record: %w", err)
	}

	return r, nil
}
