package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/corda/corda-runtime-os-sub030/backend"
	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/flow"
	"github.com/corda/corda-runtime-os-sub030/internal/metrickeys"
	"github.com/corda/corda-runtime-os-sub030/log"
	"github.com/corda/corda-runtime-os-sub030/metrics"
	"github.com/corda/corda-runtime-os-sub030/processor"
	"github.com/corda/corda-runtime-os-sub030/registry"
	"github.com/corda/corda-runtime-os-sub030/vnode"
)

var (
	ErrWorkerStopped = errors.New("worker stopped")
	ErrNoFlowID      = errors.New("record has no flow id")
)

// EventProcessor processes one flow event against the flow's checkpoint.
type EventProcessor interface {
	OnNext(ctx context.Context, state *core.CheckpointState, record *core.Record) processor.Response
}

type Worker struct {
	store     backend.Store
	registry  *registry.Registry
	processor EventProcessor

	options *Options
	logger  *slog.Logger
	metrics metrics.Client
	clock   clock.Clock

	mapper *mapper

	mu           sync.RWMutex
	stopped      bool
	partitions   []chan *core.Record
	partitionsWg sync.WaitGroup

	relayDone chan struct{}
}

// New creates a worker processing flow events against store. Flows are registered with
// RegisterFlow and RegisterResponder before calling Start.
func New(store backend.Store, vnodes vnode.Registry, options *Options, opts ...processor.Option) *Worker {
	if options == nil {
		options = &DefaultOptions
	}

	bo := store.Options()
	popts := append([]processor.Option{
		processor.WithLogger(bo.Logger),
		processor.WithMetrics(bo.Metrics),
		processor.WithTracerProvider(bo.TracerProvider),
		processor.WithClock(bo.Clock),
	}, opts...)

	reg := registry.New()
	p := processor.New(reg, vnodes, popts...)

	w := newWorker(store, p, options)
	w.registry = reg

	return w
}

func newWorker(store backend.Store, p EventProcessor, options *Options) *Worker {
	options = options.withDefaults()

	bo := store.Options()

	c := options.Clock
	if c == nil {
		c = bo.Clock
	}

	if options.Publisher == nil {
		options.Publisher = NewLogPublisher(bo.Logger)
	}

	w := &Worker{
		store:     store,
		processor: p,
		options:   options,
		logger:    bo.Logger,
		metrics:   store.Metrics(),
		clock:     c,
		relayDone: make(chan struct{}),
	}

	w.partitions = make([]chan *core.Record, options.Partitions)
	for i := range w.partitions {
		w.partitions[i] = make(chan *core.Record, options.PartitionBuffer)
	}

	w.mapper = newMapper(c, bo.Logger, w.Submit)

	return w
}

// RegisterFlow registers a flow that can be started by name.
func (w *Worker) RegisterFlow(name string, f flow.Flow) error {
	return w.registry.RegisterFlow(name, f)
}

// RegisterResponder registers a flow started by session initiations for protocol.
func (w *Worker) RegisterResponder(protocol, name string, f flow.Flow) error {
	return w.registry.RegisterResponder(protocol, name, f)
}

// Start starts the partitions and the outbox relay.
//
// To stop the worker, cancel the context passed to Start. To wait for completion of the
// events already accepted, call `WaitForCompletion`.
func (w *Worker) Start(ctx context.Context) error {
	if s, ok := w.processor.(interface{ Start(context.Context) }); ok {
		s.Start(ctx)
	}

	w.partitionsWg.Add(len(w.partitions))
	for i, ch := range w.partitions {
		go w.partition(i, ch)
	}

	go w.relay(ctx)

	return nil
}

// WaitForCompletion waits for the relay to stop and the partitions to drain.
func (w *Worker) WaitForCompletion() error {
	<-w.relayDone

	w.mapper.stop()

	w.mu.Lock()
	w.stopped = true
	for _, ch := range w.partitions {
		close(ch)
	}
	w.mu.Unlock()

	w.partitionsWg.Wait()

	if c, ok := w.processor.(interface{ Close() }); ok {
		c.Close()
	}

	return nil
}

// Submit hands a flow event record to the partition owning its flow.
func (w *Worker) Submit(ctx context.Context, r *core.Record) error {
	flowID := flowIDOf(r)
	if flowID == "" {
		return ErrNoFlowID
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return ErrWorkerStopped
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case w.partitions[partitionOf(flowID, len(w.partitions))] <- r:
		return nil
	}
}

func (w *Worker) partition(i int, ch <-chan *core.Record) {
	defer w.partitionsWg.Done()

	for r := range ch {
		// Accepted events are completed even after the root context is canceled
		if err := w.handle(context.Background(), r); err != nil {
			w.logger.Error("could not process flow event", log.PartitionKey, i, log.FlowIDKey, flowIDOf(r), "error", err)
		}
	}
}

func (w *Worker) handle(ctx context.Context, r *core.Record) error {
	flowID := flowIDOf(r)

	var state *core.CheckpointState
	if err := w.retry(ctx, "get_checkpoint", func() error {
		var err error
		state, err = w.store.GetCheckpoint(ctx, flowID)
		return err
	}); err != nil {
		return fmt.Errorf("loading checkpoint: %w", err)
	}

	resp := w.processor.OnNext(ctx, state, r)

	commit := &backend.Commit{
		FlowID:  flowID,
		State:   resp.UpdatedState,
		Records: resp.ResponseEvents,
	}

	if resp.MarkForDLQ {
		commit.DeadLetter = r
	}

	if err := w.retry(ctx, "commit", func() error {
		return w.store.Commit(ctx, commit)
	}); err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	if resp.MarkForDLQ {
		w.logger.Warn("flow event dead lettered", log.FlowIDKey, flowID)

		if w.options.DeadLetterSink != nil {
			if err := w.options.DeadLetterSink.DeadLetter(ctx, r); err != nil {
				return fmt.Errorf("notifying dead letter sink: %w", err)
			}
		}
	}

	return nil
}

// retry runs f with exponential backoff until it succeeds, fails permanently, or the retry
// budget is spent.
func (w *Worker) retry(ctx context.Context, op string, f func() error) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     w.options.RetryInitialInterval,
		MaxInterval:         time.Second * 5,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		MaxElapsedTime:      w.options.RetryMaxElapsedTime,
		Stop:                backoff.Stop,
		Clock:               clock.New(),
	}
	b.Reset()

	return backoff.RetryNotify(func() error {
		err := f()
		if errors.Is(err, backend.ErrInvalidCommit) {
			return backoff.Permanent(err)
		}

		return err
	}, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		w.logger.WarnContext(ctx, "retrying store operation", "op", op, "error", err, "backoff", d)
		w.metrics.Counter(metrickeys.WorkerCommitRetries, metrics.Tags{"op": op}, 1)
	})
}

func flowIDOf(r *core.Record) string {
	if r == nil {
		return ""
	}

	if fe, ok := r.Payload.(*core.FlowEvent); ok && fe.FlowID != "" {
		return fe.FlowID
	}

	return r.Key
}

func partitionOf(flowID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(flowID))
	return int(h.Sum32() % uint32(n))
}
