// Package fiber runs flows as resumable computations.
//
// A suspended flow is persisted as a journal holding the results of all requests it
// issued so far. Resuming a flow re-executes it from the start and answers recorded
// requests from the journal until the flow issues a request that is not recorded yet.
// Fibers that are still parked at their suspension point can be cached, which avoids the
// re-execution when the next event for the flow is processed by the same engine.
package fiber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/flow"
	"github.com/corda/corda-runtime-os-sub030/internal/metrickeys"
	"github.com/corda/corda-runtime-os-sub030/internal/tracing"
	"github.com/corda/corda-runtime-os-sub030/log"
	"github.com/corda/corda-runtime-os-sub030/metrics"
	"github.com/corda/corda-runtime-os-sub030/registry"
)

// ErrInterrupted is the failure of a fiber run that was interrupted.
var ErrInterrupted = errors.New("flow fiber interrupted")

type ResultKind int

const (
	_ ResultKind = iota

	ResultFinished
	ResultSuspended
	ResultFailed
)

func (k ResultKind) String() string {
	switch k {
	case ResultFinished:
		return "finished"
	case ResultSuspended:
		return "suspended"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one fiber run. Request is a *core.FlowFinished for finished
// fibers, a *core.FlowFailed for failed fibers, and the request the fiber is suspended on
// otherwise.
type Result struct {
	Kind    ResultKind
	Request core.FlowIORequest

	// Fiber is the serialized continuation of a suspended fiber.
	Fiber []byte

	// Cacheable is the live fiber parked at its suspension point, if any.
	Cacheable *Fiber
}

func Finished(result string) Result {
	return Result{Kind: ResultFinished, Request: &core.FlowFinished{Result: result}}
}

func Failed(err error) Result {
	return Result{Kind: ResultFailed, Request: &core.FlowFailed{Err: err}}
}

// Resume is the value a suspended fiber is resumed with. Payload answers external
// events, Payloads answers session receives keyed by session id.
type Resume struct {
	Payload  []byte
	Payloads map[string][]byte
	Err      error
}

// Context is what the runner needs to know about a flow to run it.
type Context struct {
	FlowID       string
	StartContext *core.FlowStartContext

	// Fiber is the continuation of the flow, empty if the flow has not run yet.
	Fiber []byte

	// InitiatingSession is set for responder flows.
	InitiatingSession *core.SessionInfo

	Logger *slog.Logger
}

// Future is a pending fiber run.
type Future interface {
	Done() <-chan struct{}

	// Result blocks until the run completes.
	Result() Result

	// Interrupt asks the fiber to stop at its next suspension point. It does not wait for
	// the fiber to stop.
	Interrupt()
}

// Cache holds live fibers by flow id.
type Cache interface {
	// Take removes and returns the cached fiber for flowID.
	Take(flowID string) (*Fiber, bool)

	Put(flowID string, f *Fiber)

	// Evict removes the cached fiber for flowID and stops it.
	Evict(flowID string)
}

// Fiber is a live flow parked at a suspension point.
type Fiber struct {
	fc *flowContext
	co *coroutine
}

// Exit stops the parked fiber.
func (f *Fiber) Exit() {
	f.co.exit()
}

func (f *Fiber) interrupt() {
	f.fc.cancel()
	f.co.interrupt()
}

type Runner struct {
	registry *registry.Registry
	cache    Cache
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  metrics.Client
	clock    clock.Clock
}

func NewRunner(
	logger *slog.Logger, tracer trace.Tracer, mc metrics.Client, clock clock.Clock, registry *registry.Registry, cache Cache,
) *Runner {
	return &Runner{
		registry: registry,
		cache:    cache,
		logger:   logger,
		tracer:   tracer,
		metrics:  mc,
		clock:    clock,
	}
}

// RunFlow resumes the flow with the given value on its own goroutine.
func (r *Runner) RunFlow(ctx context.Context, fctx *Context, resume Resume) Future {
	f := &future{
		done: make(chan struct{}),
	}

	go func() {
		defer close(f.done)

		f.settle(r.run(ctx, fctx, resume, f))
	}()

	return f
}

func (r *Runner) run(ctx context.Context, fctx *Context, resume Resume, f *future) Result {
	_, span := r.tracer.Start(ctx, "RunFlow", trace.WithAttributes(
		attribute.String(tracing.FlowID, fctx.FlowID),
	))
	defer span.End()

	timer := metrics.Timer(r.metrics, r.clock, metrickeys.FiberExecution, metrics.Tags{})
	defer timer.Stop()

	result := r.execute(fctx, resume, f)

	span.SetAttributes(attribute.String(tracing.FiberOutcome, result.Kind.String()))
	if result.Kind == ResultFailed {
		tracing.WithSpanError(span, result.Request.(*core.FlowFailed).Err)
	}

	return result
}

func (r *Runner) execute(fctx *Context, resume Resume, f *future) Result {
	cont, err := decodeContinuation(fctx.Fiber)
	if err != nil {
		return Failed(err)
	}

	resuming := cont.Pending != ""
	cont.resume(resume)

	var live *Fiber
	if resuming {
		live = r.cached(fctx.FlowID, len(cont.Journal))
	} else {
		r.cache.Evict(fctx.FlowID)
	}

	if live == nil {
		if fctx.StartContext == nil {
			return Failed(fmt.Errorf("flow %s has no start context", fctx.FlowID))
		}

		program, err := r.registry.GetFlow(fctx.StartContext.FlowName)
		if err != nil {
			return Failed(err)
		}

		live = r.start(fctx, program)
	}

	live.fc.journal = cont.Journal

	if !f.attach(live) {
		live.Exit()
		return Failed(fmt.Errorf("flow %s interrupted before it ran", fctx.FlowID))
	}

	live.co.execute()

	if f.isInterrupted() {
		live.Exit()
		return Failed(ErrInterrupted)
	}

	if live.co.Finished() {
		if err := live.co.Error(); err != nil {
			return Failed(err)
		}

		return Finished(live.fc.result)
	}

	cont.Pending = live.fc.pending.RequestType()

	b, err := cont.encode()
	if err != nil {
		live.Exit()
		return Failed(fmt.Errorf("encoding fiber continuation: %w", err))
	}

	return Result{
		Kind:      ResultSuspended,
		Request:   live.fc.pending,
		Fiber:     b,
		Cacheable: live,
	}
}

// cached returns the cached fiber of the flow if it is parked waiting for the last entry
// of a journal of the given length.
func (r *Runner) cached(flowID string, journalLen int) *Fiber {
	live, ok := r.cache.Take(flowID)
	if !ok {
		return nil
	}

	if live.fc.cursor != journalLen-1 {
		r.logger.Debug("discarding cached fiber", log.FlowIDKey, flowID)
		live.Exit()
		return nil
	}

	return live
}

func (r *Runner) start(fctx *Context, program flow.Flow) *Fiber {
	fc := &flowContext{
		flowID:     fctx.FlowID,
		start:      fctx.StartContext,
		initiating: fctx.InitiatingSession,
		done:       make(chan struct{}),
	}

	logger := fctx.Logger
	if logger == nil {
		logger = r.logger
	}
	fc.logger = newReplayLogger(fc, logger)

	fc.co = newCoroutine(func() error {
		result, err := program(fc)
		fc.result = result
		return err
	})

	return &Fiber{fc: fc, co: fc.co}
}

type future struct {
	done   chan struct{}
	result Result

	mu          sync.Mutex
	interrupted bool
	settled     bool
	live        *Fiber
}

func (f *future) Done() <-chan struct{} {
	return f.done
}

func (f *future) Result() Result {
	<-f.done

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.result
}

func (f *future) Interrupt() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.interrupted {
		return
	}

	f.interrupted = true

	if f.settled {
		// The run completed concurrently, nobody is going to cache the fiber
		if f.result.Cacheable != nil {
			f.result.Cacheable.Exit()
			f.result.Cacheable = nil
		}

		return
	}

	if f.live != nil {
		f.live.interrupt()
	}
}

func (f *future) settle(result Result) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.interrupted && result.Cacheable != nil {
		result.Cacheable.Exit()
		result.Cacheable = nil
	}

	f.result = result
	f.settled = true
}

func (f *future) isInterrupted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.interrupted
}

func (f *future) attach(live *Fiber) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.interrupted {
		return false
	}

	f.live = live
	return true
}
