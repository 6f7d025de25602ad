package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/corda/corda-runtime-os-sub030/config"
	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/checkpoint"
	"github.com/corda/corda-runtime-os-sub030/internal/fiber"
	"github.com/corda/corda-runtime-os-sub030/internal/flowctx"
	"github.com/corda/corda-runtime-os-sub030/internal/flowerrors"
	"github.com/corda/corda-runtime-os-sub030/internal/metrics"
)

type testFuture struct {
	done        chan struct{}
	result      fiber.Result
	interrupted int
	mu          sync.Mutex
}

func completed(result fiber.Result) *testFuture {
	f := &testFuture{done: make(chan struct{}), result: result}
	close(f.done)
	return f
}

func (f *testFuture) Done() <-chan struct{} { return f.done }
func (f *testFuture) Result() fiber.Result  { return f.result }

func (f *testFuture) Interrupt() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.interrupted++
}

type testRunner struct {
	futures []*testFuture
	resumes []fiber.Resume
}

func (r *testRunner) RunFlow(_ context.Context, _ *fiber.Context, resume fiber.Resume) fiber.Future {
	f := r.futures[len(r.resumes)]
	r.resumes = append(r.resumes, resume)
	return f
}

type testCache struct {
	puts    []string
	evicted []string
}

func (c *testCache) Take(string) (*fiber.Fiber, bool) { return nil, false }
func (c *testCache) Put(flowID string, _ *fiber.Fiber) { c.puts = append(c.puts, flowID) }
func (c *testCache) Evict(flowID string)               { c.evicted = append(c.evicted, flowID) }

type testWaitingHandler struct {
	continuations []flowctx.Continuation
	calls         int
}

func (h *testWaitingHandler) Kind() core.WaitingForKind { return core.WaitingFor_Wakeup }

func (h *testWaitingHandler) RunOrContinue(context.Context, *flowctx.FlowEventContext, *core.WaitingFor) (flowctx.Continuation, error) {
	c := h.continuations[h.calls]
	h.calls++
	return c, nil
}

type testRequestHandler struct {
	requestType core.RequestType
	waitingFor  *core.WaitingFor
	processed   []core.FlowIORequest
}

func (h *testRequestHandler) RequestType() core.RequestType { return h.requestType }

func (h *testRequestHandler) GetUpdatedWaitingFor(context.Context, *flowctx.FlowEventContext, core.FlowIORequest) (*core.WaitingFor, error) {
	return h.waitingFor, nil
}

func (h *testRequestHandler) PostProcess(_ context.Context, _ *flowctx.FlowEventContext, request core.FlowIORequest) error {
	h.processed = append(h.processed, request)
	return nil
}

func newTestContext(t *testing.T) *flowctx.FlowEventContext {
	cp, err := checkpoint.New(&core.CheckpointState{
		FlowID:       "flow-1",
		StartContext: &core.FlowStartContext{FlowName: "test"},
		Fiber:        []byte("fiber-0"),
		WaitingFor:   core.WaitingForWakeup(),
	}, clock.NewMock(), 10)
	require.NoError(t, err)

	return &flowctx.FlowEventContext{
		Checkpoint: cp,
		InputEvent: core.NewWakeupEvent("flow-1", time.Time{}),
		Config:     config.DefaultConfig,
		Logger:     slog.Default(),
	}
}

func suspended(request core.FlowIORequest, b string) fiber.Result {
	return fiber.Result{Kind: fiber.ResultSuspended, Request: request, Fiber: []byte(b)}
}

func newTestStage(clk clock.Clock, runner FlowRunner, cache fiber.Cache, waiting flowctx.WaitingForHandler, requests ...flowctx.RequestHandler) *ExecutionStage {
	return NewExecutionStage(slog.Default(), clk, metrics.NewNoopMetricsClient(), runner, cache,
		[]flowctx.WaitingForHandler{waiting}, requests)
}

func Test_Execute_LoopsWhileReady(t *testing.T) {
	runner := &testRunner{futures: []*testFuture{
		completed(suspended(&core.SendRequest{}, "fiber-1")),
		completed(suspended(&core.SendRequest{}, "fiber-2")),
	}}
	cache := &testCache{}
	waiting := &testWaitingHandler{continuations: []flowctx.Continuation{
		flowctx.Run(fiber.Resume{}),
		flowctx.Run(fiber.Resume{Payload: []byte("second")}),
		flowctx.StaySuspended,
	}}
	send := &testRequestHandler{requestType: core.RequestType_Send, waitingFor: core.WaitingForWakeup()}

	fc := newTestContext(t)
	s := newTestStage(clock.New(), runner, cache, waiting, send)

	require.NoError(t, s.Execute(context.Background(), fc, time.Second))

	require.Len(t, runner.resumes, 2)
	require.Equal(t, []byte("second"), runner.resumes[1].Payload)
	require.Equal(t, 3, waiting.calls)
	require.Len(t, send.processed, 2)
	require.Equal(t, []byte("fiber-2"), fc.Checkpoint.Fiber())
	require.Equal(t, string(core.RequestType_Send), fc.Checkpoint.SuspendedOn())
}

func Test_Execute_StaySuspended(t *testing.T) {
	runner := &testRunner{}
	waiting := &testWaitingHandler{continuations: []flowctx.Continuation{flowctx.StaySuspended}}

	fc := newTestContext(t)
	s := newTestStage(clock.New(), runner, &testCache{}, waiting)

	require.NoError(t, s.Execute(context.Background(), fc, time.Second))
	require.Empty(t, runner.resumes)
	require.Equal(t, []byte("fiber-0"), fc.Checkpoint.Fiber())
}

func Test_Execute_Finished(t *testing.T) {
	runner := &testRunner{futures: []*testFuture{completed(fiber.Finished("done"))}}
	cache := &testCache{}
	waiting := &testWaitingHandler{continuations: []flowctx.Continuation{flowctx.Run(fiber.Resume{})}}
	finished := &testRequestHandler{requestType: core.RequestType_FlowFinished}

	fc := newTestContext(t)
	s := newTestStage(clock.New(), runner, cache, waiting, finished)

	require.NoError(t, s.Execute(context.Background(), fc, time.Second))

	require.Equal(t, []string{"flow-1"}, cache.evicted)
	require.Empty(t, fc.Checkpoint.Fiber())
	require.Nil(t, fc.Checkpoint.WaitingFor())
	require.Equal(t, []core.FlowIORequest{&core.FlowFinished{Result: "done"}}, finished.processed)
	require.Equal(t, 1, waiting.calls)
}

func Test_Execute_UnknownRequestTypeIsFatal(t *testing.T) {
	runner := &testRunner{futures: []*testFuture{completed(suspended(&core.SleepRequest{Duration: time.Second}, "fiber-1"))}}
	waiting := &testWaitingHandler{continuations: []flowctx.Continuation{flowctx.Run(fiber.Resume{})}}

	fc := newTestContext(t)
	s := newTestStage(clock.New(), runner, &testCache{}, waiting)

	err := s.Execute(context.Background(), fc, time.Second)

	var ferr *flowerrors.FatalError
	require.True(t, errors.As(err, &ferr))
}

func Test_Execute_UnknownWaitingForIsFatal(t *testing.T) {
	fc := newTestContext(t)
	fc.Checkpoint.SetWaitingFor(core.WaitingForSessionData("s1"))

	s := newTestStage(clock.New(), &testRunner{}, &testCache{}, &testWaitingHandler{})

	err := s.Execute(context.Background(), fc, time.Second)

	var ferr *flowerrors.FatalError
	require.True(t, errors.As(err, &ferr))
}

func Test_Execute_TimeoutFailsFlow(t *testing.T) {
	hanging := &testFuture{done: make(chan struct{})}
	runner := &testRunner{futures: []*testFuture{hanging}}
	cache := &testCache{}
	waiting := &testWaitingHandler{continuations: []flowctx.Continuation{flowctx.Run(fiber.Resume{})}}
	failed := &testRequestHandler{requestType: core.RequestType_FlowFailed}

	fc := newTestContext(t)
	s := newTestStage(clock.New(), runner, cache, waiting, failed)

	require.NoError(t, s.Execute(context.Background(), fc, 20*time.Millisecond))

	require.Equal(t, 1, hanging.interrupted)
	require.Equal(t, []string{"flow-1"}, cache.evicted)
	require.Len(t, failed.processed, 1)

	r, ok := failed.processed[0].(*core.FlowFailed)
	require.True(t, ok)
	require.ErrorIs(t, r.Err, flowerrors.ErrFiberTimeout)
}
