package fiber

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/goleak"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/flow"
	"github.com/corda/corda-runtime-os-sub030/internal/metrics"
	"github.com/corda/corda-runtime-os-sub030/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mapCache struct {
	mu sync.Mutex
	m  map[string]*Fiber
}

func newMapCache() *mapCache {
	return &mapCache{m: map[string]*Fiber{}}
}

func (c *mapCache) Take(flowID string) (*Fiber, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.m[flowID]
	delete(c.m, flowID)
	return f, ok
}

func (c *mapCache) Put(flowID string, f *Fiber) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.m[flowID] = f
}

func (c *mapCache) Evict(flowID string) {
	if f, ok := c.Take(flowID); ok {
		f.Exit()
	}
}

var alice = core.HoldingIdentity{X500Name: "O=Alice, L=London, C=GB", GroupID: "group"}
var bob = core.HoldingIdentity{X500Name: "O=Bob, L=Paris, C=FR", GroupID: "group"}

func newTestRunner(t *testing.T, cache Cache, flows map[string]flow.Flow) *Runner {
	r := registry.New()
	for name, f := range flows {
		require.NoError(t, r.RegisterFlow(name, f))
	}

	return NewRunner(slog.Default(), noop.NewTracerProvider().Tracer("test"), metrics.NewNoopMetricsClient(), clock.New(), r, cache)
}

func fiberContext(flowName string, fiber []byte) *Context {
	return &Context{
		FlowID: "flow-1",
		StartContext: &core.FlowStartContext{
			FlowName:  flowName,
			Identity:  alice,
			StartArgs: "args",
		},
		Fiber: fiber,
	}
}

func run(t *testing.T, r *Runner, fctx *Context, resume Resume) Result {
	f := r.RunFlow(context.Background(), fctx, resume)

	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		require.FailNow(t, "fiber did not complete")
	}

	return f.Result()
}

func pingFlow(ctx flow.Context) (string, error) {
	s := ctx.InitiateFlow(bob, "ping")

	r, err := s.SendAndReceive([]byte(ctx.StartArgs()))
	if err != nil {
		return "", err
	}

	return "received " + string(r), nil
}

func Test_Runner_Finishes(t *testing.T) {
	r := newTestRunner(t, newMapCache(), map[string]flow.Flow{
		"hello": func(ctx flow.Context) (string, error) {
			return "hello " + ctx.StartArgs(), nil
		},
	})

	result := run(t, r, fiberContext("hello", nil), Resume{})

	require.Equal(t, ResultFinished, result.Kind)
	require.Equal(t, &core.FlowFinished{Result: "hello args"}, result.Request)
	require.Nil(t, result.Cacheable)
}

func Test_Runner_SuspendsAndResumesFromCache(t *testing.T) {
	cache := newMapCache()
	r := newTestRunner(t, cache, map[string]flow.Flow{"ping": pingFlow})

	result := run(t, r, fiberContext("ping", nil), Resume{})

	require.Equal(t, ResultSuspended, result.Kind)
	req, ok := result.Request.(*core.SendAndReceiveRequest)
	require.True(t, ok)
	require.Len(t, req.Messages, 1)
	require.Equal(t, bob, req.Messages[0].Counterparty)
	require.Equal(t, "ping", req.Messages[0].Protocol)
	require.Equal(t, []byte("args"), req.Messages[0].Payload)
	require.NotEmpty(t, result.Fiber)
	require.NotNil(t, result.Cacheable)

	cache.Put("flow-1", result.Cacheable)

	sessionID := req.Messages[0].SessionID
	result = run(t, r, fiberContext("ping", result.Fiber), Resume{
		Payloads: map[string][]byte{sessionID: []byte("pong")},
	})

	require.Equal(t, ResultFinished, result.Kind)
	require.Equal(t, &core.FlowFinished{Result: "received pong"}, result.Request)
}

func Test_Runner_ResumesByReplay(t *testing.T) {
	executions := 0
	r := newTestRunner(t, newMapCache(), map[string]flow.Flow{
		"ping": func(ctx flow.Context) (string, error) {
			executions++
			return pingFlow(ctx)
		},
	})

	result := run(t, r, fiberContext("ping", nil), Resume{})
	require.Equal(t, ResultSuspended, result.Kind)

	// Not cached, the next run has to re-execute the flow
	result.Cacheable.Exit()

	sessionID := result.Request.(*core.SendAndReceiveRequest).Messages[0].SessionID
	result = run(t, r, fiberContext("ping", result.Fiber), Resume{
		Payloads: map[string][]byte{sessionID: []byte("pong")},
	})

	require.Equal(t, ResultFinished, result.Kind)
	require.Equal(t, &core.FlowFinished{Result: "received pong"}, result.Request)
	require.Equal(t, 2, executions)
}

func Test_Runner_DiscardsStaleCachedFiber(t *testing.T) {
	cache := newMapCache()
	r := newTestRunner(t, cache, map[string]flow.Flow{
		"sleeper": func(ctx flow.Context) (string, error) {
			for i := 0; i < 3; i++ {
				if err := ctx.Sleep(time.Second); err != nil {
					return "", err
				}
			}

			return "awake", nil
		},
	})

	first := run(t, r, fiberContext("sleeper", nil), Resume{})
	require.Equal(t, ResultSuspended, first.Kind)
	cache.Put("flow-1", first.Cacheable)

	second := run(t, r, fiberContext("sleeper", first.Fiber), Resume{})
	require.Equal(t, ResultSuspended, second.Kind)
	cache.Put("flow-1", second.Cacheable)

	// Resume from the first continuation again, as after a rollback. The cached fiber is
	// one step ahead and must not be used.
	third := run(t, r, fiberContext("sleeper", first.Fiber), Resume{})
	require.Equal(t, ResultSuspended, third.Kind)
	require.Equal(t, second.Fiber, third.Fiber)

	third.Cacheable.Exit()
	_, ok := cache.Take("flow-1")
	require.False(t, ok)
}

func Test_Runner_SessionIDsAreDeterministic(t *testing.T) {
	r := newTestRunner(t, newMapCache(), map[string]flow.Flow{"ping": pingFlow})

	first := run(t, r, fiberContext("ping", nil), Resume{})
	first.Cacheable.Exit()

	second := run(t, r, fiberContext("ping", nil), Resume{})
	second.Cacheable.Exit()

	require.Equal(t,
		first.Request.(*core.SendAndReceiveRequest).Messages[0].SessionID,
		second.Request.(*core.SendAndReceiveRequest).Messages[0].SessionID,
	)
}

func Test_Runner_ExternalEventError(t *testing.T) {
	r := newTestRunner(t, newMapCache(), map[string]flow.Flow{
		"external": func(ctx flow.Context) (string, error) {
			_, err := ctx.CallExternal("crypto", []byte("sign"))
			return "", err
		},
	})

	result := run(t, r, fiberContext("external", nil), Resume{})
	require.Equal(t, ResultSuspended, result.Kind)
	result.Cacheable.Exit()

	req := result.Request.(*core.ExternalEventRequest)
	require.Equal(t, "crypto", req.HandlerID)
	require.NotEmpty(t, req.RequestID)

	result = run(t, r, fiberContext("external", result.Fiber), Resume{Err: errors.New("key not found")})

	require.Equal(t, ResultFailed, result.Kind)
	require.ErrorContains(t, result.Request.(*core.FlowFailed).Err, "key not found")
}

func Test_Runner_SessionErrorSurvivesReplay(t *testing.T) {
	r := newTestRunner(t, newMapCache(), map[string]flow.Flow{
		"ping": func(ctx flow.Context) (string, error) {
			_, err := pingFlow(ctx)

			var serr *flow.SessionError
			if errors.As(err, &serr) {
				return "session failed: " + serr.Message, nil
			}

			return "", err
		},
	})

	result := run(t, r, fiberContext("ping", nil), Resume{})
	result.Cacheable.Exit()

	sessionID := result.Request.(*core.SendAndReceiveRequest).Messages[0].SessionID
	result = run(t, r, fiberContext("ping", result.Fiber), Resume{
		Err: &flow.SessionError{SessionID: sessionID, Message: "closed by peer"},
	})

	require.Equal(t, ResultFinished, result.Kind)
	require.Equal(t, &core.FlowFinished{Result: "session failed: closed by peer"}, result.Request)
}

func Test_Runner_FlowError(t *testing.T) {
	r := newTestRunner(t, newMapCache(), map[string]flow.Flow{
		"failing": func(ctx flow.Context) (string, error) {
			return "", errors.New("boom")
		},
	})

	result := run(t, r, fiberContext("failing", nil), Resume{})

	require.Equal(t, ResultFailed, result.Kind)
	require.EqualError(t, result.Request.(*core.FlowFailed).Err, "boom")
}

func Test_Runner_FlowPanics(t *testing.T) {
	r := newTestRunner(t, newMapCache(), map[string]flow.Flow{
		"panicking": func(ctx flow.Context) (string, error) {
			panic("oops")
		},
	})

	result := run(t, r, fiberContext("panicking", nil), Resume{})

	require.Equal(t, ResultFailed, result.Kind)
	var perr *PanicError
	require.ErrorAs(t, result.Request.(*core.FlowFailed).Err, &perr)
}

func Test_Runner_UnknownFlow(t *testing.T) {
	r := newTestRunner(t, newMapCache(), nil)

	result := run(t, r, fiberContext("missing", nil), Resume{})

	require.Equal(t, ResultFailed, result.Kind)
	require.ErrorIs(t, result.Request.(*core.FlowFailed).Err, registry.ErrFlowNotFound)
}

func Test_Runner_NonDeterministicFlow(t *testing.T) {
	r := newTestRunner(t, newMapCache(), map[string]flow.Flow{"ping": pingFlow})

	b, err := json.Marshal(&continuation{
		Journal: []*entry{{Type: core.RequestType_Sleep}},
		Pending: core.RequestType_Sleep,
	})
	require.NoError(t, err)

	result := run(t, r, fiberContext("ping", b), Resume{})

	require.Equal(t, ResultFailed, result.Kind)
	require.ErrorIs(t, result.Request.(*core.FlowFailed).Err, ErrNonDeterministic)
}

func Test_Runner_Interrupt(t *testing.T) {
	started := make(chan struct{})

	r := newTestRunner(t, newMapCache(), map[string]flow.Flow{
		"blocking": func(ctx flow.Context) (string, error) {
			close(started)
			<-ctx.Done()

			// Stops here, the fiber exits at its next suspension point
			_ = ctx.Sleep(time.Second)

			return "unreachable", nil
		},
	})

	f := r.RunFlow(context.Background(), fiberContext("blocking", nil), Resume{})

	<-started
	f.Interrupt()

	result := f.Result()
	require.Equal(t, ResultFailed, result.Kind)
	require.ErrorIs(t, result.Request.(*core.FlowFailed).Err, ErrInterrupted)
}
