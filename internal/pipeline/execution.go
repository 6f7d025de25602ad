package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/fiber"
	"github.com/corda/corda-runtime-os-sub030/internal/flowctx"
	"github.com/corda/corda-runtime-os-sub030/internal/flowerrors"
	"github.com/corda/corda-runtime-os-sub030/internal/metrickeys"
	"github.com/corda/corda-runtime-os-sub030/log"
	"github.com/corda/corda-runtime-os-sub030/metrics"
)

// FlowRunner starts a fiber run.
type FlowRunner interface {
	RunFlow(ctx context.Context, fctx *fiber.Context, resume fiber.Resume) fiber.Future
}

// ExecutionStage drives the fiber of a flow: it resumes the fiber while the flow's
// waiting-for condition is met and dispatches every request the fiber issues.
type ExecutionStage struct {
	logger   *slog.Logger
	clock    clock.Clock
	metrics  metrics.Client
	runner   FlowRunner
	cache    fiber.Cache
	waiting  map[core.WaitingForKind]flowctx.WaitingForHandler
	requests map[core.RequestType]flowctx.RequestHandler
}

func NewExecutionStage(
	logger *slog.Logger,
	clock clock.Clock,
	mc metrics.Client,
	runner FlowRunner,
	cache fiber.Cache,
	waitingForHandlers []flowctx.WaitingForHandler,
	requestHandlers []flowctx.RequestHandler,
) *ExecutionStage {
	waiting := make(map[core.WaitingForKind]flowctx.WaitingForHandler, len(waitingForHandlers))
	for _, h := range waitingForHandlers {
		waiting[h.Kind()] = h
	}

	requests := make(map[core.RequestType]flowctx.RequestHandler, len(requestHandlers))
	for _, h := range requestHandlers {
		requests[h.RequestType()] = h
	}

	return &ExecutionStage{
		logger:   logger,
		clock:    clock,
		metrics:  mc,
		runner:   runner,
		cache:    cache,
		waiting:  waiting,
		requests: requests,
	}
}

// Execute runs the fiber until it stays suspended, finishes or fails.
func (s *ExecutionStage) Execute(ctx context.Context, fc *flowctx.FlowEventContext, timeout time.Duration) error {
	cp := fc.Checkpoint

	for {
		wf := cp.WaitingFor()
		if wf == nil || cp.IsDeleted() {
			return nil
		}

		handler, ok := s.waiting[wf.Kind]
		if !ok {
			return flowerrors.Fatalf("no waiting-for handler registered for %s", wf.Kind)
		}

		continuation, err := handler.RunOrContinue(ctx, fc, wf)
		if err != nil {
			return err
		}

		if continuation.IsStaySuspended() {
			return nil
		}

		result := s.runFiber(ctx, fc, continuation.Resume, timeout)

		switch result.Kind {
		case fiber.ResultFinished:
			s.cache.Evict(cp.FlowID())
			cp.SetFiber(nil)
			s.metrics.Counter(metrickeys.FiberExit, metrics.Tags{metrickeys.Suspended: "false", metrickeys.Outcome: "finished"}, 1)

		case fiber.ResultFailed:
			s.cache.Evict(cp.FlowID())
			s.metrics.Counter(metrickeys.FiberExit, metrics.Tags{metrickeys.Suspended: "false", metrickeys.Outcome: "failed"}, 1)

		case fiber.ResultSuspended:
			if result.Cacheable != nil {
				s.cache.Put(cp.FlowID(), result.Cacheable)
			}
			cp.SetFiber(result.Fiber)
			s.metrics.Counter(metrickeys.FiberExit, metrics.Tags{
				metrickeys.Suspended:   "true",
				metrickeys.RequestType: string(result.Request.RequestType()),
			}, 1)

		default:
			return flowerrors.Fatalf("unknown fiber result %v", result.Kind)
		}

		if err := s.dispatch(ctx, fc, result.Request); err != nil {
			return err
		}

		if result.Kind != fiber.ResultSuspended {
			return nil
		}
	}
}

// runFiber waits for a fiber run for at most timeout. A run that takes longer is
// interrupted and reported as failed; its goroutine is left to stop on its own.
func (s *ExecutionStage) runFiber(ctx context.Context, fc *flowctx.FlowEventContext, resume fiber.Resume, timeout time.Duration) fiber.Result {
	cp := fc.Checkpoint

	fctx := &fiber.Context{
		FlowID:       cp.FlowID(),
		StartContext: cp.StartContext(),
		Fiber:        cp.Fiber(),
		Logger:       fc.Logger,
	}

	if is, ok := cp.InitiatingSession(); ok {
		fctx.InitiatingSession = &core.SessionInfo{
			SessionID:    is.SessionID,
			Counterparty: is.Counterparty,
			Protocol:     is.Protocol,
		}
	}

	future := s.runner.RunFlow(ctx, fctx, resume)

	t := s.clock.Timer(timeout)
	defer t.Stop()

	select {
	case <-future.Done():
		return future.Result()

	case <-t.C:
		future.Interrupt()

		s.metrics.Counter(metrickeys.FiberTimeout, metrics.Tags{}, 1)
		fc.Logger.Error("flow fiber timed out, fiber goroutine may leak",
			log.DurationKey, strconv.FormatInt(timeout.Milliseconds(), 10))

		return fiber.Failed(fmt.Errorf("%w after %v", flowerrors.ErrFiberTimeout, timeout))
	}
}

func (s *ExecutionStage) dispatch(ctx context.Context, fc *flowctx.FlowEventContext, request core.FlowIORequest) error {
	handler, ok := s.requests[request.RequestType()]
	if !ok {
		return flowerrors.Fatalf("no request handler registered for %T (%s)", request, request.RequestType())
	}

	cp := fc.Checkpoint

	wf, err := handler.GetUpdatedWaitingFor(ctx, fc, request)
	if err != nil {
		return err
	}

	cp.SetWaitingFor(wf)
	cp.SetSuspendedOn(string(request.RequestType()))

	fc.Logger.Debug("flow suspended",
		log.SuspendedOnKey, string(request.RequestType()),
		log.WaitingForKey, waitingForKind(wf),
	)

	return handler.PostProcess(ctx, fc, request)
}

func waitingForKind(wf *core.WaitingFor) string {
	if wf == nil {
		return "nothing"
	}

	return wf.Kind.String()
}
