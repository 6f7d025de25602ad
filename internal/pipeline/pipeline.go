// Package pipeline implements the stages a flow event passes through.
package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/flowctx"
	"github.com/corda/corda-runtime-os-sub030/internal/flowerrors"
	"github.com/corda/corda-runtime-os-sub030/internal/tracing"
	"github.com/corda/corda-runtime-os-sub030/log"
	"github.com/corda/corda-runtime-os-sub030/vnode"
)

// Pipeline processes a single event for a single flow. Stages run in a fixed order and
// mutate the shared context in place.
type Pipeline struct {
	Context *flowctx.FlowEventContext

	eventHandlers map[core.FlowEventType]flowctx.EventHandler
	vnodes        vnode.Registry
	execution     *ExecutionStage
	postProcessor *GlobalPostProcessor
}

// Run executes all stages.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.EventPreProcessing(ctx); err != nil {
		return err
	}

	if err := p.CheckOperationalStatus(ctx); err != nil {
		return err
	}

	if err := p.Execute(ctx); err != nil {
		return err
	}

	return p.GlobalPostProcessing(ctx)
}

// EventPreProcessing admits the event to its flow. A wakeup for a flow that is retrying
// re-processes the event that failed instead.
func (p *Pipeline) EventPreProcessing(ctx context.Context) error {
	fc := p.Context
	cp := fc.Checkpoint

	if fc.InputEvent.Type == core.FlowEventType_Wakeup && cp.InRetryState() {
		if failed := cp.RetryState().FailedEvent; failed != nil {
			fc.InputEvent = failed
			fc.InputEventPayload = failed.Attributes
			fc.IsRetryEvent = true
			fc.Logger = fc.Logger.With(log.IsRetryKey, true, log.RetryCountKey, cp.CurrentRetryCount())

			fc.Logger.Info("retrying failed event", log.EventTypeKey, failed.Type.String())
		}
	}

	handler, ok := p.eventHandlers[fc.InputEvent.Type]
	if !ok {
		return flowerrors.Fatalf("no event handler registered for event type %s", fc.InputEvent.Type)
	}

	err := handler.Preprocess(ctx, fc)

	if cp.Exists() {
		sc := cp.StartContext()

		fc.Logger = fc.Logger.With(
			log.FlowNameKey, sc.FlowName,
			log.RequestIDKey, sc.RequestID,
			log.IdentityKey, sc.Identity.ShortHash(),
			log.InitiatorKey, sc.InitiatedBy.String(),
		)

		span := trace.SpanFromContext(ctx)
		tracing.AddStartContext(span, sc)
	}

	return err
}

// CheckOperationalStatus stops flows of parties that are not active.
func (p *Pipeline) CheckOperationalStatus(ctx context.Context) error {
	cp := p.Context.Checkpoint
	if !cp.Exists() {
		return nil
	}

	identity := cp.HoldingIdentity()

	info, ok := p.vnodes.Get(ctx, identity)
	if !ok {
		return flowerrors.NewTransient(fmt.Sprintf("operational status of %s not available", identity), nil)
	}

	if info.FlowOperationalStatus == vnode.OperationalStatus_Inactive {
		return flowerrors.NewMarkedForKill(fmt.Sprintf("flow operational status of %s is %s", identity, info.FlowOperationalStatus))
	}

	return nil
}

func (p *Pipeline) Execute(ctx context.Context) error {
	if !p.Context.Checkpoint.Exists() {
		return nil
	}

	return p.execution.Execute(ctx, p.Context, p.Context.Config.FiberTimeout)
}

func (p *Pipeline) GlobalPostProcessing(ctx context.Context) error {
	return p.postProcessor.PostProcess(ctx, p.Context)
}
