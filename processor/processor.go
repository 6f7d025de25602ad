// Package processor turns flow events and checkpoints into updated checkpoints and
// output records.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	goerrors "github.com/go-errors/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/corda/corda-runtime-os-sub030/config"
	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/exceptions"
	"github.com/corda/corda-runtime-os-sub030/internal/fiber"
	"github.com/corda/corda-runtime-os-sub030/internal/fiber/cache"
	"github.com/corda/corda-runtime-os-sub030/internal/flowctx"
	"github.com/corda/corda-runtime-os-sub030/internal/flowerrors"
	"github.com/corda/corda-runtime-os-sub030/internal/handlers/event"
	"github.com/corda/corda-runtime-os-sub030/internal/handlers/request"
	"github.com/corda/corda-runtime-os-sub030/internal/handlers/waiting"
	"github.com/corda/corda-runtime-os-sub030/internal/metrickeys"
	"github.com/corda/corda-runtime-os-sub030/internal/pipeline"
	"github.com/corda/corda-runtime-os-sub030/internal/replay"
	"github.com/corda/corda-runtime-os-sub030/internal/tracing"
	"github.com/corda/corda-runtime-os-sub030/log"
	"github.com/corda/corda-runtime-os-sub030/metrics"
	"github.com/corda/corda-runtime-os-sub030/registry"
	"github.com/corda/corda-runtime-os-sub030/vnode"
)

// Response is the outcome of processing one event.
type Response = flowctx.Response

// FlowEventProcessor processes flow events one at a time per flow. Events of different
// flows may be processed concurrently.
type FlowEventProcessor struct {
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics metrics.Client
	clock   clock.Clock
	config  config.Config

	cache      *cache.LRUCache
	factory    *pipeline.Factory
	exceptions *exceptions.Processor
}

// New creates a processor running the flows of reg for the virtual nodes in vnodes.
func New(reg *registry.Registry, vnodes vnode.Registry, opts ...Option) *FlowEventProcessor {
	options := ApplyOptions(opts...)

	logger := options.Logger
	clk := options.Clock
	mc := options.Metrics
	sessions := options.Sessions
	tracer := options.TracerProvider.Tracer(tracing.TracerName)

	fiberCache := cache.NewFiberLRUCache(mc, options.Config.FiberCacheSize, options.Config.FiberCacheExpiry)
	runner := fiber.NewRunner(logger, tracer, mc, clk, reg, fiberCache)

	execution := pipeline.NewExecutionStage(logger, clk, mc, runner, fiberCache,
		[]flowctx.WaitingForHandler{
			waiting.NewStartFlowHandler(),
			waiting.NewWakeupHandler(),
			waiting.NewSessionDataHandler(sessions),
			waiting.NewSleepUntilHandler(clk),
			waiting.NewExternalEventResponseHandler(),
		},
		[]flowctx.RequestHandler{
			request.NewSendHandler(clk, sessions),
			request.NewReceiveHandler(clk, sessions),
			request.NewSendAndReceiveHandler(clk, sessions),
			request.NewCloseSessionsHandler(clk, sessions),
			request.NewSleepHandler(clk),
			request.NewExternalEventHandler(clk),
			request.NewFlowFinishedHandler(clk),
			request.NewFlowFailedHandler(clk, sessions),
		},
	)

	postProcessor := pipeline.NewGlobalPostProcessor(logger, clk, mc, sessions)

	factory := pipeline.NewFactory(logger, clk, vnodes, execution, postProcessor,
		event.NewStartFlowHandler(clk),
		event.NewSessionEventHandler(clk, reg, sessions),
		event.NewWakeupHandler(),
		event.NewExternalEventResponseHandler(),
	)

	kill := pipeline.NewKillFlowContextProcessor(clk, mc)

	return &FlowEventProcessor{
		logger:     logger,
		tracer:     tracer,
		metrics:    mc,
		clock:      clk,
		config:     options.Config,
		cache:      fiberCache,
		factory:    factory,
		exceptions: exceptions.NewProcessor(logger, clk, mc, kill),
	}
}

// Start expires cached fibers until ctx is cancelled.
func (p *FlowEventProcessor) Start(ctx context.Context) {
	go p.cache.StartEviction(ctx)
}

// Close stops all cached fibers.
func (p *FlowEventProcessor) Close() {
	p.cache.Close()
}

// OnNext processes record against the checkpoint state of its flow. state is nil for
// flows without a checkpoint.
func (p *FlowEventProcessor) OnNext(ctx context.Context, state *core.CheckpointState, record *core.Record) Response {
	if record == nil || record.Payload == nil {
		p.logger.Warn("discarding empty flow event record")
		p.metrics.Counter(metrickeys.EventDiscarded, metrics.Tags{}, 1)
		return Response{UpdatedState: state}
	}

	fe, ok := record.Payload.(*core.FlowEvent)
	if !ok {
		p.logger.Warn("discarding record that is not a flow event", log.TopicKey, record.Topic)
		p.metrics.Counter(metrickeys.EventDiscarded, metrics.Tags{}, 1)
		return Response{UpdatedState: state}
	}

	ctx, span := tracing.StartEventSpan(ctx, p.tracer, fe)
	defer span.End()

	eventTags := metrics.Tags{metrickeys.EventType: fe.Type.String()}
	p.metrics.Counter(metrickeys.EventReceived, eventTags, 1)
	defer metrics.Timer(p.metrics, p.clock, metrickeys.PipelineExecution, eventTags).Stop()

	hash, err := replay.EventHash(record)
	if err != nil {
		tracing.WithSpanError(span, err)
		return p.exceptions.ProcessThrowable(err, state)
	}

	if events := replay.GetReplayEvents(hash, state); events != nil {
		p.logger.Info("replaying outputs of already processed event",
			log.FlowIDKey, fe.FlowID,
			log.EventHashKey, hash,
		)
		p.metrics.Counter(metrickeys.EventReplayed, eventTags, 1)
		span.SetAttributes(attribute.String(tracing.Outcome, "replayed"))

		return Response{UpdatedState: state, ResponseEvents: events}
	}

	pl, err := p.factory.Create(state, fe, p.config)
	if err != nil {
		tracing.WithSpanError(span, err)
		return p.exceptions.ProcessThrowable(err, state)
	}

	fc := pl.Context

	var response Response
	var eerr *flowerrors.EventError

	err = run(ctx, pl)
	switch {
	case err == nil:
		response = fc.ToResponse()

	case errors.As(err, &eerr):
		// The context built before the error is honoured, including its replay history.
		response = p.exceptions.Process(fc, err)

	default:
		tracing.WithSpanError(span, err)
		response = p.exceptions.Process(fc, err)
		span.SetAttributes(attribute.Int(tracing.OutputRecords, len(response.ResponseEvents)))
		return response
	}

	cp := fc.Checkpoint
	if cp.Exists() && !cp.IsDeleted() && !response.MarkForDLQ {
		if so := replay.GenerateSavedOutputs(hash, response.ResponseEvents); so != nil {
			cp.AppendSavedOutputs(so)
		}
		response.UpdatedState = cp.ToState()
	}

	span.SetAttributes(attribute.Int(tracing.OutputRecords, len(response.ResponseEvents)))

	return response
}

// run executes the pipeline. A panic in any stage fails the pass.
func run(ctx context.Context, pl *pipeline.Pipeline) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e := goerrors.Wrap(r, 2)
			err = flowerrors.NewFatal(fmt.Sprintf("panic in flow pipeline: %v", r), e)
		}
	}()

	return pl.Run(ctx)
}
