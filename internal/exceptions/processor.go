// Package exceptions decides the outcome of a processing pass that raised an error.
package exceptions

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/corda/corda-runtime-os-sub030/config"
	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/flowctx"
	"github.com/corda/corda-runtime-os-sub030/internal/flowerrors"
	"github.com/corda/corda-runtime-os-sub030/internal/metrickeys"
	"github.com/corda/corda-runtime-os-sub030/internal/pipeline"
	"github.com/corda/corda-runtime-os-sub030/internal/records"
	"github.com/corda/corda-runtime-os-sub030/log"
	"github.com/corda/corda-runtime-os-sub030/metrics"
)

type Processor struct {
	logger  *slog.Logger
	clock   clock.Clock
	metrics metrics.Client
	kill    *pipeline.KillFlowContextProcessor
}

// NewProcessor creates an exception processor that kills flows through kill.
func NewProcessor(logger *slog.Logger, clock clock.Clock, mc metrics.Client, kill *pipeline.KillFlowContextProcessor) *Processor {
	return &Processor{
		logger:  logger,
		clock:   clock,
		metrics: mc,
		kill:    kill,
	}
}

// Process dispatches err to the handling of its class. Errors without a class are
// processed as fatal.
func (p *Processor) Process(fc *flowctx.FlowEventContext, err error) flowctx.Response {
	var (
		kerr *flowerrors.MarkedForKillError
		terr *flowerrors.TransientError
		ferr *flowerrors.FatalError
		eerr *flowerrors.EventError
	)

	switch {
	case errors.As(err, &kerr):
		return p.ProcessKill(fc, kerr)
	case errors.As(err, &ferr):
		return p.ProcessFatal(fc, ferr)
	case errors.As(err, &terr):
		return p.ProcessTransient(fc, terr)
	case errors.As(err, &eerr):
		return p.ProcessEvent(fc, eerr)
	default:
		return p.ProcessFatal(fc, flowerrors.NewFatal("unexpected error", err))
	}
}

// ProcessThrowable handles an error raised before a flow context existed. The state is
// left untouched and the event is dead-lettered.
func (p *Processor) ProcessThrowable(err error, state *core.CheckpointState) flowctx.Response {
	p.logger.Error("unexpected error processing flow event, event will be dead-lettered", "error", err)

	p.metrics.Counter(metrickeys.FlowDeadLettered, metrics.Tags{metrickeys.Outcome: "throwable"}, 1)

	return flowctx.Response{
		UpdatedState: state,
		MarkForDLQ:   true,
	}
}

// ProcessTransient rolls the pass back and schedules the failed event to be retried.
// Once the retry budget is used up the error is processed as fatal.
func (p *Processor) ProcessTransient(fc *flowctx.FlowEventContext, err *flowerrors.TransientError) flowctx.Response {
	cp := fc.Checkpoint

	if !cp.Exists() {
		return p.ProcessFatal(fc, flowerrors.NewFatal("transient failure for flow without checkpoint", err))
	}

	maxAttempts := fc.Config.MaxRetryAttempts
	if cp.CurrentRetryCount() >= maxAttempts {
		return p.ProcessFatal(fc, flowerrors.NewFatal(fmt.Sprintf("retries exhausted after %d attempts", cp.CurrentRetryCount()), err))
	}

	if rerr := cp.Rollback(); rerr != nil {
		return p.ProcessFatal(fc, flowerrors.NewFatal("rolling back checkpoint", rerr))
	}

	// Rolling back a checkpoint that was created by this pass leaves nothing to retry on.
	if !cp.Exists() {
		return p.ProcessFatal(fc, flowerrors.NewFatal("transient failure for flow without checkpoint", err))
	}

	cp.MarkForRetry(fc.InputEvent, err)

	now := p.clock.Now().UTC()
	delay := p.retryDelay(fc.Config, cp.CurrentRetryCount())

	fc.Logger.Warn("transient error processing flow event, retrying",
		log.RetryCountKey, cp.CurrentRetryCount(),
		log.MaxRetryCountKey, maxAttempts,
		"backoff", delay,
		"error", err,
	)

	status := records.Status(cp, core.FlowStates_Retrying, now)
	status.Error = core.NewExceptionEnvelope(err)

	p.metrics.Counter(metrickeys.FlowRetry, metrics.Tags{}, 1)

	return flowctx.Response{
		UpdatedState: cp.ToState(),
		ResponseEvents: []*core.Record{
			records.StatusRecord(status),
			records.ScheduleWakeup(cp.FlowID(), now.Add(delay)),
		},
	}
}

// retryDelay is the wait before the given retry attempt, starting at cfg.RetryBackoff and doubling
// up to cfg.MaxRetryBackoff.
func (p *Processor) retryDelay(cfg config.Config, attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval: cfg.RetryBackoff,
		MaxInterval:     cfg.MaxRetryBackoff,
		Multiplier:      2,
		Stop:            backoff.Stop,
		Clock:           p.clock,
	}
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}

	return delay
}

// ProcessFatal fails the flow. All other output of the pass is discarded, the checkpoint
// is deleted and the event dead-lettered.
func (p *Processor) ProcessFatal(fc *flowctx.FlowEventContext, err *flowerrors.FatalError) flowctx.Response {
	fc.Logger.Error("fatal error processing flow event, event will be dead-lettered",
		"error", err,
		"stack", err.Stack(),
	)

	p.metrics.Counter(metrickeys.FlowDeadLettered, metrics.Tags{metrickeys.Outcome: "fatal"}, 1)

	var events []*core.Record

	cp := fc.Checkpoint
	if cp.Exists() {
		status := records.Status(cp, core.FlowStates_Failed, p.clock.Now().UTC())
		status.Error = core.NewExceptionEnvelope(err)
		events = append(events, records.StatusRecord(status))

		p.metrics.Counter(metrickeys.FlowFailed, metrics.Tags{}, 1)
	}

	return flowctx.Response{
		ResponseEvents: events,
		MarkForDLQ:     true,
	}
}

// ProcessEvent logs an error that only affects the current event. The context built so
// far is converted as if the pass had succeeded.
func (p *Processor) ProcessEvent(fc *flowctx.FlowEventContext, err *flowerrors.EventError) flowctx.Response {
	fc.Logger.Warn("error processing flow event, ignoring event", "error", err)

	p.metrics.Counter(metrickeys.FlowEventException, metrics.Tags{}, 1)

	return fc.ToResponse()
}

// ProcessKill terminates the flow. The event is not dead-lettered.
func (p *Processor) ProcessKill(fc *flowctx.FlowEventContext, err *flowerrors.MarkedForKillError) flowctx.Response {
	fc.Logger.Info("flow marked for kill", "details", err.Details)

	return p.kill.CreateKillFlowContext(fc, err.Details).ToResponse()
}
