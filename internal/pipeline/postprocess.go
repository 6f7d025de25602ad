package pipeline

import (
	"context"
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/corda/corda-runtime-os-sub030/internal/flowctx"
	"github.com/corda/corda-runtime-os-sub030/internal/metrickeys"
	"github.com/corda/corda-runtime-os-sub030/internal/records"
	"github.com/corda/corda-runtime-os-sub030/log"
	"github.com/corda/corda-runtime-os-sub030/metrics"
	"github.com/corda/corda-runtime-os-sub030/session"
)

// GlobalPostProcessor runs after the execution stage for every pass that did not fail.
type GlobalPostProcessor struct {
	logger   *slog.Logger
	clock    clock.Clock
	metrics  metrics.Client
	sessions session.Manager
}

// NewGlobalPostProcessor creates the stage that flushes sessions and resends external events.
func NewGlobalPostProcessor(logger *slog.Logger, clock clock.Clock, mc metrics.Client, sessions session.Manager) *GlobalPostProcessor {
	return &GlobalPostProcessor{
		logger:   logger,
		clock:    clock,
		metrics:  mc,
		sessions: sessions,
	}
}

func (p *GlobalPostProcessor) PostProcess(ctx context.Context, fc *flowctx.FlowEventContext) error {
	cp := fc.Checkpoint
	if !cp.Exists() {
		return nil
	}

	p.flushSessions(fc)

	if !cp.IsDeleted() {
		p.resendExternalEvent(fc)
	}

	switch {
	case fc.IsRetryEvent && cp.InRetryState():
		fc.Logger.Info("retried event processed", log.RetryCountKey, cp.CurrentRetryCount())
		cp.MarkRetrySuccess()

	case cp.InRetryState():
		// The failed event stays pending until its wakeup arrives. Only the count of
		// consecutive failures restarts.
		cp.ResetRetryCount()
	}

	return nil
}

// flushSessions emits the messages queued on every session of the flow.
func (p *GlobalPostProcessor) flushSessions(fc *flowctx.FlowEventContext) {
	cp := fc.Checkpoint
	now := p.clock.Now().UTC()
	identity := cp.HoldingIdentity()

	sent := 0
	for _, s := range cp.Sessions() {
		updated, events := p.sessions.GetMessagesToSend(s, now, fc.Config, identity)
		cp.PutSession(updated)

		for _, e := range events {
			fc.AddOutputRecords(records.SessionEvent(e))
		}

		sent += len(events)
	}

	if sent > 0 {
		p.metrics.Counter(metrickeys.SessionMessagesSent, metrics.Tags{}, int64(sent))
	}
}

// resendExternalEvent re-emits the outstanding external event request when no response
// arrived within the resend window.
func (p *GlobalPostProcessor) resendExternalEvent(fc *flowctx.FlowEventContext) {
	cp := fc.Checkpoint
	state := cp.ExternalEventState()
	if state == nil || state.Response != nil || state.Request == nil {
		return
	}

	window := fc.Config.ExternalEventResendWindow
	if window <= 0 {
		return
	}

	now := p.clock.Now().UTC()
	if now.Sub(state.SendTimestamp) < window {
		return
	}

	fc.Logger.Debug("resending external event", log.RequestIDKey, state.RequestID)

	state.SendTimestamp = now
	state.Request.Timestamp = now
	fc.AddOutputRecords(records.ExternalEvent(state.Request))
}
