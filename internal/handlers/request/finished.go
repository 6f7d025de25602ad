package request

import (
	"context"

	"github.com/benbjohnson/clock"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/flowctx"
	"github.com/corda/corda-runtime-os-sub030/internal/records"
	"github.com/corda/corda-runtime-os-sub030/session"
)

type flowFinishedHandler struct {
	clock clock.Clock
}

func NewFlowFinishedHandler(clock clock.Clock) flowctx.RequestHandler {
	return &flowFinishedHandler{clock: clock}
}

func (h *flowFinishedHandler) RequestType() core.RequestType {
	return core.RequestType_FlowFinished
}

func (h *flowFinishedHandler) GetUpdatedWaitingFor(context.Context, *flowctx.FlowEventContext, core.FlowIORequest) (*core.WaitingFor, error) {
	return nil, nil
}

func (h *flowFinishedHandler) PostProcess(_ context.Context, fc *flowctx.FlowEventContext, request core.FlowIORequest) error {
	r := request.(*core.FlowFinished)
	now := h.clock.Now().UTC()
	cp := fc.Checkpoint

	status := records.Status(cp, core.FlowStates_Completed, now)
	status.Result = r.Result
	fc.AddOutputRecords(records.StatusRecord(status))

	expiry := now.Add(fc.Config.CleanupWindow)
	fc.AddOutputRecords(records.ScheduleSessionCleanup(cp, expiry)...)
	fc.AddOutputRecords(records.ScheduleCleanup(cp.FlowID(), expiry))

	cp.MarkDeleted()

	return nil
}

type flowFailedHandler struct {
	clock    clock.Clock
	sessions session.Manager
}

func NewFlowFailedHandler(clock clock.Clock, sessions session.Manager) flowctx.RequestHandler {
	return &flowFailedHandler{clock: clock, sessions: sessions}
}

func (h *flowFailedHandler) RequestType() core.RequestType {
	return core.RequestType_FlowFailed
}

func (h *flowFailedHandler) GetUpdatedWaitingFor(context.Context, *flowctx.FlowEventContext, core.FlowIORequest) (*core.WaitingFor, error) {
	return nil, nil
}

// PostProcess fails the flow. Counterparties of open sessions are told about the failure
// and the event is dead-lettered.
func (h *flowFailedHandler) PostProcess(_ context.Context, fc *flowctx.FlowEventContext, request core.FlowIORequest) error {
	r := request.(*core.FlowFailed)
	now := h.clock.Now().UTC()
	cp := fc.Checkpoint

	fc.Logger.Warn("flow failed", "error", r.Err)

	status := records.Status(cp, core.FlowStates_Failed, now)
	status.Error = core.NewExceptionEnvelope(r.Err)
	fc.AddOutputRecords(records.StatusRecord(status))

	expiry := now.Add(fc.Config.CleanupWindow)
	fc.AddOutputRecords(records.ScheduleSessionCleanup(cp, expiry)...)
	fc.AddOutputRecords(records.ScheduleCleanup(cp.FlowID(), expiry))

	for _, s := range cp.Sessions() {
		if s.Status.Terminated() {
			continue
		}

		cp.PutSession(h.sessions.ErrorSession(s, "counterparty flow failed", now))
	}

	fc.SendToDLQ = true
	cp.MarkDeleted()

	return nil
}
