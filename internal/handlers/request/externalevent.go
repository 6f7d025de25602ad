package request

import (
	"context"

	"github.com/benbjohnson/clock"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/flowctx"
	"github.com/corda/corda-runtime-os-sub030/internal/records"
	"github.com/corda/corda-runtime-os-sub030/log"
)

type externalEventHandler struct {
	clock clock.Clock
}

func NewExternalEventHandler(clock clock.Clock) flowctx.RequestHandler {
	return &externalEventHandler{clock: clock}
}

func (h *externalEventHandler) RequestType() core.RequestType {
	return core.RequestType_ExternalEvent
}

func (h *externalEventHandler) GetUpdatedWaitingFor(_ context.Context, _ *flowctx.FlowEventContext, request core.FlowIORequest) (*core.WaitingFor, error) {
	return core.WaitingForExternalEventResponse(request.(*core.ExternalEventRequest).RequestID), nil
}

func (h *externalEventHandler) PostProcess(_ context.Context, fc *flowctx.FlowEventContext, request core.FlowIORequest) error {
	r := request.(*core.ExternalEventRequest)
	now := h.clock.Now().UTC()

	event := &core.ExternalEvent{
		FlowID:    fc.Checkpoint.FlowID(),
		RequestID: r.RequestID,
		HandlerID: r.HandlerID,
		Payload:   r.Payload,
		Timestamp: now,
	}

	fc.Checkpoint.SetExternalEventState(&core.ExternalEventState{
		RequestID:     r.RequestID,
		Request:       event,
		SendTimestamp: now,
	})

	fc.AddOutputRecords(records.ExternalEvent(event))

	fc.Logger.Debug("external event sent", log.RequestIDKey, r.RequestID)

	return nil
}
