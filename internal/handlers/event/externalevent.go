package event

import (
	"context"
	"fmt"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/flowctx"
	"github.com/corda/corda-runtime-os-sub030/internal/flowerrors"
	"github.com/corda/corda-runtime-os-sub030/log"
)

type externalEventResponseHandler struct{}

func NewExternalEventResponseHandler() flowctx.EventHandler {
	return &externalEventResponseHandler{}
}

func (h *externalEventResponseHandler) EventType() core.FlowEventType {
	return core.FlowEventType_ExternalEventResponse
}

func (h *externalEventResponseHandler) Preprocess(_ context.Context, fc *flowctx.FlowEventContext) error {
	response, ok := fc.InputEventPayload.(*core.ExternalEventResponse)
	if !ok {
		return flowerrors.NewFatal(fmt.Sprintf("expected external event response, got %T", fc.InputEventPayload), nil)
	}

	cp := fc.Checkpoint
	if !cp.Exists() {
		return flowerrors.NewEvent("external event response received for flow "+fc.InputEvent.FlowID+" that does not exist", nil)
	}

	state := cp.ExternalEventState()
	if state == nil || state.RequestID != response.RequestID {
		return flowerrors.NewEvent(fmt.Sprintf("external event response %s does not match a pending request", response.RequestID), nil)
	}

	if state.Response != nil {
		fc.Logger.Debug("duplicate external event response", log.RequestIDKey, response.RequestID)
		return nil
	}

	state.Response = response

	return nil
}
