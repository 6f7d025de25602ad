// Package event contains the preprocessing handlers of the flow event types.
package event

import (
	"context"

	"github.com/benbjohnson/clock"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/flowctx"
	"github.com/corda/corda-runtime-os-sub030/internal/flowerrors"
	"github.com/corda/corda-runtime-os-sub030/internal/records"
	"github.com/corda/corda-runtime-os-sub030/log"
)

type startFlowHandler struct {
	clock clock.Clock
}

func NewStartFlowHandler(clock clock.Clock) flowctx.EventHandler {
	return &startFlowHandler{clock: clock}
}

func (h *startFlowHandler) EventType() core.FlowEventType {
	return core.FlowEventType_StartFlow
}

func (h *startFlowHandler) Preprocess(_ context.Context, fc *flowctx.FlowEventContext) error {
	start, ok := fc.InputEventPayload.(*core.StartFlow)
	if !ok || start.StartContext == nil {
		return flowerrors.NewFatal("start flow event without start context", nil)
	}

	cp := fc.Checkpoint
	if cp.Exists() {
		if wf := cp.WaitingFor(); wf != nil && wf.Kind == core.WaitingFor_StartFlow {
			// Redelivery or retry of the start event of a flow that has not run yet
			fc.Logger.Debug("flow already admitted, waiting to start")
			return nil
		}

		return flowerrors.NewEvent("flow "+cp.FlowID()+" has already been started", nil)
	}

	if err := cp.InitFlowState(fc.InputEvent.FlowID, start.StartContext); err != nil {
		return flowerrors.NewFatal("initialising flow state", err)
	}

	fc.Logger.Debug("flow admitted", log.FlowNameKey, start.StartContext.FlowName)

	fc.AddOutputRecords(records.StatusRecord(records.Status(cp, core.FlowStates_Running, h.clock.Now().UTC())))

	return nil
}
