package request

import (
	"context"

	"github.com/benbjohnson/clock"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/flowctx"
	"github.com/corda/corda-runtime-os-sub030/internal/flowerrors"
	"github.com/corda/corda-runtime-os-sub030/internal/records"
)

type sleepHandler struct {
	clock clock.Clock
}

func NewSleepHandler(clock clock.Clock) flowctx.RequestHandler {
	return &sleepHandler{clock: clock}
}

func (h *sleepHandler) RequestType() core.RequestType {
	return core.RequestType_Sleep
}

func (h *sleepHandler) GetUpdatedWaitingFor(_ context.Context, _ *flowctx.FlowEventContext, request core.FlowIORequest) (*core.WaitingFor, error) {
	r := request.(*core.SleepRequest)

	return core.WaitingForSleepUntil(h.clock.Now().Add(r.Duration)), nil
}

// PostProcess asks the mapper to wake the flow up when the sleep is over.
func (h *sleepHandler) PostProcess(_ context.Context, fc *flowctx.FlowEventContext, _ core.FlowIORequest) error {
	wf := fc.Checkpoint.WaitingFor()
	if wf == nil || wf.WakeAt == nil {
		return flowerrors.NewFatal("sleeping flow without wake up time", nil)
	}

	fc.AddOutputRecords(records.ScheduleWakeup(fc.Checkpoint.FlowID(), *wf.WakeAt))

	return nil
}
