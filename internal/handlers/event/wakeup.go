package event

import (
	"context"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/flowctx"
	"github.com/corda/corda-runtime-os-sub030/internal/flowerrors"
)

type wakeupHandler struct{}

func NewWakeupHandler() flowctx.EventHandler {
	return &wakeupHandler{}
}

func (h *wakeupHandler) EventType() core.FlowEventType {
	return core.FlowEventType_Wakeup
}

func (h *wakeupHandler) Preprocess(_ context.Context, fc *flowctx.FlowEventContext) error {
	if !fc.Checkpoint.Exists() {
		return flowerrors.NewEvent("wakeup received for flow "+fc.InputEvent.FlowID+" that does not exist", nil)
	}

	return nil
}
