// Package waiting contains the handlers deciding whether a suspended flow can resume.
package waiting

import (
	"context"

	"github.com/benbjohnson/clock"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/flow"
	"github.com/corda/corda-runtime-os-sub030/internal/fiber"
	"github.com/corda/corda-runtime-os-sub030/internal/flowctx"
)

type startFlowHandler struct{}

func NewStartFlowHandler() flowctx.WaitingForHandler {
	return &startFlowHandler{}
}

func (h *startFlowHandler) Kind() core.WaitingForKind {
	return core.WaitingFor_StartFlow
}

func (h *startFlowHandler) RunOrContinue(context.Context, *flowctx.FlowEventContext, *core.WaitingFor) (flowctx.Continuation, error) {
	return flowctx.Run(fiber.Resume{}), nil
}

type wakeupHandler struct{}

func NewWakeupHandler() flowctx.WaitingForHandler {
	return &wakeupHandler{}
}

func (h *wakeupHandler) Kind() core.WaitingForKind {
	return core.WaitingFor_Wakeup
}

// RunOrContinue resumes the flow, with an error if one of the sessions it sent to has
// terminated in the meantime.
func (h *wakeupHandler) RunOrContinue(_ context.Context, fc *flowctx.FlowEventContext, wf *core.WaitingFor) (flowctx.Continuation, error) {
	for _, id := range wf.SessionIDs {
		s, ok := fc.Checkpoint.GetSession(id)
		if !ok {
			continue
		}

		if s.Status.Terminated() {
			return flowctx.RunWithError(&flow.SessionError{
				SessionID: id,
				Message:   "session is " + s.Status.String(),
			}), nil
		}
	}

	return flowctx.Run(fiber.Resume{}), nil
}

type sleepUntilHandler struct {
	clock clock.Clock
}

func NewSleepUntilHandler(clock clock.Clock) flowctx.WaitingForHandler {
	return &sleepUntilHandler{clock: clock}
}

func (h *sleepUntilHandler) Kind() core.WaitingForKind {
	return core.WaitingFor_SleepUntil
}

func (h *sleepUntilHandler) RunOrContinue(_ context.Context, _ *flowctx.FlowEventContext, wf *core.WaitingFor) (flowctx.Continuation, error) {
	if wf.WakeAt != nil && h.clock.Now().Before(*wf.WakeAt) {
		return flowctx.StaySuspended, nil
	}

	return flowctx.Run(fiber.Resume{}), nil
}

type externalEventResponseHandler struct{}

func NewExternalEventResponseHandler() flowctx.WaitingForHandler {
	return &externalEventResponseHandler{}
}

func (h *externalEventResponseHandler) Kind() core.WaitingForKind {
	return core.WaitingFor_ExternalEventResponse
}

func (h *externalEventResponseHandler) RunOrContinue(_ context.Context, fc *flowctx.FlowEventContext, wf *core.WaitingFor) (flowctx.Continuation, error) {
	state := fc.Checkpoint.ExternalEventState()
	if state == nil || state.RequestID != wf.RequestID || state.Response == nil {
		return flowctx.StaySuspended, nil
	}

	response := state.Response
	fc.Checkpoint.SetExternalEventState(nil)

	if response.Error != nil {
		return flowctx.RunWithError(response.Error), nil
	}

	return flowctx.Run(fiber.Resume{Payload: response.Payload}), nil
}
