package waiting

import (
	"context"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/flow"
	"github.com/corda/corda-runtime-os-sub030/internal/fiber"
	"github.com/corda/corda-runtime-os-sub030/internal/flowctx"
	"github.com/corda/corda-runtime-os-sub030/internal/flowerrors"
	"github.com/corda/corda-runtime-os-sub030/session"
)

type sessionDataHandler struct {
	sessions session.Manager
}

func NewSessionDataHandler(sessions session.Manager) flowctx.WaitingForHandler {
	return &sessionDataHandler{sessions: sessions}
}

func (h *sessionDataHandler) Kind() core.WaitingForKind {
	return core.WaitingFor_SessionData
}

// RunOrContinue resumes the flow once every session it receives from has a message, or
// with an error as soon as one of them can no longer deliver one.
func (h *sessionDataHandler) RunOrContinue(_ context.Context, fc *flowctx.FlowEventContext, wf *core.WaitingFor) (flowctx.Continuation, error) {
	received := make(map[string]*core.SessionEvent, len(wf.SessionIDs))
	states := make(map[string]*core.SessionState, len(wf.SessionIDs))

	for _, id := range wf.SessionIDs {
		state, ok := fc.Checkpoint.GetSession(id)
		if !ok {
			return flowctx.Continuation{}, flowerrors.NewFatal("flow is waiting for data from unknown session "+id, nil)
		}

		if state.Status == core.SessionStatus_Error {
			return flowctx.RunWithError(&flow.SessionError{SessionID: id, Message: "session is ERROR"}), nil
		}

		next := h.sessions.GetNextReceivedEvent(state)
		if next == nil {
			if state.Status == core.SessionStatus_Closing || state.Status == core.SessionStatus_Closed {
				return flowctx.RunWithError(&flow.SessionError{SessionID: id, Message: "session closed without data"}), nil
			}

			continue
		}

		received[id] = next
		states[id] = state
	}

	if len(received) < len(wf.SessionIDs) {
		return flowctx.StaySuspended, nil
	}

	payloads := make(map[string][]byte, len(received))
	for id, event := range received {
		h.sessions.AcknowledgeReceivedEvent(states[id], event.SequenceNum)
		payloads[id] = event.Payload
	}

	return flowctx.Run(fiber.Resume{Payloads: payloads}), nil
}
