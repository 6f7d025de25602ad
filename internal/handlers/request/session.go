// Package request contains the handlers of the requests a fiber issues.
package request

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/checkpoint"
	"github.com/corda/corda-runtime-os-sub030/internal/flowctx"
	"github.com/corda/corda-runtime-os-sub030/internal/flowerrors"
	"github.com/corda/corda-runtime-os-sub030/session"
)

// sessionSupport queues outbound session messages on the checkpoint. The global
// post-processing stage turns them into records.
type sessionSupport struct {
	clock    clock.Clock
	sessions session.Manager
}

// ensureSession returns the state of the session, initiating it if the flow has not used
// it before.
func (s *sessionSupport) ensureSession(cp *checkpoint.FlowCheckpoint, info core.SessionInfo, now time.Time) (*core.SessionState, error) {
	if state, ok := cp.GetSession(info.SessionID); ok {
		return state, nil
	}

	state, err := s.sessions.ProcessMessageToSend(nil, session.InitEvent(info), now)
	if err != nil {
		return nil, flowerrors.NewFatal("initiating session", err)
	}

	cp.PutSession(state)

	return state, nil
}

// send queues the messages, initiating sessions as needed.
func (s *sessionSupport) send(fc *flowctx.FlowEventContext, messages []core.SessionPayload) error {
	now := s.clock.Now().UTC()
	cp := fc.Checkpoint

	for _, m := range messages {
		state, err := s.ensureSession(cp, m.SessionInfo, now)
		if err != nil {
			return err
		}

		if state.Status.Terminated() {
			// The flow is resumed with an error for this session
			continue
		}

		state, err = s.sessions.ProcessMessageToSend(state, session.DataEvent(m.SessionID, m.Payload), now)
		if err != nil {
			return flowerrors.NewFatal(fmt.Sprintf("sending on session %s", m.SessionID), err)
		}

		cp.PutSession(state)
	}

	return nil
}

type sendHandler struct {
	sessionSupport
}

func NewSendHandler(clock clock.Clock, sessions session.Manager) flowctx.RequestHandler {
	return &sendHandler{sessionSupport{clock: clock, sessions: sessions}}
}

func (h *sendHandler) RequestType() core.RequestType {
	return core.RequestType_Send
}

func (h *sendHandler) GetUpdatedWaitingFor(_ context.Context, fc *flowctx.FlowEventContext, request core.FlowIORequest) (*core.WaitingFor, error) {
	r := request.(*core.SendRequest)

	ids := make([]string, 0, len(r.Messages))
	for _, m := range r.Messages {
		ids = append(ids, m.SessionID)
	}

	return core.WaitingForWakeup(ids...), nil
}

func (h *sendHandler) PostProcess(_ context.Context, fc *flowctx.FlowEventContext, request core.FlowIORequest) error {
	return h.send(fc, request.(*core.SendRequest).Messages)
}

type receiveHandler struct {
	sessionSupport
}

func NewReceiveHandler(clock clock.Clock, sessions session.Manager) flowctx.RequestHandler {
	return &receiveHandler{sessionSupport{clock: clock, sessions: sessions}}
}

func (h *receiveHandler) RequestType() core.RequestType {
	return core.RequestType_Receive
}

func (h *receiveHandler) GetUpdatedWaitingFor(_ context.Context, fc *flowctx.FlowEventContext, request core.FlowIORequest) (*core.WaitingFor, error) {
	r := request.(*core.ReceiveRequest)

	ids := make([]string, 0, len(r.Sessions))
	for _, s := range r.Sessions {
		ids = append(ids, s.SessionID)
	}

	return core.WaitingForSessionData(ids...), nil
}

func (h *receiveHandler) PostProcess(_ context.Context, fc *flowctx.FlowEventContext, request core.FlowIORequest) error {
	now := h.clock.Now().UTC()

	for _, s := range request.(*core.ReceiveRequest).Sessions {
		if _, err := h.ensureSession(fc.Checkpoint, s, now); err != nil {
			return err
		}
	}

	return nil
}

type sendAndReceiveHandler struct {
	sessionSupport
}

func NewSendAndReceiveHandler(clock clock.Clock, sessions session.Manager) flowctx.RequestHandler {
	return &sendAndReceiveHandler{sessionSupport{clock: clock, sessions: sessions}}
}

func (h *sendAndReceiveHandler) RequestType() core.RequestType {
	return core.RequestType_SendAndReceive
}

func (h *sendAndReceiveHandler) GetUpdatedWaitingFor(_ context.Context, fc *flowctx.FlowEventContext, request core.FlowIORequest) (*core.WaitingFor, error) {
	r := request.(*core.SendAndReceiveRequest)

	ids := make([]string, 0, len(r.Messages))
	for _, m := range r.Messages {
		ids = append(ids, m.SessionID)
	}

	return core.WaitingForSessionData(ids...), nil
}

func (h *sendAndReceiveHandler) PostProcess(_ context.Context, fc *flowctx.FlowEventContext, request core.FlowIORequest) error {
	return h.send(fc, request.(*core.SendAndReceiveRequest).Messages)
}

type closeSessionsHandler struct {
	sessionSupport
}

func NewCloseSessionsHandler(clock clock.Clock, sessions session.Manager) flowctx.RequestHandler {
	return &closeSessionsHandler{sessionSupport{clock: clock, sessions: sessions}}
}

func (h *closeSessionsHandler) RequestType() core.RequestType {
	return core.RequestType_CloseSessions
}

func (h *closeSessionsHandler) GetUpdatedWaitingFor(context.Context, *flowctx.FlowEventContext, core.FlowIORequest) (*core.WaitingFor, error) {
	return core.WaitingForWakeup(), nil
}

func (h *closeSessionsHandler) PostProcess(_ context.Context, fc *flowctx.FlowEventContext, request core.FlowIORequest) error {
	now := h.clock.Now().UTC()
	cp := fc.Checkpoint

	for _, id := range request.(*core.CloseSessionsRequest).SessionIDs {
		state, ok := cp.GetSession(id)
		if !ok || state.Status.Terminated() {
			// Never used or already gone
			continue
		}

		state, err := h.sessions.ProcessMessageToSend(state, session.CloseEvent(id), now)
		if err != nil {
			return flowerrors.NewFatal("closing session "+id, err)
		}

		cp.PutSession(state)
	}

	return nil
}
