package event

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/flowctx"
	"github.com/corda/corda-runtime-os-sub030/internal/flowerrors"
	"github.com/corda/corda-runtime-os-sub030/internal/records"
	"github.com/corda/corda-runtime-os-sub030/log"
	"github.com/corda/corda-runtime-os-sub030/registry"
	"github.com/corda/corda-runtime-os-sub030/session"
)

type sessionEventHandler struct {
	clock    clock.Clock
	registry *registry.Registry
	sessions session.Manager
}

func NewSessionEventHandler(clock clock.Clock, registry *registry.Registry, sessions session.Manager) flowctx.EventHandler {
	return &sessionEventHandler{
		clock:    clock,
		registry: registry,
		sessions: sessions,
	}
}

func (h *sessionEventHandler) EventType() core.FlowEventType {
	return core.FlowEventType_SessionEvent
}

func (h *sessionEventHandler) Preprocess(_ context.Context, fc *flowctx.FlowEventContext) error {
	event, ok := fc.InputEventPayload.(*core.SessionEvent)
	if !ok {
		return flowerrors.NewFatal(fmt.Sprintf("expected session event, got %T", fc.InputEventPayload), nil)
	}

	logger := fc.Logger.With(log.SessionIDKey, event.SessionID)
	now := h.clock.Now().UTC()

	cp := fc.Checkpoint
	if !cp.Exists() {
		if event.Type != core.SessionEventType_Init {
			return flowerrors.NewEvent(fmt.Sprintf("%s received for session %s of a flow that does not exist", event.Type, event.SessionID), nil)
		}

		return h.startResponder(fc, event, now)
	}

	state, _ := cp.GetSession(event.SessionID)
	if state == nil && event.Type != core.SessionEventType_Init {
		return flowerrors.NewEvent(fmt.Sprintf("%s received for unknown session %s", event.Type, event.SessionID), nil)
	}

	state, err := h.sessions.ProcessMessageReceived(state, event, now)
	if err != nil {
		return flowerrors.NewEvent("processing session event", err)
	}

	cp.PutSession(state)

	logger.Debug("session event received", log.SessionStatusKey, state.Status.String())

	return nil
}

// startResponder creates the checkpoint of the responder flow for an inbound session.
func (h *sessionEventHandler) startResponder(fc *flowctx.FlowEventContext, event *core.SessionEvent, now time.Time) error {
	name, err := h.registry.GetResponder(event.Protocol)
	if err != nil {
		return flowerrors.NewFatal(fmt.Sprintf("no responder flow for protocol %q", event.Protocol), err)
	}

	state, err := h.sessions.ProcessMessageReceived(nil, event, now)
	if err != nil {
		return flowerrors.NewFatal("creating responder session", err)
	}

	sc := &core.FlowStartContext{
		StatusKey:        core.FlowKey{ID: event.SessionID, Identity: event.InitiatedIdentity},
		InitiatorType:    core.InitiatorType_P2P,
		RequestID:        event.SessionID,
		Identity:         event.InitiatedIdentity,
		InitiatedBy:      event.InitiatingIdentity,
		FlowName:         name,
		CreatedTimestamp: now,
	}

	cp := fc.Checkpoint
	if err := cp.InitFlowState(fc.InputEvent.FlowID, sc); err != nil {
		return flowerrors.NewFatal("initialising responder flow state", err)
	}

	cp.PutSession(state)

	fc.Logger.Debug("responder flow admitted", log.FlowNameKey, name, log.SessionIDKey, event.SessionID)

	fc.AddOutputRecords(records.StatusRecord(records.Status(cp, core.FlowStates_Running, now)))

	return nil
}
