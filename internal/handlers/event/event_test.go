package event

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/corda/corda-runtime-os-sub030/config"
	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/flow"
	"github.com/corda/corda-runtime-os-sub030/internal/checkpoint"
	"github.com/corda/corda-runtime-os-sub030/internal/flowctx"
	"github.com/corda/corda-runtime-os-sub030/internal/flowerrors"
	"github.com/corda/corda-runtime-os-sub030/registry"
	"github.com/corda/corda-runtime-os-sub030/session"
)

var alice = core.HoldingIdentity{X500Name: "O=Alice", GroupID: "group"}
var bob = core.HoldingIdentity{X500Name: "O=Bob", GroupID: "group"}

func startContext() *core.FlowStartContext {
	return &core.FlowStartContext{
		StatusKey: core.FlowKey{ID: "request-1", Identity: alice},
		RequestID: "request-1",
		Identity:  alice,
		FlowName:  "test",
	}
}

func newContext(t *testing.T, state *core.CheckpointState, event *core.FlowEvent) *flowctx.FlowEventContext {
	cp, err := checkpoint.New(state, clock.NewMock(), 10)
	require.NoError(t, err)

	return &flowctx.FlowEventContext{
		Checkpoint:        cp,
		InputEvent:        event,
		InputEventPayload: event.Attributes,
		Config:            config.DefaultConfig,
		Logger:            slog.Default(),
	}
}

func requireClass[T error](t *testing.T, err error) {
	t.Helper()

	var target T
	require.True(t, errors.As(err, &target), "expected %T, got %v", target, err)
}

func Test_StartFlow_CreatesCheckpoint(t *testing.T) {
	h := NewStartFlowHandler(clock.NewMock())
	fc := newContext(t, nil, core.NewStartFlowEvent("flow-1", startContext()))

	require.NoError(t, h.Preprocess(context.Background(), fc))

	require.True(t, fc.Checkpoint.Exists())
	require.Equal(t, core.WaitingForStartFlow(), fc.Checkpoint.WaitingFor())
	require.Len(t, fc.OutputRecords, 1)
	require.Equal(t, core.FlowStates_Running, fc.OutputRecords[0].Payload.(*core.FlowStatus).Status)
}

func Test_StartFlow_ExistingCheckpoint(t *testing.T) {
	h := NewStartFlowHandler(clock.NewMock())

	waiting := &core.CheckpointState{FlowID: "flow-1", StartContext: startContext(), WaitingFor: core.WaitingForStartFlow()}
	fc := newContext(t, waiting, core.NewStartFlowEvent("flow-1", startContext()))
	require.NoError(t, h.Preprocess(context.Background(), fc))
	require.Empty(t, fc.OutputRecords)

	running := &core.CheckpointState{FlowID: "flow-1", StartContext: startContext(), WaitingFor: core.WaitingForWakeup()}
	fc = newContext(t, running, core.NewStartFlowEvent("flow-1", startContext()))
	requireClass[*flowerrors.EventError](t, h.Preprocess(context.Background(), fc))
}

func Test_StartFlow_WithoutStartContext(t *testing.T) {
	h := NewStartFlowHandler(clock.NewMock())
	fc := newContext(t, nil, core.NewStartFlowEvent("flow-1", nil))

	requireClass[*flowerrors.FatalError](t, h.Preprocess(context.Background(), fc))
}

func Test_Wakeup_WithoutCheckpoint(t *testing.T) {
	h := NewWakeupHandler()

	fc := newContext(t, nil, core.NewWakeupEvent("flow-1", time.Time{}))
	requireClass[*flowerrors.EventError](t, h.Preprocess(context.Background(), fc))

	fc = newContext(t, &core.CheckpointState{FlowID: "flow-1", StartContext: startContext()}, core.NewWakeupEvent("flow-1", time.Time{}))
	require.NoError(t, h.Preprocess(context.Background(), fc))
}

func Test_ExternalEventResponse(t *testing.T) {
	h := NewExternalEventResponseHandler()
	response := &core.ExternalEventResponse{RequestID: "r1", Payload: []byte("answer")}

	state := &core.CheckpointState{
		FlowID:             "flow-1",
		StartContext:       startContext(),
		ExternalEventState: &core.ExternalEventState{RequestID: "r1"},
	}

	fc := newContext(t, state, core.NewExternalEventResponseEvent("flow-1", response))
	require.NoError(t, h.Preprocess(context.Background(), fc))
	require.Equal(t, response, fc.Checkpoint.ExternalEventState().Response)

	// Duplicate
	other := &core.ExternalEventResponse{RequestID: "r1", Payload: []byte("other")}
	fc = newContext(t, state, core.NewExternalEventResponseEvent("flow-1", other))
	require.NoError(t, h.Preprocess(context.Background(), fc))
	require.Equal(t, response, fc.Checkpoint.ExternalEventState().Response)

	stale := &core.ExternalEventResponse{RequestID: "r0"}
	fc = newContext(t, state, core.NewExternalEventResponseEvent("flow-1", stale))
	requireClass[*flowerrors.EventError](t, h.Preprocess(context.Background(), fc))

	fc = newContext(t, nil, core.NewExternalEventResponseEvent("flow-1", response))
	requireClass[*flowerrors.EventError](t, h.Preprocess(context.Background(), fc))
}

func newSessionHandler(t *testing.T) flowctx.EventHandler {
	r := registry.New()
	require.NoError(t, r.RegisterResponder("ping", "pong", func(ctx flow.Context) (string, error) {
		return "", nil
	}))

	return NewSessionEventHandler(clock.NewMock(), r, session.NewManager())
}

func Test_Session_StartsResponder(t *testing.T) {
	h := newSessionHandler(t)

	ev := &core.SessionEvent{
		SessionID:          "s1",
		Type:               core.SessionEventType_Init,
		InitiatingIdentity: bob,
		InitiatedIdentity:  alice,
		Protocol:           "ping",
	}

	fc := newContext(t, nil, core.NewSessionFlowEvent("flow-1", ev))
	require.NoError(t, h.Preprocess(context.Background(), fc))

	cp := fc.Checkpoint
	require.True(t, cp.Exists())
	require.Equal(t, "pong", cp.StartContext().FlowName)
	require.Equal(t, core.InitiatorType_P2P, cp.StartContext().InitiatorType)
	require.Equal(t, alice, cp.HoldingIdentity())
	require.Equal(t, bob, cp.StartContext().InitiatedBy)

	s, ok := cp.InitiatingSession()
	require.True(t, ok)
	require.Equal(t, "s1", s.SessionID)
	require.Equal(t, bob, s.Counterparty)

	require.Len(t, fc.OutputRecords, 1)
}

func Test_Session_UnknownProtocolIsFatal(t *testing.T) {
	h := newSessionHandler(t)

	ev := &core.SessionEvent{SessionID: "s1", Type: core.SessionEventType_Init, Protocol: "unknown"}

	fc := newContext(t, nil, core.NewSessionFlowEvent("flow-1", ev))
	requireClass[*flowerrors.FatalError](t, h.Preprocess(context.Background(), fc))
}

func Test_Session_EventsForUnknownFlowOrSession(t *testing.T) {
	h := newSessionHandler(t)
	d := &core.SessionEvent{SessionID: "s1", Type: core.SessionEventType_Data, SequenceNum: 1}

	fc := newContext(t, nil, core.NewSessionFlowEvent("flow-1", d))
	requireClass[*flowerrors.EventError](t, h.Preprocess(context.Background(), fc))

	fc = newContext(t, &core.CheckpointState{FlowID: "flow-1", StartContext: startContext()}, core.NewSessionFlowEvent("flow-1", d))
	requireClass[*flowerrors.EventError](t, h.Preprocess(context.Background(), fc))
}

func Test_Session_BuffersData(t *testing.T) {
	h := newSessionHandler(t)

	state := &core.CheckpointState{
		FlowID:       "flow-1",
		StartContext: startContext(),
		Sessions:     []*core.SessionState{{SessionID: "s1", Counterparty: bob, Status: core.SessionStatus_Created}},
	}

	d := &core.SessionEvent{SessionID: "s1", Type: core.SessionEventType_Data, SequenceNum: 1, Payload: []byte("hi")}

	fc := newContext(t, state, core.NewSessionFlowEvent("flow-1", d))
	require.NoError(t, h.Preprocess(context.Background(), fc))

	s, _ := fc.Checkpoint.GetSession("s1")
	require.Equal(t, core.SessionStatus_Confirmed, s.Status)
	require.Len(t, s.ReceivedEventsState.UndeliveredMessages, 1)
}
