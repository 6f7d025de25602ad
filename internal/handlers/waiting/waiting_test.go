package waiting

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
	"github.com/corda/corda-runtime-os-sub030/session"
)

func newContext(t *testing.T, sessions ...*core.SessionState) *flowctx.FlowEventContext {
	cp, err := checkpoint.New(&core.CheckpointState{
		FlowID:       "flow-1",
		StartContext: &core.FlowStartContext{FlowName: "test"},
		Sessions:     sessions,
	}, clock.NewMock(), 10)
	require.NoError(t, err)

	return &flowctx.FlowEventContext{
		Checkpoint: cp,
		Config:     config.DefaultConfig,
		Logger:     slog.Default(),
	}
}

func data(seq int64, payload string) *core.SessionEvent {
	return &core.SessionEvent{Type: core.SessionEventType_Data, SequenceNum: seq, Payload: []byte(payload)}
}

func sessionWith(id string, status core.SessionStatus, received ...*core.SessionEvent) *core.SessionState {
	return &core.SessionState{
		SessionID:           id,
		Status:              status,
		ReceivedEventsState: core.SessionProcessState{UndeliveredMessages: received},
	}
}

func Test_Wakeup(t *testing.T) {
	h := NewWakeupHandler()

	c, err := h.RunOrContinue(context.Background(), newContext(t), core.WaitingForWakeup())
	require.NoError(t, err)
	require.False(t, c.IsStaySuspended())
	require.NoError(t, c.Resume.Err)

	fc := newContext(t, sessionWith("s1", core.SessionStatus_Confirmed), sessionWith("s2", core.SessionStatus_Error))
	c, err = h.RunOrContinue(context.Background(), fc, core.WaitingForWakeup("s1", "s2"))
	require.NoError(t, err)

	var serr *flow.SessionError
	require.True(t, errors.As(c.Resume.Err, &serr))
	require.Equal(t, "s2", serr.SessionID)
}

func Test_SleepUntil(t *testing.T) {
	clk := clock.NewMock()
	h := NewSleepUntilHandler(clk)
	wf := core.WaitingForSleepUntil(clk.Now().Add(time.Minute))

	c, err := h.RunOrContinue(context.Background(), newContext(t), wf)
	require.NoError(t, err)
	require.True(t, c.IsStaySuspended())

	clk.Add(time.Minute)

	c, err = h.RunOrContinue(context.Background(), newContext(t), wf)
	require.NoError(t, err)
	require.False(t, c.IsStaySuspended())
}

func Test_ExternalEventResponse(t *testing.T) {
	h := NewExternalEventResponseHandler()
	wf := core.WaitingForExternalEventResponse("r1")

	fc := newContext(t)
	fc.Checkpoint.SetExternalEventState(&core.ExternalEventState{RequestID: "r1"})

	c, err := h.RunOrContinue(context.Background(), fc, wf)
	require.NoError(t, err)
	require.True(t, c.IsStaySuspended())

	fc.Checkpoint.ExternalEventState().Response = &core.ExternalEventResponse{RequestID: "r1", Payload: []byte("answer")}

	c, err = h.RunOrContinue(context.Background(), fc, wf)
	require.NoError(t, err)
	require.Equal(t, []byte("answer"), c.Resume.Payload)
	require.Nil(t, fc.Checkpoint.ExternalEventState())

	fc.Checkpoint.SetExternalEventState(&core.ExternalEventState{
		RequestID: "r1",
		Response:  &core.ExternalEventResponse{RequestID: "r1", Error: &core.ExceptionEnvelope{Type: "Failed", Message: "no"}},
	})

	c, err = h.RunOrContinue(context.Background(), fc, wf)
	require.NoError(t, err)
	require.Error(t, c.Resume.Err)
}

func Test_SessionData(t *testing.T) {
	tests := []struct {
		name     string
		sessions []*core.SessionState
		check    func(t *testing.T, c flowctx.Continuation, err error)
	}{
		{
			name: "all sessions have data",
			sessions: []*core.SessionState{
				sessionWith("s1", core.SessionStatus_Confirmed, data(1, "a")),
				sessionWith("s2", core.SessionStatus_Confirmed, data(1, "b"), data(2, "c")),
			},
			check: func(t *testing.T, c flowctx.Continuation, err error) {
				require.NoError(t, err)
				require.False(t, c.IsStaySuspended())
				require.Equal(t, map[string][]byte{"s1": []byte("a"), "s2": []byte("b")}, c.Resume.Payloads)
			},
		},
		{
			name: "one session without data",
			sessions: []*core.SessionState{
				sessionWith("s1", core.SessionStatus_Confirmed, data(1, "a")),
				sessionWith("s2", core.SessionStatus_Confirmed),
			},
			check: func(t *testing.T, c flowctx.Continuation, err error) {
				require.NoError(t, err)
				require.True(t, c.IsStaySuspended())
			},
		},
		{
			name: "out of order data",
			sessions: []*core.SessionState{
				sessionWith("s1", core.SessionStatus_Confirmed, data(2, "a")),
				sessionWith("s2", core.SessionStatus_Confirmed, data(1, "b")),
			},
			check: func(t *testing.T, c flowctx.Continuation, err error) {
				require.NoError(t, err)
				require.True(t, c.IsStaySuspended())
			},
		},
		{
			name: "errored session",
			sessions: []*core.SessionState{
				sessionWith("s1", core.SessionStatus_Confirmed, data(1, "a")),
				sessionWith("s2", core.SessionStatus_Error),
			},
			check: func(t *testing.T, c flowctx.Continuation, err error) {
				require.NoError(t, err)

				var serr *flow.SessionError
				require.True(t, errors.As(c.Resume.Err, &serr))
				require.Equal(t, "s2", serr.SessionID)
			},
		},
		{
			name: "closed session without data",
			sessions: []*core.SessionState{
				sessionWith("s1", core.SessionStatus_Confirmed, data(1, "a")),
				sessionWith("s2", core.SessionStatus_Closing),
			},
			check: func(t *testing.T, c flowctx.Continuation, err error) {
				require.NoError(t, err)
				require.Error(t, c.Resume.Err)
			},
		},
		{
			name: "unknown session",
			sessions: []*core.SessionState{
				sessionWith("s1", core.SessionStatus_Confirmed, data(1, "a")),
			},
			check: func(t *testing.T, c flowctx.Continuation, err error) {
				var ferr *flowerrors.FatalError
				require.True(t, errors.As(err, &ferr))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSessionDataHandler(session.NewManager())

			c, err := h.RunOrContinue(context.Background(), newContext(t, tt.sessions...), core.WaitingForSessionData("s1", "s2"))
			tt.check(t, c, err)
		})
	}
}

func Test_SessionData_Acknowledges(t *testing.T) {
	s1 := sessionWith("s1", core.SessionStatus_Confirmed, data(1, "a"), data(2, "b"))
	fc := newContext(t, s1)

	h := NewSessionDataHandler(session.NewManager())

	c, err := h.RunOrContinue(context.Background(), fc, core.WaitingForSessionData("s1"))
	require.NoError(t, err)
	require.Equal(t, []byte("a"), c.Resume.Payloads["s1"])

	c, err = h.RunOrContinue(context.Background(), fc, core.WaitingForSessionData("s1"))
	require.NoError(t, err)
	require.Equal(t, []byte("b"), c.Resume.Payloads["s1"])

	got, _ := fc.Checkpoint.GetSession("s1")
	require.Equal(t, int64(2), got.ReceivedEventsState.LastProcessedSequenceNum)
	require.Empty(t, got.ReceivedEventsState.UndeliveredMessages)
}
