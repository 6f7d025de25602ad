package test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/corda/corda-runtime-os-sub030/backend"
	"github.com/corda/corda-runtime-os-sub030/core"
)

// BackendTest runs the store conformance suite. setup is called once per test case,
// teardown, if set, after it.
func BackendTest(t *testing.T, setup func() backend.Store, teardown func(b backend.Store)) {
	tests := []struct {
		name string
		f    func(t *testing.T, ctx context.Context, b backend.Store)
	}{
		{
			name: "GetCheckpoint_ReturnsNilWhenAbsent",
			f: func(t *testing.T, ctx context.Context, b backend.Store) {
				cp, err := b.GetCheckpoint(ctx, uuid.NewString())
				require.NoError(t, err)
				require.Nil(t, cp)
			},
		},
		{
			name: "Commit_StoresCheckpoint",
			f: func(t *testing.T, ctx context.Context, b backend.Store) {
				flowID := uuid.NewString()
				state := newState(flowID)

				require.NoError(t, b.Commit(ctx, &backend.Commit{FlowID: flowID, State: state}))

				cp, err := b.GetCheckpoint(ctx, flowID)
				require.NoError(t, err)
				require.NotNil(t, cp)
				require.Equal(t, flowID, cp.FlowID)
				require.Equal(t, state.StartContext.FlowName, cp.StartContext.FlowName)
				require.Equal(t, state.Fiber, cp.Fiber)
				require.Equal(t, core.WaitingFor_Wakeup, cp.WaitingFor.Kind)
			},
		},
		{
			name: "Commit_OverwritesCheckpoint",
			f: func(t *testing.T, ctx context.Context, b backend.Store) {
				flowID := uuid.NewString()
				state := newState(flowID)
				require.NoError(t, b.Commit(ctx, &backend.Commit{FlowID: flowID, State: state}))

				state.SuspendedOn = string(core.RequestType_Receive)
				state.Fiber = []byte(`{"step":2}`)
				require.NoError(t, b.Commit(ctx, &backend.Commit{FlowID: flowID, State: state}))

				cp, err := b.GetCheckpoint(ctx, flowID)
				require.NoError(t, err)
				require.Equal(t, string(core.RequestType_Receive), cp.SuspendedOn)
				require.JSONEq(t, `{"step":2}`, string(cp.Fiber))
			},
		},
		{
			name: "Commit_NilStateDeletesCheckpoint",
			f: func(t *testing.T, ctx context.Context, b backend.Store) {
				flowID := uuid.NewString()
				require.NoError(t, b.Commit(ctx, &backend.Commit{FlowID: flowID, State: newState(flowID)}))
				require.NoError(t, b.Commit(ctx, &backend.Commit{FlowID: flowID}))

				cp, err := b.GetCheckpoint(ctx, flowID)
				require.NoError(t, err)
				require.Nil(t, cp)
			},
		},
		{
			name: "Commit_DeletingAbsentCheckpointDoesNotError",
			f: func(t *testing.T, ctx context.Context, b backend.Store) {
				require.NoError(t, b.Commit(ctx, &backend.Commit{FlowID: uuid.NewString()}))
			},
		},
		{
			name: "Commit_RejectsInvalidCommit",
			f: func(t *testing.T, ctx context.Context, b backend.Store) {
				err := b.Commit(ctx, &backend.Commit{FlowID: "a", State: newState("b")})
				require.ErrorIs(t, err, backend.ErrInvalidCommit)

				cp, err := b.GetCheckpoint(ctx, "a")
				require.NoError(t, err)
				require.Nil(t, cp)
			},
		},
		{
			name: "Commit_AppendsRecordsToOutboxInOrder",
			f: func(t *testing.T, ctx context.Context, b backend.Store) {
				drain(t, ctx, b)

				flowID := uuid.NewString()
				records := []*core.Record{
					core.NewRecord(core.FlowStatusTopic, flowID, &core.FlowStatus{FlowID: flowID, Status: core.FlowStates_Running}),
					core.NewRecord(core.FlowEventTopic, flowID, core.NewWakeupEvent(flowID, time.Unix(10, 0).UTC())),
					core.NewRecord(core.FlowMapperTopic, "s1", "raw"),
				}

				require.NoError(t, b.Commit(ctx, &backend.Commit{FlowID: flowID, State: newState(flowID), Records: records}))

				entries, err := b.GetOutbox(ctx, 10)
				require.NoError(t, err)
				require.Len(t, entries, 3)

				for i, e := range entries {
					require.NotEmpty(t, e.ID)
					require.Equal(t, flowID, e.FlowID)
					require.Equal(t, records[i].Topic, e.Record.Topic)
					require.Equal(t, records[i].Key, e.Record.Key)
				}

				require.IsType(t, &core.FlowStatus{}, entries[0].Record.Payload)
				require.IsType(t, &core.FlowEvent{}, entries[1].Record.Payload)
				require.Equal(t, "raw", entries[2].Record.Payload)
			},
		},
		{
			name: "GetOutbox_HonorsLimit",
			f: func(t *testing.T, ctx context.Context, b backend.Store) {
				drain(t, ctx, b)

				flowID := uuid.NewString()
				records := make([]*core.Record, 0, 5)
				for i := 0; i < 5; i++ {
					records = append(records, core.NewRecord(core.FlowMapperTopic, flowID, "r"))
				}
				require.NoError(t, b.Commit(ctx, &backend.Commit{FlowID: flowID, Records: records}))

				entries, err := b.GetOutbox(ctx, 2)
				require.NoError(t, err)
				require.Len(t, entries, 2)
			},
		},
		{
			name: "AckOutbox_RemovesEntries",
			f: func(t *testing.T, ctx context.Context, b backend.Store) {
				drain(t, ctx, b)

				flowID := uuid.NewString()
				require.NoError(t, b.Commit(ctx, &backend.Commit{FlowID: flowID, Records: []*core.Record{
					core.NewRecord(core.FlowMapperTopic, flowID, "first"),
					core.NewRecord(core.FlowMapperTopic, flowID, "second"),
				}}))

				entries, err := b.GetOutbox(ctx, 10)
				require.NoError(t, err)
				require.Len(t, entries, 2)

				require.NoError(t, b.AckOutbox(ctx, entries[0].ID))

				entries, err = b.GetOutbox(ctx, 10)
				require.NoError(t, err)
				require.Len(t, entries, 1)
				require.Equal(t, "second", entries[0].Record.Payload)
			},
		},
		{
			name: "AckOutbox_UnknownIDDoesNotError",
			f: func(t *testing.T, ctx context.Context, b backend.Store) {
				require.NoError(t, b.AckOutbox(ctx))
			},
		},
		{
			name: "Commit_StoresDeadLetter",
			f: func(t *testing.T, ctx context.Context, b backend.Store) {
				flowID := uuid.NewString()
				dl := core.NewRecord(core.FlowEventTopic, flowID, core.NewWakeupEvent(flowID, time.Unix(5, 0).UTC()))

				require.NoError(t, b.Commit(ctx, &backend.Commit{FlowID: flowID, DeadLetter: dl}))

				dls, err := b.GetDeadLetters(ctx)
				require.NoError(t, err)

				var found bool
				for _, d := range dls {
					if d.Record.Key == flowID {
						found = true
						require.NotEmpty(t, d.ID)
						require.IsType(t, &core.FlowEvent{}, d.Record.Payload)
					}
				}
				require.True(t, found)
			},
		},
		{
			name: "GetStats_CountsCheckpointsAndOutbox",
			f: func(t *testing.T, ctx context.Context, b backend.Store) {
				drain(t, ctx, b)

				before, err := b.GetStats(ctx)
				require.NoError(t, err)

				flowID := uuid.NewString()
				require.NoError(t, b.Commit(ctx, &backend.Commit{
					FlowID:     flowID,
					State:      newState(flowID),
					Records:    []*core.Record{core.NewRecord(core.FlowMapperTopic, flowID, "x")},
					DeadLetter: core.NewRecord(core.FlowEventTopic, flowID, "dead"),
				}))

				after, err := b.GetStats(ctx)
				require.NoError(t, err)
				require.Equal(t, before.Checkpoints+1, after.Checkpoints)
				require.Equal(t, int64(1), after.PendingOutbox)
				require.Equal(t, before.DeadLetters+1, after.DeadLetters)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := setup()
			ctx := context.Background()

			tt.f(t, ctx, b)

			if teardown != nil {
				teardown(b)
			}
		})
	}
}

func newState(flowID string) *core.CheckpointState {
	return &core.CheckpointState{
		FlowID: flowID,
		StartContext: &core.FlowStartContext{
			StatusKey: core.FlowKey{ID: "req-" + flowID, Identity: core.HoldingIdentity{X500Name: "O=Alice, L=London, C=GB", GroupID: "group"}},
			RequestID: "req-" + flowID,
			Identity:  core.HoldingIdentity{X500Name: "O=Alice, L=London, C=GB", GroupID: "group"},
			FlowName:  "ping",
		},
		Fiber:      []byte(`{"step":1}`),
		WaitingFor: core.WaitingForWakeup(),
	}
}

// drain acknowledges everything in the outbox so a case starts from an empty one.
func drain(t *testing.T, ctx context.Context, b backend.Store) {
	for {
		entries, err := b.GetOutbox(ctx, 100)
		require.NoError(t, err)
		if len(entries) == 0 {
			return
		}

		ids := make([]string, 0, len(entries))
		for _, e := range entries {
			ids = append(ids, e.ID)
		}
		require.NoError(t, b.AckOutbox(ctx, ids...))
	}
}
