package registry

import (
	"errors"
	"testing"

	"github.com/corda/corda-runtime-os-sub030/flow"
	"github.com/stretchr/testify/require"
)

func reg_flow1(ctx flow.Context) (string, error) {
	return "", nil
}

func reg_flow2(ctx flow.Context) (string, error) {
	return "", nil
}

func TestRegistry_RegisterFlow(t *testing.T) {
	tests := []struct {
		name     string
		flowName string
		flow     flow.Flow
		wantName string
		wantErr  bool
	}{
		{
			name:     "valid flow",
			flow:     reg_flow1,
			wantName: "reg_flow1",
		},
		{
			name:     "valid flow by name",
			flowName: "CustomName",
			flow:     reg_flow1,
			wantName: "CustomName",
		},
		{
			name:    "nil flow",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			err := r.RegisterFlow(tt.flowName, tt.flow)

			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)

			f, err := r.GetFlow(tt.wantName)
			require.NoError(t, err)
			require.NotNil(t, f)
		})
	}
}

func TestRegistry_RegisterFlow_Duplicate(t *testing.T) {
	r := New()

	require.NoError(t, r.RegisterFlow("", reg_flow1))

	err := r.RegisterFlow("", reg_flow1)
	var errAlreadyRegistered *ErrFlowAlreadyRegistered
	require.ErrorAs(t, err, &errAlreadyRegistered)
}

func TestRegistry_RegisterResponder(t *testing.T) {
	r := New()

	require.NoError(t, r.RegisterResponder("ping", "pong", reg_flow2))

	name, err := r.GetResponder("ping")
	require.NoError(t, err)
	require.Equal(t, "pong", name)

	f, err := r.GetFlow("pong")
	require.NoError(t, err)
	require.NotNil(t, f)

	err = r.RegisterResponder("ping", "other", reg_flow1)
	var errProtocol *ErrProtocolAlreadyRegistered
	require.ErrorAs(t, err, &errProtocol)

	// Responder names share the namespace of initiating flows
	err = r.RegisterFlow("pong", reg_flow1)
	var errAlreadyRegistered *ErrFlowAlreadyRegistered
	require.ErrorAs(t, err, &errAlreadyRegistered)
}

func TestRegistry_NotFound(t *testing.T) {
	r := New()

	_, err := r.GetFlow("missing")
	require.True(t, errors.Is(err, ErrFlowNotFound))

	_, err = r.GetResponder("missing")
	require.True(t, errors.Is(err, ErrFlowNotFound))
}
