package vnode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corda/corda-runtime-os-sub030/core"
)

func Test_MemoryRegistry(t *testing.T) {
	r := NewMemoryRegistry()
	alice := core.HoldingIdentity{X500Name: "O=Alice", GroupID: "group"}

	_, ok := r.Get(context.Background(), alice)
	require.False(t, ok)

	r.Put(Info{Identity: alice, FlowOperationalStatus: OperationalStatus_Active})

	info, ok := r.Get(context.Background(), alice)
	require.True(t, ok)
	require.Equal(t, OperationalStatus_Active, info.FlowOperationalStatus)

	r.Put(Info{Identity: alice, FlowOperationalStatus: OperationalStatus_Inactive})
	info, _ = r.Get(context.Background(), alice)
	require.Equal(t, OperationalStatus_Inactive, info.FlowOperationalStatus)

	r.Remove(alice)
	_, ok = r.Get(context.Background(), alice)
	require.False(t, ok)
}
