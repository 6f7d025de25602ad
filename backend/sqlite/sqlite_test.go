package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corda/corda-runtime-os-sub030/backend"
	"github.com/corda/corda-runtime-os-sub030/backend/test"
	"github.com/corda/corda-runtime-os-sub030/core"
)

func Test_SqliteStore(t *testing.T) {
	test.BackendTest(t, func() backend.Store {
		return NewInMemoryStore()
	}, func(b backend.Store) {
		require.NoError(t, b.Close())
	})
}

func Test_SqliteStore_MigrateIsIdempotent(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()

	require.NoError(t, s.Migrate())
}

func Test_SqliteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "flows.db")

	s := NewSqliteStore(path)
	require.NoError(t, s.Commit(ctx, &backend.Commit{
		FlowID:  "f1",
		State:   &core.CheckpointState{FlowID: "f1", SuspendedOn: string(core.RequestType_Sleep)},
		Records: []*core.Record{core.NewRecord(core.FlowMapperTopic, "f1", "x")},
	}))
	require.NoError(t, s.Close())

	s = NewSqliteStore(path)
	defer s.Close()

	cp, err := s.GetCheckpoint(ctx, "f1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	require.Equal(t, string(core.RequestType_Sleep), cp.SuspendedOn)

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.PendingOutbox)
}
