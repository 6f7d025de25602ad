package diag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corda/corda-runtime-os-sub030/backend"
	"github.com/corda/corda-runtime-os-sub030/backend/memory"
	"github.com/corda/corda-runtime-os-sub030/core"
)

func newServer(t *testing.T) *httptest.Server {
	store := memory.NewMemoryStore()

	require.NoError(t, store.Commit(context.Background(), &backend.Commit{
		FlowID: "flow-1",
		State:  &core.CheckpointState{FlowID: "flow-1", WaitingFor: core.WaitingForWakeup()},
		Records: []*core.Record{
			core.NewRecord(core.FlowStatusTopic, "request-1", &core.FlowStatus{FlowID: "flow-1", Status: core.FlowStates_Running}),
			core.NewRecord(core.FlowEventTopic, "flow-1", core.NewWakeupEvent("flow-1", store.Options().Clock.Now())),
		},
	}))

	srv := httptest.NewServer(NewServeMux(store))
	t.Cleanup(srv.Close)

	return srv
}

func get(t *testing.T, url string, v any) int {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	if v != nil && resp.StatusCode == http.StatusOK {
		require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}

	return resp.StatusCode
}

func Test_Diag_Stats(t *testing.T) {
	srv := newServer(t)

	var stats backend.Stats
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/stats", &stats))
	require.Equal(t, int64(1), stats.Checkpoints)
	require.Equal(t, int64(2), stats.PendingOutbox)
}

func Test_Diag_Checkpoint(t *testing.T) {
	srv := newServer(t)

	var cp core.CheckpointState
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/checkpoints/flow-1", &cp))
	require.Equal(t, "flow-1", cp.FlowID)
	require.Equal(t, core.WaitingFor_Wakeup, cp.WaitingFor.Kind)

	require.Equal(t, http.StatusNotFound, get(t, srv.URL+"/api/checkpoints/unknown", nil))
}

func Test_Diag_Outbox(t *testing.T) {
	srv := newServer(t)

	var entries []json.RawMessage
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/outbox?count=1", &entries))
	require.Len(t, entries, 1)

	require.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/api/outbox?count=x", nil))
}

func Test_Diag_DeadLetters(t *testing.T) {
	srv := newServer(t)

	var dls []json.RawMessage
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/deadletters", &dls))
	require.Empty(t, dls)
}

func Test_Diag_RejectsWrites(t *testing.T) {
	srv := newServer(t)

	resp, err := http.Post(srv.URL+"/api/stats", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	require.Equal(t, http.StatusNotFound, get(t, srv.URL+"/api/unknown", nil))
}
