package worker

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corda/corda-runtime-os-sub030/core"
)

func Test_LogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(slog.New(slog.NewTextHandler(&buf, nil)))

	err := p.Publish(context.Background(), core.NewRecord(core.FlowStatusTopic, "request-1", &core.FlowStatus{
		FlowID: "flow-1",
		Status: core.FlowStates_Completed,
		Result: "done",
	}))
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "published record")
	require.Contains(t, out, "status=COMPLETED")
	require.Contains(t, out, "result=done")
}
