package pipeline

import (
	"github.com/benbjohnson/clock"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/flowctx"
	"github.com/corda/corda-runtime-os-sub030/internal/metrickeys"
	"github.com/corda/corda-runtime-os-sub030/internal/records"
	"github.com/corda/corda-runtime-os-sub030/metrics"
)

// KillFlowContextProcessor terminates a flow without dead-lettering the event.
type KillFlowContextProcessor struct {
	clock   clock.Clock
	metrics metrics.Client
}

func NewKillFlowContextProcessor(clock clock.Clock, mc metrics.Client) *KillFlowContextProcessor {
	return &KillFlowContextProcessor{clock: clock, metrics: mc}
}

// CreateKillFlowContext schedules the cleanup of the flow's open sessions, reports the
// flow as killed and deletes its checkpoint. Records already in the context are kept.
func (k *KillFlowContextProcessor) CreateKillFlowContext(fc *flowctx.FlowEventContext, details string) *flowctx.FlowEventContext {
	cp := fc.Checkpoint
	if !cp.Exists() {
		fc.SendToDLQ = false
		return fc
	}

	now := k.clock.Now().UTC()
	expiry := now.Add(fc.Config.CleanupWindow)

	fc.AddOutputRecords(records.ScheduleSessionCleanup(cp, expiry)...)

	status := records.Status(cp, core.FlowStates_Killed, now)
	status.ProcessingTerminatedReason = details
	fc.AddOutputRecords(records.StatusRecord(status))

	fc.SendToDLQ = false
	cp.MarkDeleted()

	k.metrics.Counter(metrickeys.FlowKilled, metrics.Tags{}, 1)

	return fc
}
