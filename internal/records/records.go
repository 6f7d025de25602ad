// Package records creates the output records of the flow engine.
package records

import (
	"time"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/checkpoint"
)

// Status creates a status record for the flow of the given checkpoint.
func Status(cp *checkpoint.FlowCheckpoint, status core.FlowStates, now time.Time) *core.FlowStatus {
	sc := cp.StartContext()

	return &core.FlowStatus{
		Key:           sc.StatusKey,
		InitiatorType: sc.InitiatorType,
		FlowID:        cp.FlowID(),
		FlowName:      sc.FlowName,
		Status:        status,
		RetryCount:    cp.CurrentRetryCount(),
		Timestamp:     now,
	}
}

func StatusRecord(status *core.FlowStatus) *core.Record {
	return core.NewRecord(core.FlowStatusTopic, status.Key.ID, status)
}

func FlowEvent(event *core.FlowEvent) *core.Record {
	return core.NewRecord(core.FlowEventTopic, event.FlowID, event)
}

func SessionEvent(event *core.SessionEvent) *core.Record {
	return core.NewRecord(core.FlowMapperTopic, event.SessionID, &core.FlowMapperEvent{SessionEvent: event})
}

func ScheduleCleanup(key string, expiry time.Time) *core.Record {
	return core.NewRecord(core.FlowMapperTopic, key, &core.FlowMapperEvent{
		ScheduleCleanup: &core.ScheduleCleanup{Key: key, Expiry: expiry},
	})
}

func ScheduleWakeup(flowID string, at time.Time) *core.Record {
	return core.NewRecord(core.FlowMapperTopic, flowID, &core.FlowMapperEvent{
		ScheduleWakeup: &core.ScheduleWakeup{FlowID: flowID, WakeAt: at},
	})
}

func ExternalEvent(event *core.ExternalEvent) *core.Record {
	return core.NewRecord(core.ExternalEventTopic, event.RequestID, event)
}

// ScheduleSessionCleanup schedules the cleanup of every session of the checkpoint that
// has not terminated and does not have a cleanup scheduled yet.
func ScheduleSessionCleanup(cp *checkpoint.FlowCheckpoint, expiry time.Time) []*core.Record {
	var records []*core.Record

	for _, s := range cp.Sessions() {
		if s.Status.Terminated() || s.HasScheduledCleanup {
			continue
		}

		records = append(records, ScheduleCleanup(s.SessionID, expiry))
		s.HasScheduledCleanup = true
	}

	return records
}
