package core

import "time"

// FlowMapperEvent is addressed to the flow mapper, which routes session messages
// between parties and owns timed cleanup and wakeups.
type FlowMapperEvent struct {
	SessionEvent    *SessionEvent    `json:"session_event,omitempty"`
	ScheduleCleanup *ScheduleCleanup `json:"schedule_cleanup,omitempty"`
	ScheduleWakeup  *ScheduleWakeup  `json:"schedule_wakeup,omitempty"`
}

// ScheduleCleanup asks the mapper to drop its state for Key once Expiry has passed.
type ScheduleCleanup struct {
	Key    string    `json:"key"`
	Expiry time.Time `json:"expiry"`
}

// ScheduleWakeup asks the mapper to deliver a Wakeup event to FlowID at WakeAt.
type ScheduleWakeup struct {
	FlowID string    `json:"flow_id"`
	WakeAt time.Time `json:"wake_at"`
}

// ExternalEvent is a request to an external worker on behalf of a flow.
type ExternalEvent struct {
	FlowID    string    `json:"flow_id"`
	RequestID string    `json:"request_id"`
	HandlerID string    `json:"handler_id"`
	Payload   []byte    `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
