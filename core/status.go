package core

import "time"

type FlowStates string

const (
	FlowStates_StartRequested FlowStates = "START_REQUESTED"
	FlowStates_Running        FlowStates = "RUNNING"
	FlowStates_Retrying       FlowStates = "RETRYING"
	FlowStates_Completed      FlowStates = "COMPLETED"
	FlowStates_Failed         FlowStates = "FAILED"
	FlowStates_Killed         FlowStates = "KILLED"
)

// FlowStatus is published to the status topic, keyed by the flow's status key.
type FlowStatus struct {
	Key           FlowKey       `json:"key"`
	InitiatorType InitiatorType `json:"initiator_type"`
	FlowID        string        `json:"flow_id"`
	FlowName      string        `json:"flow_name,omitempty"`
	Status        FlowStates    `json:"status"`

	Result string             `json:"result,omitempty"`
	Error  *ExceptionEnvelope `json:"error,omitempty"`

	// ProcessingTerminatedReason is set for killed flows.
	ProcessingTerminatedReason string `json:"processing_terminated_reason,omitempty"`

	RetryCount int `json:"retry_count,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}
