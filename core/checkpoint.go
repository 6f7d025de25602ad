package core

import (
	"encoding/json"
	"time"
)

// CheckpointState is the durable state of one flow between events.
type CheckpointState struct {
	FlowID       string            `json:"flow_id"`
	StartContext *FlowStartContext `json:"start_context"`

	// Fiber is the serialized continuation of the flow program. Empty once finished.
	Fiber []byte `json:"fiber,omitempty"`

	WaitingFor  *WaitingFor `json:"waiting_for,omitempty"`
	SuspendedOn string      `json:"suspended_on,omitempty"`

	Sessions []*SessionState `json:"sessions,omitempty"`

	RetryState         *RetryState         `json:"retry_state,omitempty"`
	ExternalEventState *ExternalEventState `json:"external_event_state,omitempty"`

	// SavedOutputs holds the outputs of recently processed events, oldest first.
	SavedOutputs []*SavedOutputs `json:"saved_outputs,omitempty"`
}

// RetryState is present while a flow is retrying a transient failure.
type RetryState struct {
	RetryCount            int                `json:"retry_count"`
	FirstFailureTimestamp time.Time          `json:"first_failure_timestamp"`
	LastFailureTimestamp  time.Time          `json:"last_failure_timestamp"`
	Error                 *ExceptionEnvelope `json:"error,omitempty"`

	// FailedEvent is re-processed in place of the Wakeup that triggers the retry.
	FailedEvent *FlowEvent `json:"failed_event,omitempty"`
}

// ExternalEventState tracks the single outstanding external event request of a flow.
type ExternalEventState struct {
	RequestID     string         `json:"request_id"`
	Request       *ExternalEvent `json:"request"`
	SendTimestamp time.Time      `json:"send_timestamp"`

	Response *ExternalEventResponse `json:"response,omitempty"`
}

// SavedOutputs are the replay-significant records emitted for one input event.
type SavedOutputs struct {
	InputEventHash string    `json:"input_event_hash"`
	Records        []*Record `json:"records"`
}

// Clone returns a deep copy of the state.
func (cs *CheckpointState) Clone() (*CheckpointState, error) {
	if cs == nil {
		return nil, nil
	}

	b, err := json.Marshal(cs)
	if err != nil {
		return nil, err
	}

	c := &CheckpointState{}
	if err := json.Unmarshal(b, c); err != nil {
		return nil, err
	}

	return c, nil
}
