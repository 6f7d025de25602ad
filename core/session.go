package core

import "time"

type SessionStatus int

const (
	SessionStatus_Created SessionStatus = iota
	SessionStatus_Confirmed
	SessionStatus_Closing
	SessionStatus_Closed
	SessionStatus_Error
)

func (s SessionStatus) String() string {
	switch s {
	case SessionStatus_Created:
		return "CREATED"
	case SessionStatus_Confirmed:
		return "CONFIRMED"
	case SessionStatus_Closing:
		return "CLOSING"
	case SessionStatus_Closed:
		return "CLOSED"
	case SessionStatus_Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Terminated returns true for sessions that will not carry any more messages.
func (s SessionStatus) Terminated() bool {
	return s == SessionStatus_Closed || s == SessionStatus_Error
}

type SessionEventType int

const (
	SessionEventType_Init SessionEventType = iota
	SessionEventType_Data
	SessionEventType_Close
	SessionEventType_Error
)

func (t SessionEventType) String() string {
	switch t {
	case SessionEventType_Init:
		return "SessionInit"
	case SessionEventType_Data:
		return "SessionData"
	case SessionEventType_Close:
		return "SessionClose"
	case SessionEventType_Error:
		return "SessionError"
	default:
		return "Unknown"
	}
}

// SessionEvent is a single session protocol message, inbound or outbound.
type SessionEvent struct {
	SessionID string           `json:"session_id"`
	Type      SessionEventType `json:"type"`

	// SequenceNum orders data messages within one direction of a session. Control
	// messages (init, close, error) are not sequenced and carry 0.
	SequenceNum int64 `json:"sequence_num,omitempty"`

	InitiatingIdentity HoldingIdentity `json:"initiating_identity"`
	InitiatedIdentity  HoldingIdentity `json:"initiated_identity"`

	Timestamp time.Time `json:"timestamp"`

	// Protocol is set on SessionInit and names the responder flow to start.
	Protocol string `json:"protocol,omitempty"`

	Payload []byte `json:"payload,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// SessionProcessState tracks one direction of a session.
type SessionProcessState struct {
	LastProcessedSequenceNum int64           `json:"last_processed_sequence_num"`
	UndeliveredMessages      []*SessionEvent `json:"undelivered_messages,omitempty"`
}

// SessionState is the protocol state of one session attached to a checkpoint.
type SessionState struct {
	SessionID    string          `json:"session_id"`
	Counterparty HoldingIdentity `json:"counterparty"`
	Protocol     string          `json:"protocol,omitempty"`

	// Initiated is true on the responder side of a session.
	Initiated bool `json:"initiated,omitempty"`

	Status SessionStatus `json:"status"`

	SendEventsState     SessionProcessState `json:"send_events_state"`
	ReceivedEventsState SessionProcessState `json:"received_events_state"`

	HasScheduledCleanup     bool      `json:"has_scheduled_cleanup,omitempty"`
	LastReceivedMessageTime time.Time `json:"last_received_message_time"`
}
