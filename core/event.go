package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type FlowEventType uint

const (
	_ FlowEventType = iota

	FlowEventType_StartFlow
	FlowEventType_SessionEvent
	FlowEventType_Wakeup
	FlowEventType_ExternalEventResponse
)

func (et FlowEventType) String() string {
	switch et {
	case FlowEventType_StartFlow:
		return "StartFlow"
	case FlowEventType_SessionEvent:
		return "SessionEvent"
	case FlowEventType_Wakeup:
		return "Wakeup"
	case FlowEventType_ExternalEventResponse:
		return "ExternalEventResponse"
	default:
		return "Unknown"
	}
}

// FlowEvent is an event addressed to a single flow.
type FlowEvent struct {
	FlowID string        `json:"flow_id"`
	Type   FlowEventType `json:"type"`

	// Attributes is one of *StartFlow, *SessionEvent, *Wakeup, *ExternalEventResponse
	// depending on Type.
	Attributes interface{} `json:"attr,omitempty"`
}

type StartFlow struct {
	StartContext *FlowStartContext `json:"start_context"`
}

// Wakeup resumes a flow that waits for time to pass or for a retry. Timestamp tells
// redelivered wakeups apart from new ones.
type Wakeup struct {
	Timestamp time.Time `json:"timestamp"`
}

type ExternalEventResponse struct {
	RequestID string             `json:"request_id"`
	Payload   []byte             `json:"payload,omitempty"`
	Error     *ExceptionEnvelope `json:"error,omitempty"`
}

func NewStartFlowEvent(flowID string, startContext *FlowStartContext) *FlowEvent {
	return &FlowEvent{FlowID: flowID, Type: FlowEventType_StartFlow, Attributes: &StartFlow{StartContext: startContext}}
}

func NewSessionFlowEvent(flowID string, event *SessionEvent) *FlowEvent {
	return &FlowEvent{FlowID: flowID, Type: FlowEventType_SessionEvent, Attributes: event}
}

func NewWakeupEvent(flowID string, timestamp time.Time) *FlowEvent {
	return &FlowEvent{FlowID: flowID, Type: FlowEventType_Wakeup, Attributes: &Wakeup{Timestamp: timestamp}}
}

func NewExternalEventResponseEvent(flowID string, response *ExternalEventResponse) *FlowEvent {
	return &FlowEvent{FlowID: flowID, Type: FlowEventType_ExternalEventResponse, Attributes: response}
}

func (e *FlowEvent) UnmarshalJSON(data []byte) error {
	type aevent FlowEvent
	a := &struct {
		// Defer unmarshaling the attributes until the type is known. Has to match the tag in FlowEvent.
		Attributes json.RawMessage `json:"attr,omitempty"`
		*aevent
	}{}

	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	*e = *(*FlowEvent)(a.aevent)

	attributes, err := deserializeEventAttributes(e.Type, a.Attributes)
	if err != nil {
		return err
	}

	e.Attributes = attributes

	return nil
}

func deserializeEventAttributes(eventType FlowEventType, data []byte) (attr interface{}, err error) {
	switch eventType {
	case FlowEventType_StartFlow:
		attr = &StartFlow{}
	case FlowEventType_SessionEvent:
		attr = &SessionEvent{}
	case FlowEventType_Wakeup:
		attr = &Wakeup{}
	case FlowEventType_ExternalEventResponse:
		attr = &ExternalEventResponse{}
	default:
		return nil, fmt.Errorf("unknown flow event type %d when deserializing attributes", eventType)
	}

	if len(data) == 0 {
		return nil, errors.New("flow event without attributes")
	}

	err = json.Unmarshal(data, attr)
	return attr, err
}
