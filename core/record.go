package core

import (
	"encoding/json"
	"fmt"
)

const (
	FlowEventTopic     = "flow.event"
	FlowStatusTopic    = "flow.status"
	FlowMapperTopic    = "flow.mapper.event"
	ExternalEventTopic = "flow.external.event"
)

type PayloadType string

const (
	PayloadType_FlowEvent       PayloadType = "FlowEvent"
	PayloadType_FlowStatus      PayloadType = "FlowStatus"
	PayloadType_FlowMapperEvent PayloadType = "FlowMapperEvent"
	PayloadType_ExternalEvent   PayloadType = "ExternalEvent"
	PayloadType_String          PayloadType = "string"
)

// Record is a keyed message on a topic. Payload is one of *FlowEvent, *FlowStatus,
// *FlowMapperEvent, *ExternalEvent or string.
type Record struct {
	Topic   string      `json:"topic"`
	Key     string      `json:"key"`
	Payload interface{} `json:"payload,omitempty"`
}

func NewRecord(topic, key string, payload interface{}) *Record {
	return &Record{Topic: topic, Key: key, Payload: payload}
}

// PayloadTypeOf returns the payload type of a record payload, or "" for payloads
// that are not known to this package.
func PayloadTypeOf(payload interface{}) PayloadType {
	switch payload.(type) {
	case *FlowEvent:
		return PayloadType_FlowEvent
	case *FlowStatus:
		return PayloadType_FlowStatus
	case *FlowMapperEvent:
		return PayloadType_FlowMapperEvent
	case *ExternalEvent:
		return PayloadType_ExternalEvent
	case string:
		return PayloadType_String
	default:
		return ""
	}
}

type recordJSON struct {
	Topic   string          `json:"topic"`
	Key     string          `json:"key"`
	Type    PayloadType     `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (r *Record) MarshalJSON() ([]byte, error) {
	rj := recordJSON{Topic: r.Topic, Key: r.Key}

	if r.Payload != nil {
		rj.Type = PayloadTypeOf(r.Payload)
		if rj.Type == "" {
			return nil, fmt.Errorf("cannot serialize record payload of type %T", r.Payload)
		}

		p, err := json.Marshal(r.Payload)
		if err != nil {
			return nil, fmt.Errorf("serializing record payload: %w", err)
		}
		rj.Payload = p
	}

	return json.Marshal(rj)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var rj recordJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return err
	}

	r.Topic = rj.Topic
	r.Key = rj.Key
	r.Payload = nil

	if rj.Type == "" {
		return nil
	}

	var err error
	switch rj.Type {
	case PayloadType_FlowEvent:
		p := &FlowEvent{}
		err = json.Unmarshal(rj.Payload, p)
		r.Payload = p
	case PayloadType_FlowStatus:
		p := &FlowStatus{}
		err = json.Unmarshal(rj.Payload, p)
		r.Payload = p
	case PayloadType_FlowMapperEvent:
		p := &FlowMapperEvent{}
		err = json.Unmarshal(rj.Payload, p)
		r.Payload = p
	case PayloadType_ExternalEvent:
		p := &ExternalEvent{}
		err = json.Unmarshal(rj.Payload, p)
		r.Payload = p
	case PayloadType_String:
		var s string
		err = json.Unmarshal(rj.Payload, &s)
		r.Payload = s
	default:
		return fmt.Errorf("unknown record payload type %q", rj.Type)
	}

	return err
}
