// Package session implements the session protocol state machine of the flow engine.
package session

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/corda/corda-runtime-os-sub030/config"
	"github.com/corda/corda-runtime-os-sub030/core"
)

var ErrUnknownSession = errors.New("unknown session")

// Manager updates session states for messages received from and sent to counterparties.
type Manager interface {
	// ProcessMessageReceived applies an inbound event. A nil state is only valid for a
	// SessionInit, which creates the responder side of the session.
	ProcessMessageReceived(state *core.SessionState, event *core.SessionEvent, now time.Time) (*core.SessionState, error)

	// ProcessMessageToSend queues an outbound event. A nil state is only valid for a
	// SessionInit, which creates the initiating side of the session.
	ProcessMessageToSend(state *core.SessionState, event *core.SessionEvent, now time.Time) (*core.SessionState, error)

	// GetNextReceivedEvent returns the next in-order data message, nil if there is none.
	GetNextReceivedEvent(state *core.SessionState) *core.SessionEvent

	AcknowledgeReceivedEvent(state *core.SessionState, sequenceNum int64)

	// GetMessagesToSend returns all queued outbound events and removes them from the state.
	GetMessagesToSend(state *core.SessionState, now time.Time, cfg config.Config, identity core.HoldingIdentity) (*core.SessionState, []*core.SessionEvent)

	// ErrorSession moves the session to ERROR and queues an error message for the
	// counterparty.
	ErrorSession(state *core.SessionState, message string, now time.Time) *core.SessionState
}

type manager struct{}

func NewManager() Manager {
	return &manager{}
}

func (m *manager) ProcessMessageReceived(state *core.SessionState, event *core.SessionEvent, now time.Time) (*core.SessionState, error) {
	if state == nil {
		if event.Type != core.SessionEventType_Init {
			return nil, fmt.Errorf("%w: %s received for session %s", ErrUnknownSession, event.Type, event.SessionID)
		}

		return &core.SessionState{
			SessionID:               event.SessionID,
			Counterparty:            event.InitiatingIdentity,
			Protocol:                event.Protocol,
			Initiated:               true,
			Status:                  core.SessionStatus_Confirmed,
			LastReceivedMessageTime: now,
		}, nil
	}

	state.LastReceivedMessageTime = now

	switch event.Type {
	case core.SessionEventType_Init:
		// Duplicate
	case core.SessionEventType_Data:
		if state.Status == core.SessionStatus_Created {
			state.Status = core.SessionStatus_Confirmed
		}

		bufferReceived(state, event)
	case core.SessionEventType_Close:
		switch state.Status {
		case core.SessionStatus_Error, core.SessionStatus_Closed:
		case core.SessionStatus_Closing:
			state.Status = core.SessionStatus_Closed
		default:
			state.Status = core.SessionStatus_Closing
		}
	case core.SessionEventType_Error:
		state.Status = core.SessionStatus_Error
	}

	return state, nil
}

// bufferReceived keeps data messages ordered by sequence number and drops duplicates.
func bufferReceived(state *core.SessionState, event *core.SessionEvent) {
	rs := &state.ReceivedEventsState
	if event.SequenceNum <= rs.LastProcessedSequenceNum {
		return
	}

	for _, e := range rs.UndeliveredMessages {
		if e.SequenceNum == event.SequenceNum {
			return
		}
	}

	rs.UndeliveredMessages = append(rs.UndeliveredMessages, event)
	sort.Slice(rs.UndeliveredMessages, func(i, j int) bool {
		return rs.UndeliveredMessages[i].SequenceNum < rs.UndeliveredMessages[j].SequenceNum
	})
}

func (m *manager) ProcessMessageToSend(state *core.SessionState, event *core.SessionEvent, now time.Time) (*core.SessionState, error) {
	if state == nil {
		if event.Type != core.SessionEventType_Init {
			return nil, fmt.Errorf("%w: cannot send %s on session %s", ErrUnknownSession, event.Type, event.SessionID)
		}

		state = &core.SessionState{
			SessionID:    event.SessionID,
			Counterparty: event.InitiatedIdentity,
			Protocol:     event.Protocol,
			Status:       core.SessionStatus_Created,
		}
		queueSend(state, event, now)

		return state, nil
	}

	switch event.Type {
	case core.SessionEventType_Init:
		// Already initiated
		return state, nil
	case core.SessionEventType_Data:
		ss := &state.SendEventsState
		ss.LastProcessedSequenceNum++
		event.SequenceNum = ss.LastProcessedSequenceNum
	case core.SessionEventType_Close:
		if state.Status == core.SessionStatus_Closing {
			state.Status = core.SessionStatus_Closed
		} else {
			state.Status = core.SessionStatus_Closing
		}
	case core.SessionEventType_Error:
		state.Status = core.SessionStatus_Error
	}

	queueSend(state, event, now)

	return state, nil
}

func queueSend(state *core.SessionState, event *core.SessionEvent, now time.Time) {
	event.SessionID = state.SessionID
	event.Timestamp = now

	state.SendEventsState.UndeliveredMessages = append(state.SendEventsState.UndeliveredMessages, event)
}

func (m *manager) GetNextReceivedEvent(state *core.SessionState) *core.SessionEvent {
	rs := state.ReceivedEventsState
	if len(rs.UndeliveredMessages) == 0 {
		return nil
	}

	next := rs.UndeliveredMessages[0]
	if next.SequenceNum != rs.LastProcessedSequenceNum+1 {
		return nil
	}

	return next
}

func (m *manager) AcknowledgeReceivedEvent(state *core.SessionState, sequenceNum int64) {
	rs := &state.ReceivedEventsState

	undelivered := rs.UndeliveredMessages[:0]
	for _, e := range rs.UndeliveredMessages {
		if e.SequenceNum > sequenceNum {
			undelivered = append(undelivered, e)
		}
	}
	rs.UndeliveredMessages = undelivered

	if sequenceNum > rs.LastProcessedSequenceNum {
		rs.LastProcessedSequenceNum = sequenceNum
	}
}

func (m *manager) GetMessagesToSend(state *core.SessionState, now time.Time, _ config.Config, identity core.HoldingIdentity) (*core.SessionState, []*core.SessionEvent) {
	events := state.SendEventsState.UndeliveredMessages
	state.SendEventsState.UndeliveredMessages = nil

	for _, e := range events {
		if state.Initiated {
			e.InitiatingIdentity = state.Counterparty
			e.InitiatedIdentity = identity
		} else {
			e.InitiatingIdentity = identity
			e.InitiatedIdentity = state.Counterparty
		}

		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
	}

	return state, events
}

func (m *manager) ErrorSession(state *core.SessionState, message string, now time.Time) *core.SessionState {
	state, _ = m.ProcessMessageToSend(state, &core.SessionEvent{
		Type:         core.SessionEventType_Error,
		ErrorMessage: message,
	}, now)

	return state
}
