package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corda/corda-runtime-os-sub030/config"
	"github.com/corda/corda-runtime-os-sub030/core"
)

var (
	alice = core.HoldingIdentity{X500Name: "O=Alice", GroupID: "group"}
	bob   = core.HoldingIdentity{X500Name: "O=Bob", GroupID: "group"}
	now   = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func Test_Manager_InitiateAndSend(t *testing.T) {
	m := NewManager()

	s, err := m.ProcessMessageToSend(nil, InitEvent(core.SessionInfo{SessionID: "s1", Counterparty: bob, Protocol: "ping"}), now)
	require.NoError(t, err)
	require.Equal(t, core.SessionStatus_Created, s.Status)
	require.Equal(t, bob, s.Counterparty)

	s, err = m.ProcessMessageToSend(s, DataEvent("s1", []byte("a")), now)
	require.NoError(t, err)
	s, err = m.ProcessMessageToSend(s, DataEvent("s1", []byte("b")), now)
	require.NoError(t, err)

	s, events := m.GetMessagesToSend(s, now, config.DefaultConfig, alice)
	require.Len(t, events, 3)
	require.Equal(t, core.SessionEventType_Init, events[0].Type)
	require.Equal(t, "ping", events[0].Protocol)
	require.Equal(t, int64(1), events[1].SequenceNum)
	require.Equal(t, int64(2), events[2].SequenceNum)

	for _, e := range events {
		require.Equal(t, alice, e.InitiatingIdentity)
		require.Equal(t, bob, e.InitiatedIdentity)
		require.Equal(t, now, e.Timestamp)
	}

	_, events = m.GetMessagesToSend(s, now, config.DefaultConfig, alice)
	require.Empty(t, events)
}

func Test_Manager_ResponderSide(t *testing.T) {
	m := NewManager()

	s, err := m.ProcessMessageReceived(nil, &core.SessionEvent{
		SessionID:          "s1",
		Type:               core.SessionEventType_Init,
		InitiatingIdentity: alice,
		InitiatedIdentity:  bob,
		Protocol:           "ping",
	}, now)
	require.NoError(t, err)
	require.True(t, s.Initiated)
	require.Equal(t, core.SessionStatus_Confirmed, s.Status)
	require.Equal(t, alice, s.Counterparty)

	s, err = m.ProcessMessageToSend(s, DataEvent("s1", []byte("pong")), now)
	require.NoError(t, err)

	_, events := m.GetMessagesToSend(s, now, config.DefaultConfig, bob)
	require.Len(t, events, 1)
	require.Equal(t, alice, events[0].InitiatingIdentity)
	require.Equal(t, bob, events[0].InitiatedIdentity)
}

func Test_Manager_ReceivedOutOfOrder(t *testing.T) {
	m := NewManager()

	s, err := m.ProcessMessageToSend(nil, InitEvent(core.SessionInfo{SessionID: "s1", Counterparty: bob}), now)
	require.NoError(t, err)

	data := func(seq int64, p string) *core.SessionEvent {
		return &core.SessionEvent{SessionID: "s1", Type: core.SessionEventType_Data, SequenceNum: seq, Payload: []byte(p)}
	}

	s, err = m.ProcessMessageReceived(s, data(2, "second"), now)
	require.NoError(t, err)
	require.Equal(t, core.SessionStatus_Confirmed, s.Status)
	require.Nil(t, m.GetNextReceivedEvent(s))

	s, err = m.ProcessMessageReceived(s, data(1, "first"), now)
	require.NoError(t, err)

	// Duplicate
	s, err = m.ProcessMessageReceived(s, data(1, "first"), now)
	require.NoError(t, err)
	require.Len(t, s.ReceivedEventsState.UndeliveredMessages, 2)

	next := m.GetNextReceivedEvent(s)
	require.Equal(t, []byte("first"), next.Payload)
	m.AcknowledgeReceivedEvent(s, next.SequenceNum)

	next = m.GetNextReceivedEvent(s)
	require.Equal(t, []byte("second"), next.Payload)
	m.AcknowledgeReceivedEvent(s, next.SequenceNum)

	require.Nil(t, m.GetNextReceivedEvent(s))

	// Already processed
	s, err = m.ProcessMessageReceived(s, data(1, "first"), now)
	require.NoError(t, err)
	require.Nil(t, m.GetNextReceivedEvent(s))
}

func Test_Manager_Close(t *testing.T) {
	m := NewManager()

	s, err := m.ProcessMessageToSend(nil, InitEvent(core.SessionInfo{SessionID: "s1", Counterparty: bob}), now)
	require.NoError(t, err)

	s, err = m.ProcessMessageToSend(s, CloseEvent("s1"), now)
	require.NoError(t, err)
	require.Equal(t, core.SessionStatus_Closing, s.Status)

	s, err = m.ProcessMessageReceived(s, &core.SessionEvent{SessionID: "s1", Type: core.SessionEventType_Close}, now)
	require.NoError(t, err)
	require.Equal(t, core.SessionStatus_Closed, s.Status)
}

func Test_Manager_Error(t *testing.T) {
	m := NewManager()

	s, err := m.ProcessMessageToSend(nil, InitEvent(core.SessionInfo{SessionID: "s1", Counterparty: bob}), now)
	require.NoError(t, err)

	s = m.ErrorSession(s, "flow failed", now)
	require.Equal(t, core.SessionStatus_Error, s.Status)

	_, events := m.GetMessagesToSend(s, now, config.DefaultConfig, alice)
	require.Len(t, events, 2)
	require.Equal(t, core.SessionEventType_Error, events[1].Type)
	require.Equal(t, "flow failed", events[1].ErrorMessage)
}

func Test_Manager_UnknownSession(t *testing.T) {
	m := NewManager()

	_, err := m.ProcessMessageReceived(nil, DataEvent("s1", nil), now)
	require.ErrorIs(t, err, ErrUnknownSession)

	_, err = m.ProcessMessageToSend(nil, DataEvent("s1", nil), now)
	require.ErrorIs(t, err, ErrUnknownSession)
}
