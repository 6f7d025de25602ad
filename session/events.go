package session

import "github.com/corda/corda-runtime-os-sub030/core"

// InitEvent starts a session with the responder flow registered for protocol.
func InitEvent(info core.SessionInfo) *core.SessionEvent {
	return &core.SessionEvent{
		SessionID:         info.SessionID,
		Type:              core.SessionEventType_Init,
		InitiatedIdentity: info.Counterparty,
		Protocol:          info.Protocol,
	}
}

func DataEvent(sessionID string, payload []byte) *core.SessionEvent {
	return &core.SessionEvent{
		SessionID: sessionID,
		Type:      core.SessionEventType_Data,
		Payload:   payload,
	}
}

func CloseEvent(sessionID string) *core.SessionEvent {
	return &core.SessionEvent{
		SessionID: sessionID,
		Type:      core.SessionEventType_Close,
	}
}
