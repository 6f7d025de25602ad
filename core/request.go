package core

import "time"

type RequestType string

const (
	RequestType_Send           RequestType = "Send"
	RequestType_Receive        RequestType = "Receive"
	RequestType_SendAndReceive RequestType = "SendAndReceive"
	RequestType_CloseSessions  RequestType = "CloseSessions"
	RequestType_Sleep          RequestType = "Sleep"
	RequestType_ExternalEvent  RequestType = "ExternalEvent"
	RequestType_FlowFinished   RequestType = "FlowFinished"
	RequestType_FlowFailed     RequestType = "FlowFailed"
)

// FlowIORequest is what a fiber asked for when it suspended, finished or failed.
type FlowIORequest interface {
	RequestType() RequestType
}

// SessionInfo identifies a session and, for sessions that are not yet part of the
// checkpoint, how to initiate it.
type SessionInfo struct {
	SessionID    string          `json:"session_id"`
	Counterparty HoldingIdentity `json:"counterparty"`
	Protocol     string          `json:"protocol,omitempty"`
}

type SessionPayload struct {
	SessionInfo
	Payload []byte `json:"payload,omitempty"`
}

type SendRequest struct {
	Messages []SessionPayload
}

type ReceiveRequest struct {
	Sessions []SessionInfo
}

type SendAndReceiveRequest struct {
	Messages []SessionPayload
}

type CloseSessionsRequest struct {
	SessionIDs []string
}

type SleepRequest struct {
	Duration time.Duration
}

type ExternalEventRequest struct {
	RequestID string
	HandlerID string
	Payload   []byte
}

type FlowFinished struct {
	Result string
}

type FlowFailed struct {
	Err error
}

func (*SendRequest) RequestType() RequestType           { return RequestType_Send }
func (*ReceiveRequest) RequestType() RequestType        { return RequestType_Receive }
func (*SendAndReceiveRequest) RequestType() RequestType { return RequestType_SendAndReceive }
func (*CloseSessionsRequest) RequestType() RequestType  { return RequestType_CloseSessions }
func (*SleepRequest) RequestType() RequestType          { return RequestType_Sleep }
func (*ExternalEventRequest) RequestType() RequestType  { return RequestType_ExternalEvent }
func (*FlowFinished) RequestType() RequestType          { return RequestType_FlowFinished }
func (*FlowFailed) RequestType() RequestType            { return RequestType_FlowFailed }

var (
	_ FlowIORequest = (*SendRequest)(nil)
	_ FlowIORequest = (*ReceiveRequest)(nil)
	_ FlowIORequest = (*SendAndReceiveRequest)(nil)
	_ FlowIORequest = (*CloseSessionsRequest)(nil)
	_ FlowIORequest = (*SleepRequest)(nil)
	_ FlowIORequest = (*ExternalEventRequest)(nil)
	_ FlowIORequest = (*FlowFinished)(nil)
	_ FlowIORequest = (*FlowFailed)(nil)
)
