package core

import "time"

type WaitingForKind uint

const (
	_ WaitingForKind = iota

	WaitingFor_StartFlow
	WaitingFor_Wakeup
	WaitingFor_SessionData
	WaitingFor_SleepUntil
	WaitingFor_ExternalEventResponse
)

func (k WaitingForKind) String() string {
	switch k {
	case WaitingFor_StartFlow:
		return "StartFlow"
	case WaitingFor_Wakeup:
		return "Wakeup"
	case WaitingFor_SessionData:
		return "SessionData"
	case WaitingFor_SleepUntil:
		return "SleepUntil"
	case WaitingFor_ExternalEventResponse:
		return "ExternalEventResponse"
	default:
		return "Unknown"
	}
}

// WaitingFor describes which input satisfies the next resumption of a suspended flow.
// Only the fields relevant to Kind are set.
type WaitingFor struct {
	Kind WaitingForKind `json:"kind"`

	SessionIDs []string   `json:"session_ids,omitempty"`
	WakeAt     *time.Time `json:"wake_at,omitempty"`
	RequestID  string     `json:"request_id,omitempty"`
}

func WaitingForStartFlow() *WaitingFor {
	return &WaitingFor{Kind: WaitingFor_StartFlow}
}

// WaitingForWakeup resumes the flow right away. The flow is resumed with an error if
// any of the given sessions has terminated.
func WaitingForWakeup(sessionIDs ...string) *WaitingFor {
	return &WaitingFor{Kind: WaitingFor_Wakeup, SessionIDs: sessionIDs}
}

func WaitingForSessionData(sessionIDs ...string) *WaitingFor {
	return &WaitingFor{Kind: WaitingFor_SessionData, SessionIDs: sessionIDs}
}

func WaitingForSleepUntil(at time.Time) *WaitingFor {
	at = at.UTC()
	return &WaitingFor{Kind: WaitingFor_SleepUntil, WakeAt: &at}
}

func WaitingForExternalEventResponse(requestID string) *WaitingFor {
	return &WaitingFor{Kind: WaitingFor_ExternalEventResponse, RequestID: requestID}
}
