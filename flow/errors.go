package flow

import "fmt"

// SessionError is returned from session operations on a session that failed or was
// closed by the counterparty.
type SessionError struct {
	SessionID string
	Message   string
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %s", e.SessionID, e.Message)
}
