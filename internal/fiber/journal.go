package fiber

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/flow"
)

// entry is the recorded result of one I/O request issued by a flow.
type entry struct {
	Type     core.RequestType        `json:"type"`
	Payload  []byte                  `json:"payload,omitempty"`
	Payloads map[string][]byte       `json:"payloads,omitempty"`
	Error    *core.ExceptionEnvelope `json:"error,omitempty"`

	// SessionID is set for errors raised by a session.
	SessionID string `json:"session_id,omitempty"`
}

func (e *entry) err() error {
	if e.Error == nil {
		return nil
	}

	if e.SessionID != "" {
		return &flow.SessionError{SessionID: e.SessionID, Message: e.Error.Message}
	}

	return e.Error
}

// continuation is the serialized form of a suspended fiber. Resuming re-executes the flow
// and answers its requests from the journal until the first unanswered one.
type continuation struct {
	Journal []*entry `json:"journal"`

	// Pending is the type of the request the fiber is suspended on.
	Pending core.RequestType `json:"pending"`
}

func decodeContinuation(b []byte) (*continuation, error) {
	c := &continuation{}
	if len(b) == 0 {
		return c, nil
	}

	if err := json.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("decoding fiber continuation: %w", err)
	}

	return c, nil
}

func (c *continuation) encode() ([]byte, error) {
	return json.Marshal(c)
}

// resume records the result of the pending request.
func (c *continuation) resume(r Resume) {
	if c.Pending == "" {
		return
	}

	e := &entry{
		Type:     c.Pending,
		Payload:  r.Payload,
		Payloads: r.Payloads,
	}

	if r.Err != nil {
		var serr *flow.SessionError
		if errors.As(r.Err, &serr) {
			e.SessionID = serr.SessionID
			e.Error = &core.ExceptionEnvelope{Type: "SessionError", Message: serr.Message}
		} else {
			e.Error = core.NewExceptionEnvelope(r.Err)
		}
	}

	c.Journal = append(c.Journal, e)
	c.Pending = ""
}
