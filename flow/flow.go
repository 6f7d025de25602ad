// Package flow is the programming model for flows. A flow is a deterministic function
// that talks to other parties through sessions and to the outside world through external
// events. Every such call may suspend the flow until the engine receives the event that
// satisfies it.
package flow

import (
	"log/slog"
	"time"

	"github.com/corda/corda-runtime-os-sub030/core"
)

// Flow is the signature of initiating and responder flows. The returned string is
// published as the result of a completed flow.
type Flow func(ctx Context) (string, error)

// Context is passed to a running flow.
//
// Flows are re-executed from the start when they resume on a different engine instance,
// so a flow must only interact with the world through Context and Session. Calls that
// already completed are answered from the flow's journal during re-execution.
type Context interface {
	FlowID() string

	// Identity is the party the flow runs as.
	Identity() core.HoldingIdentity

	StartArgs() string

	// Logger returns a logger that is silent while the flow is re-executing completed calls.
	Logger() *slog.Logger

	// Done is closed when the engine gave up waiting on the flow.
	Done() <-chan struct{}

	// InitiateFlow returns a new session to counterparty. The responder registered for
	// protocol is started on the first message sent or received.
	InitiateFlow(counterparty core.HoldingIdentity, protocol string) Session

	// InitiatingSession returns the session that started a responder flow.
	InitiatingSession() (Session, bool)

	Sleep(d time.Duration) error

	// CallExternal sends payload to the external handler and suspends until it responds.
	CallExternal(handlerID string, payload []byte) ([]byte, error)
}

type Session interface {
	ID() string

	Counterparty() core.HoldingIdentity

	Send(payload []byte) error

	Receive() ([]byte, error)

	SendAndReceive(payload []byte) ([]byte, error)

	Close() error
}
