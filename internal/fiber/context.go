package fiber

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/flow"
)

// ErrNonDeterministic is reported when a resumed flow issues a different request than the
// one recorded in its journal.
var ErrNonDeterministic = errors.New("flow is not deterministic")

// flowContext is the flow.Context of one live fiber. It is only used from the fiber's
// own goroutine, except for the journal which the runner replaces while the fiber is
// blocked.
type flowContext struct {
	flowID     string
	start      *core.FlowStartContext
	initiating *core.SessionInfo
	logger     *slog.Logger

	co *coroutine

	journal []*entry
	cursor  int

	sessions  int
	externals int

	pending core.FlowIORequest
	result  string

	done     chan struct{}
	doneOnce sync.Once
}

var _ flow.Context = (*flowContext)(nil)

func (fc *flowContext) FlowID() string {
	return fc.flowID
}

func (fc *flowContext) Identity() core.HoldingIdentity {
	return fc.start.Identity
}

func (fc *flowContext) StartArgs() string {
	return fc.start.StartArgs
}

func (fc *flowContext) Logger() *slog.Logger {
	return fc.logger
}

func (fc *flowContext) Done() <-chan struct{} {
	return fc.done
}

func (fc *flowContext) cancel() {
	fc.doneOnce.Do(func() {
		close(fc.done)
	})
}

func (fc *flowContext) replaying() bool {
	return fc.cursor < len(fc.journal)
}

func (fc *flowContext) InitiateFlow(counterparty core.HoldingIdentity, protocol string) flow.Session {
	fc.sessions++

	return &session{
		fc: fc,
		info: core.SessionInfo{
			SessionID:    fc.deterministicID("session", fc.sessions),
			Counterparty: counterparty,
			Protocol:     protocol,
		},
	}
}

func (fc *flowContext) InitiatingSession() (flow.Session, bool) {
	if fc.initiating == nil {
		return nil, false
	}

	return &session{fc: fc, info: *fc.initiating}, true
}

func (fc *flowContext) Sleep(d time.Duration) error {
	e := fc.suspend(&core.SleepRequest{Duration: d})
	return e.err()
}

func (fc *flowContext) CallExternal(handlerID string, payload []byte) ([]byte, error) {
	fc.externals++

	e := fc.suspend(&core.ExternalEventRequest{
		RequestID: fc.deterministicID("external", fc.externals),
		HandlerID: handlerID,
		Payload:   payload,
	})

	if err := e.err(); err != nil {
		return nil, err
	}

	return e.Payload, nil
}

// deterministicID derives an id that is stable across re-executions of the flow.
func (fc *flowContext) deterministicID(kind string, n int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%s:%d", fc.flowID, kind, n))).String()
}

// suspend returns the recorded result of req, or yields to the runner until the result
// is known.
func (fc *flowContext) suspend(req core.FlowIORequest) *entry {
	if fc.replaying() {
		e := fc.journal[fc.cursor]
		if e.Type != req.RequestType() {
			panic(fmt.Errorf("%w: expected %s at position %d, got %s", ErrNonDeterministic, e.Type, fc.cursor, req.RequestType()))
		}

		fc.cursor++
		return e
	}

	fc.pending = req
	fc.co.yield()
	fc.pending = nil

	e := fc.journal[fc.cursor]
	fc.cursor++

	return e
}

type session struct {
	fc   *flowContext
	info core.SessionInfo
}

var _ flow.Session = (*session)(nil)

func (s *session) ID() string {
	return s.info.SessionID
}

func (s *session) Counterparty() core.HoldingIdentity {
	return s.info.Counterparty
}

func (s *session) Send(payload []byte) error {
	e := s.fc.suspend(&core.SendRequest{
		Messages: []core.SessionPayload{{SessionInfo: s.info, Payload: payload}},
	})

	return e.err()
}

func (s *session) Receive() ([]byte, error) {
	e := s.fc.suspend(&core.ReceiveRequest{Sessions: []core.SessionInfo{s.info}})
	if err := e.err(); err != nil {
		return nil, err
	}

	return e.Payloads[s.info.SessionID], nil
}

func (s *session) SendAndReceive(payload []byte) ([]byte, error) {
	e := s.fc.suspend(&core.SendAndReceiveRequest{
		Messages: []core.SessionPayload{{SessionInfo: s.info, Payload: payload}},
	})
	if err := e.err(); err != nil {
		return nil, err
	}

	return e.Payloads[s.info.SessionID], nil
}

func (s *session) Close() error {
	e := s.fc.suspend(&core.CloseSessionsRequest{SessionIDs: []string{s.info.SessionID}})
	return e.err()
}
