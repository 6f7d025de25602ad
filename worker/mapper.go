package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/log"
)

// mapper routes session events between flows hosted by the same worker and turns scheduled
// wakeups into Wakeup events. Its routes live in memory only.
type mapper struct {
	clock  clock.Clock
	logger *slog.Logger
	submit func(ctx context.Context, r *core.Record) error

	mu      sync.Mutex
	routes  map[string]*route
	timers  map[*clock.Timer]struct{}
	stopped bool
}

type route struct {
	initiator string
	responder string
}

func newMapper(c clock.Clock, logger *slog.Logger, submit func(ctx context.Context, r *core.Record) error) *mapper {
	return &mapper{
		clock:  c,
		logger: logger,
		submit: submit,
		routes: make(map[string]*route),
		timers: make(map[*clock.Timer]struct{}),
	}
}

// ResponderFlowID returns the id of the flow answering the given session.
func ResponderFlowID(sessionID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("session:"+sessionID+":initiated")).String()
}

// routeSession delivers a session event sent by flow from to the flow on the other side.
func (m *mapper) routeSession(ctx context.Context, from string, event *core.SessionEvent) error {
	m.mu.Lock()
	r, ok := m.routes[event.SessionID]
	if !ok {
		if event.Type != core.SessionEventType_Init {
			m.mu.Unlock()
			m.logger.WarnContext(ctx, "dropping session event for unknown session",
				log.SessionIDKey, event.SessionID, log.FlowIDKey, from, "type", event.Type)
			return nil
		}

		r = &route{initiator: from, responder: ResponderFlowID(event.SessionID)}
		m.routes[event.SessionID] = r
	}
	m.mu.Unlock()

	var to string
	switch from {
	case r.initiator:
		to = r.responder
	case r.responder:
		to = r.initiator
	default:
		return fmt.Errorf("flow %v is not part of session %v", from, event.SessionID)
	}

	m.logger.DebugContext(ctx, "routing session event",
		log.SessionIDKey, event.SessionID, log.FlowIDKey, to, "type", event.Type)

	return m.submit(ctx, core.NewRecord(core.FlowEventTopic, to, core.NewSessionFlowEvent(to, event)))
}

// scheduleCleanup forgets the route of a session once expiry has passed. Keys that are not
// session ids are ignored.
func (m *mapper) scheduleCleanup(c *core.ScheduleCleanup) {
	m.after(c.Expiry.Sub(m.clock.Now()), func() {
		m.mu.Lock()
		delete(m.routes, c.Key)
		m.mu.Unlock()
	})
}

func (m *mapper) scheduleWakeup(w *core.ScheduleWakeup) {
	m.after(w.WakeAt.Sub(m.clock.Now()), func() {
		r := core.NewRecord(core.FlowEventTopic, w.FlowID, core.NewWakeupEvent(w.FlowID, w.WakeAt))
		if err := m.submit(context.Background(), r); err != nil {
			m.logger.Error("could not deliver wakeup", log.FlowIDKey, w.FlowID, "error", err)
		}
	})
}

func (m *mapper) after(d time.Duration, f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	var t *clock.Timer
	t = m.clock.AfterFunc(d, func() {
		m.mu.Lock()
		delete(m.timers, t)
		m.mu.Unlock()

		f()
	})
	m.timers[t] = struct{}{}
}

func (m *mapper) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = true
	for t := range m.timers {
		t.Stop()
	}
	m.timers = nil
}

func (m *mapper) pendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.timers)
}
