// Package checkpoint wraps the persisted state of a flow for the duration of one
// processing pass.
package checkpoint

import (
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/corda/corda-runtime-os-sub030/core"
)

var ErrCheckpointExists = errors.New("checkpoint already exists")

// FlowCheckpoint is the mutable view of a checkpoint used by the pipeline stages. It keeps
// a snapshot of the state it was loaded with, so a pass can be rolled back.
type FlowCheckpoint struct {
	state *core.CheckpointState

	// snapshot is the state as loaded, or as initialised when the pass created it.
	snapshot *core.CheckpointState

	deleted bool

	clock           clock.Clock
	maxSavedOutputs int
}

// New returns a checkpoint working on a copy of state, which may be nil for flows that do not
// have a checkpoint yet. The caller's state is never modified.
func New(state *core.CheckpointState, clock clock.Clock, maxSavedOutputs int) (*FlowCheckpoint, error) {
	c := &FlowCheckpoint{
		clock:           clock,
		maxSavedOutputs: maxSavedOutputs,
	}

	if state != nil {
		if state.FlowID == "" {
			return nil, errors.New("checkpoint without flow id")
		}

		working, err := state.Clone()
		if err != nil {
			return nil, fmt.Errorf("copying checkpoint state: %w", err)
		}

		snapshot, err := state.Clone()
		if err != nil {
			return nil, fmt.Errorf("taking checkpoint snapshot: %w", err)
		}

		c.state = working
		c.snapshot = snapshot
	}

	return c, nil
}

// Exists returns true when the flow has a checkpoint, including one that was marked as
// deleted during this pass.
func (c *FlowCheckpoint) Exists() bool {
	return c.state != nil
}

// InitFlowState creates the checkpoint of a new flow.
func (c *FlowCheckpoint) InitFlowState(flowID string, startContext *core.FlowStartContext) error {
	if c.state != nil {
		return fmt.Errorf("%w: %s", ErrCheckpointExists, c.state.FlowID)
	}

	c.state = &core.CheckpointState{
		FlowID:       flowID,
		StartContext: startContext,
		WaitingFor:   core.WaitingForStartFlow(),
	}

	snapshot, err := c.state.Clone()
	if err != nil {
		return fmt.Errorf("taking checkpoint snapshot: %w", err)
	}
	c.snapshot = snapshot

	return nil
}

func (c *FlowCheckpoint) FlowID() string {
	return c.state.FlowID
}

func (c *FlowCheckpoint) StartContext() *core.FlowStartContext {
	return c.state.StartContext
}

func (c *FlowCheckpoint) FlowKey() core.FlowKey {
	return c.state.StartContext.StatusKey
}

func (c *FlowCheckpoint) HoldingIdentity() core.HoldingIdentity {
	return c.state.StartContext.Identity
}

func (c *FlowCheckpoint) Fiber() []byte {
	return c.state.Fiber
}

func (c *FlowCheckpoint) SetFiber(b []byte) {
	c.state.Fiber = b
}

func (c *FlowCheckpoint) WaitingFor() *core.WaitingFor {
	return c.state.WaitingFor
}

func (c *FlowCheckpoint) SetWaitingFor(wf *core.WaitingFor) {
	c.state.WaitingFor = wf
}

func (c *FlowCheckpoint) SuspendedOn() string {
	return c.state.SuspendedOn
}

func (c *FlowCheckpoint) SetSuspendedOn(requestType string) {
	c.state.SuspendedOn = requestType
}

func (c *FlowCheckpoint) Sessions() []*core.SessionState {
	return c.state.Sessions
}

func (c *FlowCheckpoint) GetSession(sessionID string) (*core.SessionState, bool) {
	for _, s := range c.state.Sessions {
		if s.SessionID == sessionID {
			return s, true
		}
	}

	return nil, false
}

// PutSession adds the session or replaces the session with the same id.
func (c *FlowCheckpoint) PutSession(session *core.SessionState) {
	for i, s := range c.state.Sessions {
		if s.SessionID == session.SessionID {
			c.state.Sessions[i] = session
			return
		}
	}

	c.state.Sessions = append(c.state.Sessions, session)
}

// InitiatingSession returns the session that started a responder flow.
func (c *FlowCheckpoint) InitiatingSession() (*core.SessionState, bool) {
	for _, s := range c.state.Sessions {
		if s.Initiated {
			return s, true
		}
	}

	return nil, false
}

func (c *FlowCheckpoint) ExternalEventState() *core.ExternalEventState {
	return c.state.ExternalEventState
}

func (c *FlowCheckpoint) SetExternalEventState(s *core.ExternalEventState) {
	c.state.ExternalEventState = s
}

func (c *FlowCheckpoint) InRetryState() bool {
	return c.state != nil && c.state.RetryState != nil
}

func (c *FlowCheckpoint) RetryState() *core.RetryState {
	return c.state.RetryState
}

func (c *FlowCheckpoint) CurrentRetryCount() int {
	if !c.InRetryState() {
		return 0
	}

	return c.state.RetryState.RetryCount
}

// MarkForRetry records a transient failure of event.
func (c *FlowCheckpoint) MarkForRetry(event *core.FlowEvent, err error) {
	now := c.clock.Now().UTC()

	rs := c.state.RetryState
	if rs == nil {
		rs = &core.RetryState{FirstFailureTimestamp: now}
		c.state.RetryState = rs
	}

	rs.RetryCount++
	rs.LastFailureTimestamp = now
	rs.Error = core.NewExceptionEnvelope(err)
	rs.FailedEvent = event
}

// MarkRetrySuccess clears the retry state after the failed event was processed.
func (c *FlowCheckpoint) MarkRetrySuccess() {
	c.state.RetryState = nil
}

// ResetRetryCount restarts the count of consecutive transient failures. The failed event is
// kept until its retry wakeup redelivers it.
func (c *FlowCheckpoint) ResetRetryCount() {
	if !c.InRetryState() {
		return
	}

	c.state.RetryState.RetryCount = 0
}

func (c *FlowCheckpoint) SavedOutputs() []*core.SavedOutputs {
	if c.state == nil {
		return nil
	}

	return c.state.SavedOutputs
}

// AppendSavedOutputs adds outputs, dropping the oldest entries beyond the configured bound.
func (c *FlowCheckpoint) AppendSavedOutputs(outputs *core.SavedOutputs) {
	if c.maxSavedOutputs <= 0 {
		return
	}

	saved := append(c.state.SavedOutputs, outputs)
	if len(saved) > c.maxSavedOutputs {
		saved = saved[len(saved)-c.maxSavedOutputs:]
	}

	c.state.SavedOutputs = saved
}

// MarkDeleted deletes the checkpoint when the pass is committed.
func (c *FlowCheckpoint) MarkDeleted() {
	c.deleted = true
}

func (c *FlowCheckpoint) IsDeleted() bool {
	return c.deleted
}

// Rollback discards all changes made during this pass. A checkpoint created during this
// pass is rolled back to its initial state.
func (c *FlowCheckpoint) Rollback() error {
	c.deleted = false

	if c.snapshot == nil {
		c.state = nil
		return nil
	}

	state, err := c.snapshot.Clone()
	if err != nil {
		return fmt.Errorf("restoring checkpoint snapshot: %w", err)
	}

	c.state = state

	return nil
}

// ToState returns the state to persist, nil when the checkpoint is deleted.
func (c *FlowCheckpoint) ToState() *core.CheckpointState {
	if c.deleted {
		return nil
	}

	return c.state
}
