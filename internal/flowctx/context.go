// Package flowctx holds the context threaded through the stages of the flow event
// pipeline, and the interfaces of the handlers the stages dispatch to.
package flowctx

import (
	"context"
	"log/slog"

	"github.com/corda/corda-runtime-os-sub030/config"
	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/checkpoint"
	"github.com/corda/corda-runtime-os-sub030/internal/fiber"
)

// FlowEventContext is the unit of work of one processing pass. Stages mutate it in place.
type FlowEventContext struct {
	Checkpoint *checkpoint.FlowCheckpoint

	InputEvent *core.FlowEvent

	// InputEventPayload is the attributes of InputEvent.
	InputEventPayload interface{}

	Config config.Config

	// OutputRecords only ever grows during a pass.
	OutputRecords []*core.Record

	SendToDLQ bool

	// IsRetryEvent is set when the pass re-processes an event that failed transiently.
	IsRetryEvent bool

	Logger *slog.Logger
}

func (fc *FlowEventContext) AddOutputRecords(records ...*core.Record) {
	fc.OutputRecords = append(fc.OutputRecords, records...)
}

// EventHandler performs the type specific admission of an event to its flow.
type EventHandler interface {
	EventType() core.FlowEventType

	Preprocess(ctx context.Context, fc *FlowEventContext) error
}

// WaitingForHandler decides if a suspended flow can be resumed with the current context.
type WaitingForHandler interface {
	Kind() core.WaitingForKind

	RunOrContinue(ctx context.Context, fc *FlowEventContext, waitingFor *core.WaitingFor) (Continuation, error)
}

// RequestHandler processes a request issued by a suspended, finished or failed fiber.
type RequestHandler interface {
	RequestType() core.RequestType

	// GetUpdatedWaitingFor returns what the flow waits for after issuing the request, nil
	// for requests that end the flow.
	GetUpdatedWaitingFor(ctx context.Context, fc *FlowEventContext, request core.FlowIORequest) (*core.WaitingFor, error)

	PostProcess(ctx context.Context, fc *FlowEventContext, request core.FlowIORequest) error
}

type continuationKind int

const (
	continuationStaySuspended continuationKind = iota
	continuationRun
)

// Continuation is the decision of a WaitingForHandler.
type Continuation struct {
	kind   continuationKind
	Resume fiber.Resume
}

// StaySuspended leaves the flow suspended until the next event.
var StaySuspended = Continuation{kind: continuationStaySuspended}

// Run resumes the flow with the given value.
func Run(resume fiber.Resume) Continuation {
	return Continuation{kind: continuationRun, Resume: resume}
}

// RunWithError resumes the flow with err returned from the call it is suspended on.
func RunWithError(err error) Continuation {
	return Continuation{kind: continuationRun, Resume: fiber.Resume{Err: err}}
}

func (c Continuation) IsStaySuspended() bool {
	return c.kind == continuationStaySuspended
}
