package flowctx

import "github.com/corda/corda-runtime-os-sub030/core"

// Response is the outcome of processing one event: the state to persist, nil when the
// checkpoint is deleted, and the records to emit with it.
type Response struct {
	UpdatedState   *core.CheckpointState
	ResponseEvents []*core.Record
	MarkForDLQ     bool
}

// ToResponse converts the context at the end of a pass.
func (fc *FlowEventContext) ToResponse() Response {
	r := Response{
		ResponseEvents: fc.OutputRecords,
		MarkForDLQ:     fc.SendToDLQ,
	}

	if !fc.SendToDLQ {
		r.UpdatedState = fc.Checkpoint.ToState()
	}

	return r
}
