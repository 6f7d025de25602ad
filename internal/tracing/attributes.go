package tracing

const (
	FlowID        = "flow.id"
	FlowName      = "flow.name"
	RequestID     = "flow.request_id"
	Identity      = "flow.identity"
	Initiator     = "flow.initiator"
	EventType     = "flow.event.type"
	IsRetry       = "flow.event.is_retry"
	RequestType   = "flow.io_request"
	FiberOutcome  = "flow.fiber.outcome"
	Outcome       = "flow.outcome"
	OutputRecords = "flow.output_records"
)
