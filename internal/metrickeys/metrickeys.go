package metrickeys

const (
	Prefix = "flow."

	EventReceived      = Prefix + "event.received"
	EventReplayed      = Prefix + "event.replayed"
	EventDiscarded     = Prefix + "event.discarded"
	PipelineExecution  = Prefix + "pipeline.execution_time"
	FiberExecution     = Prefix + "fiber.execution_time"
	FiberExit          = Prefix + "fiber.exit"
	FiberTimeout       = Prefix + "fiber.timeout"
	FlowCompleted      = Prefix + "completed"
	FlowFailed         = Prefix + "failed"
	FlowKilled         = Prefix + "killed"
	FlowRetry          = Prefix + "retry"
	FlowDeadLettered   = Prefix + "dlq"
	FlowEventException = Prefix + "event_exception"

	FiberCacheSize     = Prefix + "fiber.cache.size"
	FiberCacheEviction = Prefix + "fiber.cache.eviction"

	SessionMessagesSent = Prefix + "session.messages_sent"

	WorkerCommitRetries = Prefix + "worker.commit_retries"
	OutboxPublished     = Prefix + "outbox.published"

	FlowStartRequested = Prefix + "start_requested"
)

// Tag names
const (
	// Backend being used
	Backend = "backend"

	// Reason for evicting an entry from the fiber cache
	EvictionReason = "reason"

	EventType   = "event_type"
	Suspended   = "suspended"
	RequestType = "request_type"
	Outcome     = "outcome"
)
