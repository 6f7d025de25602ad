package log

const (
	NamespaceKey = "flow"

	FlowIDKey        = NamespaceKey + ".id"
	FlowNameKey      = NamespaceKey + ".name"
	RequestIDKey     = NamespaceKey + ".request.id"
	IdentityKey      = NamespaceKey + ".identity"
	InitiatorKey     = NamespaceKey + ".initiator"
	InitiatorTypeKey = NamespaceKey + ".initiator_type"

	EventTypeKey   = NamespaceKey + ".event.type"
	EventHashKey   = NamespaceKey + ".event.hash"
	IsRetryKey     = NamespaceKey + ".event.is_retry"
	WaitingForKey  = NamespaceKey + ".waiting_for"
	SuspendedOnKey = NamespaceKey + ".suspended_on"
	RequestTypeKey = NamespaceKey + ".io_request"

	SessionIDKey     = NamespaceKey + ".session.id"
	SessionStatusKey = NamespaceKey + ".session.status"

	RetryCountKey    = NamespaceKey + ".retry.count"
	MaxRetryCountKey = NamespaceKey + ".retry.max"

	PartitionKey = NamespaceKey + ".partition"
	TopicKey     = NamespaceKey + ".topic"
	RecordsKey   = NamespaceKey + ".records"

	DurationKey = NamespaceKey + ".duration_ms"
)
