package backend

type Stats struct {
	// Checkpoints is the number of flows with a stored checkpoint
	Checkpoints int64

	// PendingOutbox is the number of records that have not been published yet
	PendingOutbox int64

	DeadLetters int64
}
