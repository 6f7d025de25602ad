package worker

import (
	"time"

	"github.com/benbjohnson/clock"
)

type Options struct {
	// Partitions is the number of partition goroutines. Events of one flow always go to the same
	// partition and are processed in order. Defaults to 4.
	Partitions int

	// PartitionBuffer is the number of events buffered per partition. Defaults to 64.
	PartitionBuffer int

	// OutboxBatchSize is the maximum number of outbox records relayed at once. Defaults to 100.
	OutboxBatchSize int

	// OutboxPollingInterval is the interval between outbox polls. Stores implementing
	// backend.OutboxNotifier wake the relay earlier. Defaults to 200ms.
	OutboxPollingInterval time.Duration

	// RetryInitialInterval and RetryMaxElapsedTime bound the retries of store and publisher
	// operations. Defaults to 10ms and 30 seconds.
	RetryInitialInterval time.Duration
	RetryMaxElapsedTime  time.Duration

	// RouteSessionsLocally delivers session events between flows hosted by this worker instead
	// of publishing them. Enabled in DefaultOptions.
	RouteSessionsLocally bool

	// Publisher receives every record not consumed by the worker itself. Defaults to logging
	// the record.
	Publisher Publisher

	// DeadLetterSink is notified of events marked for the dead letter queue, after they have
	// been committed to the store's dead letters.
	DeadLetterSink DeadLetterSink

	// Clock schedules wakeups. Defaults to the store's clock.
	Clock clock.Clock
}

var DefaultOptions = Options{
	Partitions:            4,
	PartitionBuffer:       64,
	OutboxBatchSize:       100,
	OutboxPollingInterval: 200 * time.Millisecond,
	RetryInitialInterval:  10 * time.Millisecond,
	RetryMaxElapsedTime:   30 * time.Second,
	RouteSessionsLocally:  true,
}

func (o *Options) withDefaults() *Options {
	r := *o

	if r.Partitions <= 0 {
		r.Partitions = DefaultOptions.Partitions
	}

	if r.PartitionBuffer < 0 {
		r.PartitionBuffer = 0
	}

	if r.OutboxBatchSize <= 0 {
		r.OutboxBatchSize = DefaultOptions.OutboxBatchSize
	}

	if r.OutboxPollingInterval <= 0 {
		r.OutboxPollingInterval = DefaultOptions.OutboxPollingInterval
	}

	if r.RetryInitialInterval <= 0 {
		r.RetryInitialInterval = DefaultOptions.RetryInitialInterval
	}

	if r.RetryMaxElapsedTime <= 0 {
		r.RetryMaxElapsedTime = DefaultOptions.RetryMaxElapsedTime
	}

	return &r
}
