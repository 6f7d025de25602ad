package monoprocess

import (
	"context"
	"log/slog"
	"time"

	"github.com/corda/corda-runtime-os-sub030/backend"
)

type monoprocessStore struct {
	backend.Store

	outboxSignal  chan struct{}
	signalTimeout time.Duration

	logger *slog.Logger
}

var _ backend.OutboxNotifier = (*monoprocessStore)(nil)

// NewMonoprocessStore wraps an existing store and signals every commit that adds records to
// the outbox, so a relay running in the same process does not have to wait for its next poll.
// Only one listener is woken per signal.
// IMPORTANT: Only use this store if the store and the relay are running in the same process.
func NewMonoprocessStore(s backend.Store, signalBufferSize int, signalTimeout time.Duration) *monoprocessStore {
	if signalTimeout <= 0 {
		signalTimeout = time.Second
	}

	return &monoprocessStore{
		Store:         s,
		outboxSignal:  make(chan struct{}, signalBufferSize),
		signalTimeout: signalTimeout,
		logger:        s.Options().Logger,
	}
}

func (b *monoprocessStore) Commit(ctx context.Context, c *backend.Commit) error {
	if err := b.Store.Commit(ctx, c); err != nil {
		return err
	}

	if len(c.Records) > 0 {
		b.notifyOutbox(ctx)
	}

	return nil
}

func (b *monoprocessStore) OutboxSignal() <-chan struct{} {
	return b.outboxSignal
}

func (b *monoprocessStore) notifyOutbox(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, b.signalTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		// The relay picks the records up on its next poll
		b.logger.DebugContext(ctx, "failed to signal outbox records to relay", "reason", ctx.Err())
		return false
	case b.outboxSignal <- struct{}{}:
		b.logger.DebugContext(ctx, "signalled new outbox records to relay")
		return true
	}
}
