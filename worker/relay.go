package worker

import (
	"context"
	"fmt"

	"github.com/corda/corda-runtime-os-sub030/backend"
	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/metrickeys"
	"github.com/corda/corda-runtime-os-sub030/log"
	"github.com/corda/corda-runtime-os-sub030/metrics"
)

// relay moves committed records out of the store's outbox until ctx is canceled. Records are
// acknowledged only after they were routed, so delivery is at least once.
func (w *Worker) relay(ctx context.Context) {
	defer close(w.relayDone)

	ticker := w.clock.Ticker(w.options.OutboxPollingInterval)
	defer ticker.Stop()

	var signal <-chan struct{}
	if n, ok := w.store.(backend.OutboxNotifier); ok {
		signal = n.OutboxSignal()
	}

	for {
		n, err := w.relayBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			w.logger.ErrorContext(ctx, "could not relay outbox", "error", err)
		} else if n == w.options.OutboxBatchSize {
			// More records are likely waiting
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-signal:
		}
	}
}

func (w *Worker) relayBatch(ctx context.Context) (int, error) {
	entries, err := w.store.GetOutbox(ctx, w.options.OutboxBatchSize)
	if err != nil {
		return 0, fmt.Errorf("reading outbox: %w", err)
	}

	if len(entries) == 0 {
		return 0, nil
	}

	var routeErr error
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if err := w.route(ctx, e); err != nil {
			routeErr = fmt.Errorf("routing outbox record %v: %w", e.ID, err)
			break
		}

		ids = append(ids, e.ID)
	}

	if len(ids) > 0 {
		if err := w.retry(ctx, "ack_outbox", func() error {
			return w.store.AckOutbox(ctx, ids...)
		}); err != nil {
			return 0, fmt.Errorf("acknowledging outbox: %w", err)
		}

		w.metrics.Counter(metrickeys.OutboxPublished, metrics.Tags{}, int64(len(ids)))
	}

	return len(ids), routeErr
}

func (w *Worker) route(ctx context.Context, e *backend.OutboxEntry) error {
	switch p := e.Record.Payload.(type) {
	case *core.FlowEvent:
		return w.Submit(ctx, e.Record)

	case *core.FlowMapperEvent:
		if p.ScheduleWakeup != nil {
			w.mapper.scheduleWakeup(p.ScheduleWakeup)
			return nil
		}

		if w.options.RouteSessionsLocally {
			switch {
			case p.SessionEvent != nil:
				return w.mapper.routeSession(ctx, e.FlowID, p.SessionEvent)
			case p.ScheduleCleanup != nil:
				w.mapper.scheduleCleanup(p.ScheduleCleanup)
				return nil
			}
		}
	}

	return w.retry(ctx, "publish", func() error {
		if err := w.options.Publisher.Publish(ctx, e.Record); err != nil {
			w.logger.DebugContext(ctx, "publishing failed", log.TopicKey, e.Record.Topic, "error", err)
			return err
		}

		return nil
	})
}
