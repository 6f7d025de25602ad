package worker

import (
	"context"
	"log/slog"

	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/log"
)

// Publisher delivers records to the outside world, e.g. a message bus.
type Publisher interface {
	Publish(ctx context.Context, r *core.Record) error
}

// PublisherFunc adapts a function to a Publisher.
type PublisherFunc func(ctx context.Context, r *core.Record) error

func (f PublisherFunc) Publish(ctx context.Context, r *core.Record) error {
	return f(ctx, r)
}

// DeadLetterSink is notified of events that could not be processed.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, r *core.Record) error
}

type DeadLetterSinkFunc func(ctx context.Context, r *core.Record) error

func (f DeadLetterSinkFunc) DeadLetter(ctx context.Context, r *core.Record) error {
	return f(ctx, r)
}

type logPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher returns a publisher that logs every record.
func NewLogPublisher(logger *slog.Logger) Publisher {
	return &logPublisher{logger: logger}
}

func (p *logPublisher) Publish(ctx context.Context, r *core.Record) error {
	attrs := []any{log.TopicKey, r.Topic, "key", r.Key}

	switch v := r.Payload.(type) {
	case *core.FlowStatus:
		attrs = append(attrs, log.FlowIDKey, v.FlowID, "status", v.Status)
		if v.Result != "" {
			attrs = append(attrs, "result", v.Result)
		}
		if v.Error != nil {
			attrs = append(attrs, "error", v.Error.Error())
		}
	case *core.ExternalEvent:
		attrs = append(attrs, log.FlowIDKey, v.FlowID, "handler", v.HandlerID)
	}

	p.logger.InfoContext(ctx, "published record", attrs...)

	return nil
}
