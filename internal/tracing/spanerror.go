package tracing

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WithSpanError marks the span as failed and records the error's type when err is not nil.
// err is returned unchanged.
func WithSpanError(span trace.Span, err error) error {
	if err == nil {
		return nil
	}

	span.SetAttributes(attribute.String(Outcome, "error"))
	span.RecordError(err, trace.WithAttributes(attribute.String("error.type", fmt.Sprintf("%T", err))))
	span.SetStatus(codes.Error, err.Error())

	return err
}
