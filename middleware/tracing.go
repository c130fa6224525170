package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/robelmit/paidwork/job"
)

// tracerName is the instrumentation scope name for paidwork tracing.
const tracerName = "github.com/robelmit/paidwork"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: paidwork.job.id, paidwork.job.name, paidwork.queue,
// paidwork.attempt, paidwork.account_id, paidwork.batch_group.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "paidwork.job.execute",
			trace.WithAttributes(
				attribute.String("paidwork.job.id", j.ID.String()),
				attribute.String("paidwork.job.name", j.Name),
				attribute.String("paidwork.queue", j.Queue),
				attribute.Int("paidwork.attempt", j.Attempts),
				attribute.String("paidwork.account_id", j.AccountID.String()),
				attribute.String("paidwork.batch_group", j.BatchGroup),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
