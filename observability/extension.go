package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/robelmit/paidwork/batch"
	"github.com/robelmit/paidwork/ext"
	"github.com/robelmit/paidwork/job"
	"github.com/robelmit/paidwork/ledger"
)

// meterName is the instrumentation scope name for the extension.
const meterName = "github.com/robelmit/paidwork/observability"

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobEnqueued    = (*MetricsExtension)(nil)
	_ ext.JobCompleted   = (*MetricsExtension)(nil)
	_ ext.JobFailed      = (*MetricsExtension)(nil)
	_ ext.JobRetrying    = (*MetricsExtension)(nil)
	_ ext.BatchReady     = (*MetricsExtension)(nil)
	_ ext.CreditRecorded = (*MetricsExtension)(nil)
	_ ext.RefundIssued   = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters. Register it
// as an extension to track enqueue rates, completion counts, failure
// rates, retries, batch completions, and wallet activity.
type MetricsExtension struct {
	jobEnqueued  metric.Int64Counter
	jobCompleted metric.Int64Counter
	jobFailed    metric.Int64Counter
	jobRetried   metric.Int64Counter
	batchReady   metric.Int64Counter
	credits      metric.Int64Counter
	refunds      metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. With no provider configured the instruments are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a specific
// MeterProvider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	// On error the OTel API returns noop instruments, so the extension
	// degrades gracefully.
	m.jobEnqueued, _ = meter.Int64Counter("paidwork.job.enqueued",
		metric.WithDescription("Total number of jobs enqueued"),
		metric.WithUnit("{job}"))
	m.jobCompleted, _ = meter.Int64Counter("paidwork.job.completed",
		metric.WithDescription("Total number of jobs completed"),
		metric.WithUnit("{job}"))
	m.jobFailed, _ = meter.Int64Counter("paidwork.job.failed",
		metric.WithDescription("Total number of jobs failed terminally"),
		metric.WithUnit("{job}"))
	m.jobRetried, _ = meter.Int64Counter("paidwork.job.retried",
		metric.WithDescription("Total number of job retries scheduled"),
		metric.WithUnit("{retry}"))
	m.batchReady, _ = meter.Int64Counter("paidwork.batch.ready",
		metric.WithDescription("Total number of batches that fired ready"),
		metric.WithUnit("{batch}"))
	m.credits, _ = meter.Int64Counter("paidwork.ledger.credits",
		metric.WithDescription("Total number of credits recorded"),
		metric.WithUnit("{entry}"))
	m.refunds, _ = meter.Int64Counter("paidwork.ledger.refunds",
		metric.WithDescription("Total number of refunds issued"),
		metric.WithUnit("{entry}"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func queueAttrs(j *job.Job) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("job_name", j.Name),
		attribute.String("queue", j.Queue),
	)
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.jobEnqueued.Add(ctx, 1, queueAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.jobCompleted.Add(ctx, 1, queueAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.jobFailed.Add(ctx, 1, queueAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.jobRetried.Add(ctx, 1, queueAttrs(j))
	return nil
}

// OnBatchReady implements ext.BatchReady.
func (m *MetricsExtension) OnBatchReady(ctx context.Context, groupID string, _ int, artifacts []batch.Artifact) error {
	m.batchReady.Add(ctx, 1, metric.WithAttributes(
		attribute.String("group_id", groupID),
		attribute.Int("artifacts", len(artifacts)),
	))
	return nil
}

// OnCreditRecorded implements ext.CreditRecorded.
func (m *MetricsExtension) OnCreditRecorded(ctx context.Context, e *ledger.Entry) error {
	m.credits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", e.Provider),
		attribute.String("currency", e.Amount.Currency),
	))
	return nil
}

// OnRefundIssued implements ext.RefundIssued.
func (m *MetricsExtension) OnRefundIssued(ctx context.Context, e *ledger.Entry) error {
	m.refunds.Add(ctx, 1, metric.WithAttributes(
		attribute.String("currency", e.Amount.Currency),
	))
	return nil
}
