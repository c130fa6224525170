// Package observability provides an OpenTelemetry-based metrics
// extension for paidwork. The MetricsExtension implements lifecycle
// hooks to record system-wide counters for job, batch, and ledger
// events.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
