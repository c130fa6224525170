package settlehook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithLedger enables refunds on terminal failure through the given
// wallet. Without it, failed paid jobs are not refunded by this hook.
func WithLedger(w RefundLedger) Option {
	return func(e *Extension) { e.wallet = w }
}

// WithBatchSink enables artifact reporting for batch members.
func WithBatchSink(s ArtifactSink) Option {
	return func(e *Extension) { e.batches = s }
}

// WithLogger sets a custom logger for the extension.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}
