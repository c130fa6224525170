package middleware

import (
	"context"
	"time"

	"github.com/robelmit/paidwork/job"
)

// Timeout returns middleware that enforces a uniform execution deadline
// on every handler call. When the deadline is exceeded the context is
// cancelled and the handler should return context.DeadlineExceeded.
//
// It is not installed by default; add it through engine.WithMiddleware
// when handlers can hang on external services.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *job.Job, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
