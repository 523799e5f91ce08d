// Package retry provides a generic bounded-retry-with-backoff executor
// for fallible provider calls.
package retry

import (
	"context"
	"log/slog"
	"time"

	"gorecs/internal/core"
	"gorecs/internal/observability"
)

// Policy configures one retry sequence. Policies are constructed per call
// site and never persisted.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	// 1 means exactly one try; values below 1 are treated as 1.
	MaxAttempts int

	// InitialDelay is the sleep before the second attempt. Subsequent
	// delays grow by Multiplier, capped at MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Classify decides whether a failure is worth another attempt.
	// A nil Classify uses core.Retryable. A classifier that always
	// returns false degenerates to "try once".
	Classify func(error) bool

	// Label identifies the operation in diagnostics.
	Label string
}

// DefaultPolicy returns the policy used for provider calls unless
// configuration overrides it.
func DefaultPolicy(label string) Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Classify:     core.Retryable,
		Label:        label,
	}
}

// Do runs op under the policy, returning its first success. Once attempts
// are exhausted, or the classifier declares a failure non-retryable, the
// last error is propagated unchanged. Context cancellation aborts the
// inter-attempt sleep and returns ctx.Err().
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T

	classify := p.Classify
	if classify == nil {
		classify = core.Retryable
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	delay := time.Duration(0)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		// Diagnostic only; never affects control flow.
		observability.RetryAttempts.WithLabelValues(p.Label).Inc()
		slog.Debug("retry attempt", "operation", p.Label, "attempt", attempt, "delay", delay)

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !classify(err) {
			slog.Debug("failure not retryable", "operation", p.Label, "attempt", attempt, "error", err)
			break
		}
		delay = p.nextDelay(delay)
	}
	return zero, lastErr
}

// nextDelay grows the backoff: InitialDelay first, then multiplied
// (doubling by default), capped at MaxDelay.
func (p Policy) nextDelay(current time.Duration) time.Duration {
	if current <= 0 {
		return p.InitialDelay
	}
	multiplier := p.Multiplier
	if multiplier <= 1 {
		multiplier = 2.0
	}
	next := time.Duration(float64(current) * multiplier)
	if p.MaxDelay > 0 && next > p.MaxDelay {
		next = p.MaxDelay
	}
	return next
}
