// Package retry provides a bounded retry loop shared by the
// components that need "try, back off linearly, try again, give up
// after N attempts" — the Journal's connection setup and the
// Publisher's channel setup and delivery retries. Expressed as a loop
// rather than recursive self-calls (SPEC_FULL.md's note on unbounded
// recursion in retry paths) so a long outage can't grow the stack.
package retry

import (
	"context"
	"time"
)

// Linear calls fn with attempt numbers starting at 1. If fn returns
// nil, Linear returns nil immediately. If fn returns an error and
// attempt has reached maxAttempts, that error is returned. Otherwise
// Linear sleeps for backoff(attempt) (or returns ctx.Err() if ctx is
// cancelled first) and tries again.
func Linear(ctx context.Context, maxAttempts int, backoff func(attempt int) time.Duration, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if attempt >= maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
	return lastErr
}

// TwiceAttempt is the "2 × attempt seconds" backoff used by the
// Journal and the Publisher's setup path.
func TwiceAttempt(attempt int) time.Duration {
	return time.Duration(2*attempt) * time.Second
}

// FiveTimesAttempt is the "5 × attempt seconds" backoff used by the
// Publisher's unroutable-message retry path.
func FiveTimesAttempt(attempt int) time.Duration {
	return time.Duration(5*attempt) * time.Second
}
