package ledger

import (
	"context"
	"time"

	"delex/internal/failure"
)

// withRetry re-runs fn with exponential backoff while retryable(err) holds.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries || !retryable(err) || ctx.Err() != nil {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}

		delay *= 2
	}
}

// retryable reports whether a read failure may succeed on a second attempt.
// Reverts are deterministic and wallet decisions are final.
func retryable(err error) bool {
	switch failure.KindOf(err) {
	case failure.NetworkTimeout, failure.Unknown:
		return true
	default:
		return false
	}
}
