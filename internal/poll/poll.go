// Package poll centralizes the bounded wait-and-check loops used for slow
// provider-side state (call status, recording availability).
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted means the condition did not become true within maxAttempts.
var ErrExhausted = errors.New("polling attempts exhausted")

// CheckFunc reports whether the awaited condition holds. A non-nil error
// aborts the loop immediately.
type CheckFunc func(ctx context.Context) (done bool, err error)

// Until waits interval, runs check, and repeats up to maxAttempts times.
// The delay comes first: provider state is never ready the instant after the
// triggering request.
func Until(ctx context.Context, interval time.Duration, maxAttempts int, check CheckFunc) error {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		timer.Reset(interval)
	}

	return ErrExhausted
}
