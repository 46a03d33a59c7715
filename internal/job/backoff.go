package job

import (
	"context"
	"time"
)

// Backoff returns the delay before poll attempt n (starting at 0).
type Backoff func(attempt int) time.Duration

// SleepFunc waits for d or until ctx is done, returning ctx.Err() in the latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

func ConstantBackoff(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// ExponentialBackoff grows the delay from initial by multiplier per attempt, capped at maxDelay.
func ExponentialBackoff(initial, maxDelay time.Duration, multiplier float64) Backoff {
	if multiplier < 1 {
		multiplier = 1
	}
	return func(attempt int) time.Duration {
		d := float64(initial)
		for i := 0; i < attempt; i++ {
			d *= multiplier
			if d >= float64(maxDelay) {
				return maxDelay
			}
		}
		if d > float64(maxDelay) {
			return maxDelay
		}
		return time.Duration(d)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
