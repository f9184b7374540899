package archive

import (
	"context"
	"time"
)

// RetryPolicy is a bounded exponential backoff strategy for upstream
// requests.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy matches the config defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// Do runs fn until it succeeds, attempts are exhausted, or the context is
// cancelled. It returns the number of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		if lastErr = fn(); lastErr == nil {
			return attempt, nil
		}

		if attempt == attempts {
			break
		}

		if err := sleepCtx(ctx, delay); err != nil {
			return attempt, err
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}

	return attempts, lastErr
}

// sleepCtx sleeps for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
