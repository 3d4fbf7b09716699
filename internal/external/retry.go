package external

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy is a bounded exponential backoff.
type RetryPolicy struct {
	Attempts   int
	BaseDelay  time.Duration
	Multiplier float64
	Jitter     float64 // fraction, 0.2 means ±20%

	// sleep and rnd are swapped out in tests
	sleep func(ctx context.Context, d time.Duration) error
	rnd   func() float64
}

// DefaultRetryPolicy: 3 attempts, 1s base delay, doubling, ±20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   3,
		BaseDelay:  time.Second,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

// Delay returns the wait before retry number n (1-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < n; i++ {
		d *= p.Multiplier
	}
	if p.Jitter > 0 {
		rnd := p.rnd
		if rnd == nil {
			rnd = rand.Float64
		}
		d *= 1 + p.Jitter*(2*rnd()-1)
	}
	return time.Duration(d)
}

// Retry calls fn until it succeeds, fails with a non-retryable error, the
// attempts run out or ctx is done. The last error is returned.
func Retry(ctx context.Context, p RetryPolicy, logger *zap.Logger, name string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err != nil {
				return err
			}
			return cerr
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt == attempts {
			return err
		}
		delay := p.Delay(attempt)
		if logger != nil {
			logger.Debug("Retrying external call",
				zap.String("operation", name),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		}
		if serr := sleep(ctx, delay); serr != nil {
			return err
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
