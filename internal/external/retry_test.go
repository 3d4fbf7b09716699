package external

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingPolicy returns a policy that records sleeps instead of waiting.
func recordingPolicy(attempts int) (RetryPolicy, *[]time.Duration) {
	var slept []time.Duration
	p := DefaultRetryPolicy()
	p.Attempts = attempts
	p.rnd = func() float64 { return 0.5 } // no jitter
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return p, &slept
}

func unavailable() error {
	return &GeocodeError{Adapter: "fake", Kind: KindUnavailable}
}

func TestRetry_BackoffSchedule(t *testing.T) {
	p, slept := recordingPolicy(3)
	calls := 0
	err := Retry(context.Background(), p, zap.NewNop(), "fake", func(context.Context) error {
		calls++
		return unavailable()
	})
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestRetry_SucceedsAfterRetry(t *testing.T) {
	p, slept := recordingPolicy(3)
	calls := 0
	err := Retry(context.Background(), p, nil, "fake", func(context.Context) error {
		calls++
		if calls == 1 {
			return &GeocodeError{Kind: KindTimeout}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, *slept, 1)
}

func TestRetry_NonRetryableReturnsImmediately(t *testing.T) {
	for _, kind := range []ErrorKind{KindQuotaExceeded, KindInvalidRequest, KindDecode, KindCancelled} {
		t.Run(string(kind), func(t *testing.T) {
			p, slept := recordingPolicy(3)
			calls := 0
			err := Retry(context.Background(), p, nil, "fake", func(context.Context) error {
				calls++
				return &GeocodeError{Kind: kind}
			})
			assert.Equal(t, kind, KindOf(err))
			assert.Equal(t, 1, calls)
			assert.Empty(t, *slept)
		})
	}

	plain := errors.New("boom")
	p, _ := recordingPolicy(3)
	err := Retry(context.Background(), p, nil, "fake", func(context.Context) error { return plain })
	assert.Same(t, plain, err)
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, _ := recordingPolicy(5)
	calls := 0
	err := Retry(ctx, p, nil, "fake", func(context.Context) error {
		calls++
		cancel()
		return unavailable()
	})
	assert.True(t, IsUnavailable(err), "last error wins over ctx error")
	assert.Equal(t, 1, calls)

	calls = 0
	err = Retry(ctx, p, nil, "fake", func(context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()
	p.rnd = func() float64 { return 0.5 }
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(3))

	p.rnd = func() float64 { return 1 }
	assert.Equal(t, 1200*time.Millisecond, p.Delay(1))
	p.rnd = func() float64 { return 0 }
	assert.Equal(t, 800*time.Millisecond, p.Delay(1))

	p.Jitter = 0
	assert.Equal(t, 2*time.Second, p.Delay(2))
}

func TestSleepCtx(t *testing.T) {
	require.NoError(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}
