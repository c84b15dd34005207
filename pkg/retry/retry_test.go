package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingvolabs/optilayer/pkg/errors"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	cfg.Jitter = false
	return cfg
}

func TestRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	r := New(fastConfig())
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New(errors.ErrCodeNoServersAvailable, "all workers saturated")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()

	r := New(fastConfig())
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("translation model rejected the input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestAttemptBudgetExhausted(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.MaxAttempts = 3
	var retries []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		retries = append(retries, attempt)
	}

	r := New(cfg)
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New(errors.ErrCodeBackingStoreUnavailable, "store down")
	})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeBackingStoreUnavailable))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestContextCancelStopsRetrying(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.InitialDelay = time.Minute
	r := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, func(context.Context) error {
		return errors.New(errors.ErrCodeNoServersAvailable, "all workers saturated")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelayGrowthAndCap(t *testing.T) {
	t.Parallel()

	r := New(Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       false,
		MaxAttempts:  10,
	})
	assert.Equal(t, 100*time.Millisecond, r.delay(1))
	assert.Equal(t, 400*time.Millisecond, r.delay(3))
	assert.Equal(t, time.Second, r.delay(6), "capped at MaxDelay")
}
