// Package retry provides exponential backoff for operations that fail
// transiently, such as server selection when every worker is saturated.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/lingvolabs/optilayer/pkg/errors"
)

// Config defines retry behavior.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier grows the delay after each retry.
	Multiplier float64 `yaml:"multiplier"`

	// Jitter randomizes delays to avoid synchronized retries.
	Jitter bool `yaml:"jitter"`

	// RetryableCodes lists the error codes worth retrying. Anything else
	// fails immediately.
	RetryableCodes []errors.ErrorCode `yaml:"-"`

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-"`
}

// DefaultConfig retries the transient conditions a saturated cluster or a
// flaky backing store produces.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  4,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableCodes: []errors.ErrorCode{
			errors.ErrCodeNoServersAvailable,
			errors.ErrCodeBackingStoreUnavailable,
		},
	}
}

// Retryer executes functions with exponential backoff.
type Retryer struct {
	config Config
}

// New returns a Retryer, filling zero config values with defaults.
func New(config Config) *Retryer {
	def := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = def.Multiplier
	}
	if config.RetryableCodes == nil {
		config.RetryableCodes = def.RetryableCodes
	}
	return &Retryer{config: config}
}

// Do runs fn until it succeeds, returns a non-retryable error, exhausts the
// attempt budget, or the context is canceled.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !r.retryable(lastErr) || attempt == r.config.MaxAttempts {
			return lastErr
		}

		delay := r.delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func (r *Retryer) retryable(err error) bool {
	for _, code := range r.config.RetryableCodes {
		if errors.HasCode(err, code) {
			return true
		}
	}
	return false
}

// delay computes the backoff for the given attempt, capped at MaxDelay and
// jittered by up to 25% when enabled.
func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		d += d * 0.25 * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}
