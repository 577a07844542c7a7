// Package retry provides an opt-in exponential backoff policy for store requests.
//
// Nothing in SwiftFS retries implicitly: the zero Config performs exactly one
// attempt, and callers raise MaxAttempts to enable retries.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/swiftfs/swiftfs/pkg/errors"
)

// Config defines retry behavior
type Config struct {
	// MaxAttempts counts the initial attempt. Values below 2 disable retries.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`

	// Jitter spreads delays by ±20%.
	Jitter bool `yaml:"jitter" json:"jitter"`

	// RetryableErrors lists codes retried even when the error is not flagged Retryable.
	RetryableErrors []errors.ErrorCode `yaml:"retryable_errors" json:"retryable_errors"`

	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultConfig returns the single-attempt policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  1,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeConnectionTimeout,
			errors.ErrCodeNetworkError,
		},
	}
}

// Retryer runs functions under a Config.
type Retryer struct {
	config Config
}

// New creates a Retryer, filling zero values from DefaultConfig.
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

	return &Retryer{config: config}
}

// MaxAttempts returns the configured attempt budget.
func (r *Retryer) MaxAttempts() int {
	return r.config.MaxAttempts
}

// Do executes fn until it succeeds, fails with a non-retryable error, the
// attempt budget runs out or ctx is done. The last error is returned as is.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return errors.NewError(errors.ErrCodeOperationCanceled, "operation canceled").WithCause(err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.shouldRetry(err, attempt) {
			return err
		}

		delay := r.calculateDelay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}

func (r *Retryer) shouldRetry(err error, attempt int) bool {
	if attempt >= r.config.MaxAttempts {
		return false
	}

	sfErr, ok := errors.As(err)
	if !ok {
		return false
	}
	if sfErr.Retryable {
		return true
	}
	for _, code := range r.config.RetryableErrors {
		if sfErr.Code == code {
			return true
		}
	}
	return false
}

// calculateDelay returns InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		jitter := delay * 0.2 * (rand.Float64()*2 - 1)
		delay += jitter
	}

	return time.Duration(delay)
}

// WithMaxAttempts returns a copy with a different attempt budget.
func (r *Retryer) WithMaxAttempts(attempts int) *Retryer {
	newConfig := r.config
	newConfig.MaxAttempts = attempts
	return New(newConfig)
}

// WithOnRetry returns a copy with a retry callback.
func (r *Retryer) WithOnRetry(callback func(attempt int, err error, delay time.Duration)) *Retryer {
	newConfig := r.config
	newConfig.OnRetry = callback
	return New(newConfig)
}
