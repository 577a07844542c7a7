package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swiftfs/swiftfs/pkg/errors"
)

func fastConfig(attempts int) Config {
	config := DefaultConfig()
	config.MaxAttempts = attempts
	config.InitialDelay = time.Millisecond
	config.MaxDelay = 5 * time.Millisecond
	config.Jitter = false
	return config
}

func TestRetryer_DefaultIsSingleAttempt(t *testing.T) {
	retryer := New(Config{})
	assert.Equal(t, 1, retryer.MaxAttempts())

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.NewTransportError(503, "unavailable")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNetworkError))
}

func TestRetryer_RetriesRetryableErrors(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.NewTransportError(0, "connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryer_StopsOnNonRetryable(t *testing.T) {
	retryer := New(fastConfig(5))

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.NewNotFoundError("a")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, errors.IsNotFound(err))
}

func TestRetryer_ForeignErrorsAreNotRetried(t *testing.T) {
	retryer := New(fastConfig(5))

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return fmt.Errorf("plain failure")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryer_ReturnsLastErrorWhenExhausted(t *testing.T) {
	var delays []time.Duration
	retryer := New(fastConfig(3)).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	})

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.NewTransportError(500, fmt.Sprintf("attempt %d", attempts))
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "attempt 3")
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestRetryer_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := New(fastConfig(3)).Do(ctx, func(context.Context) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.False(t, called)
	assert.True(t, errors.IsCode(err, errors.ErrCodeOperationCanceled))
}

func TestRetryer_DelayIsCapped(t *testing.T) {
	config := fastConfig(10)
	config.InitialDelay = time.Second
	config.MaxDelay = 3 * time.Second
	retryer := New(config)

	assert.Equal(t, time.Second, retryer.calculateDelay(1))
	assert.Equal(t, 2*time.Second, retryer.calculateDelay(2))
	assert.Equal(t, 3*time.Second, retryer.calculateDelay(5))
}
