package circuit

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swiftfs/swiftfs/internal/swifttest"
	"github.com/swiftfs/swiftfs/pkg/errors"
)

var (
	errUnavailable = errors.NewTransportError(503, "GET answered 503 Service Unavailable")
	errNoResponse  = errors.NewTransportError(0, "GET request failed")
)

func fail(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func succeed(context.Context) error { return nil }

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "CLOSED"},
		{StateOpen, "OPEN"},
		{StateHalfOpen, "HALF_OPEN"},
		{State(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("media", Config{})

	assert.Equal(t, "media", cb.Name())
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(5), cb.config.FailureThreshold)
	assert.Equal(t, uint32(1), cb.config.MaxRequests)
	assert.Equal(t, 60*time.Second, cb.config.Interval)
	assert.Equal(t, 30*time.Second, cb.config.Timeout)
	assert.NotNil(t, cb.config.ReadyToTrip)
	assert.NotNil(t, cb.config.IsSuccessful)
}

func TestIsStoreHealthy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"not found", errors.NewNotFoundError("a.txt"), true},
		{"conflict", errors.NewTransportError(409, "PUT answered 409 Conflict"), true},
		{"unauthorized", errors.NewTransportError(401, "GET answered 401 Unauthorized"), true},
		{"server error", errUnavailable, false},
		{"no response", errNoResponse, false},
		{"timeout", errors.NewError(errors.ErrCodeConnectionTimeout, "dial timeout"), false},
		{"validation", errors.NewError(errors.ErrCodeValidationFailed, "bad range"), true},
		{"plain error", fmt.Errorf("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsStoreHealthy(tt.err))
		})
	}
}

func TestCircuitBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	t.Parallel()

	clock := swifttest.NewClock(time.Unix(1700000000, 0))
	var transitions []string
	cb := NewCircuitBreaker("media", Config{
		FailureThreshold: 3,
		Timeout:          10 * time.Second,
		Clock:            clock,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, fmt.Sprintf("%s:%s->%s", name, from, to))
		},
	})
	ctx := context.Background()

	// A 404 in between resets the consecutive count.
	assert.Error(t, cb.ExecuteWithContext(ctx, fail(errUnavailable)))
	assert.Error(t, cb.ExecuteWithContext(ctx, fail(errUnavailable)))
	assert.Error(t, cb.ExecuteWithContext(ctx, fail(errors.NewNotFoundError("a"))))
	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		assert.Error(t, cb.ExecuteWithContext(ctx, fail(errNoResponse)))
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.ExecuteWithContext(ctx, func(context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNetworkError))
	assert.True(t, stderrors.Is(err, ErrOpenState))

	clock.Advance(10 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.ExecuteWithContext(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{
		"media:CLOSED->OPEN",
		"media:OPEN->HALF_OPEN",
		"media:HALF_OPEN->CLOSED",
	}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	clock := swifttest.NewClock(time.Unix(1700000000, 0))
	cb := NewCircuitBreaker("media", Config{FailureThreshold: 1, Timeout: time.Second, Clock: clock})
	ctx := context.Background()

	require.Error(t, cb.ExecuteWithContext(ctx, fail(errUnavailable)))
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(time.Second)
	require.Error(t, cb.ExecuteWithContext(ctx, fail(errUnavailable)))
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(999 * time.Millisecond)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()

	clock := swifttest.NewClock(time.Unix(1700000000, 0))
	cb := NewCircuitBreaker("media", Config{FailureThreshold: 1, Timeout: time.Second, Clock: clock})
	ctx := context.Background()

	require.Error(t, cb.ExecuteWithContext(ctx, fail(errUnavailable)))
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.ExecuteWithContext(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := cb.ExecuteWithContext(ctx, succeed)
	assert.True(t, stderrors.Is(err, ErrTooManyRequests))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_IntervalClearsCounts(t *testing.T) {
	t.Parallel()

	clock := swifttest.NewClock(time.Unix(1700000000, 0))
	cb := NewCircuitBreaker("media", Config{FailureThreshold: 2, Interval: time.Minute, Clock: clock})
	ctx := context.Background()

	require.Error(t, cb.ExecuteWithContext(ctx, fail(errUnavailable)))
	assert.Equal(t, uint32(1), cb.Counts().ConsecutiveFailures)

	clock.Advance(time.Minute)
	require.Error(t, cb.ExecuteWithContext(ctx, fail(errUnavailable)))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Counts().Requests)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("media", Config{FailureThreshold: 1})
	require.Error(t, cb.ExecuteWithContext(context.Background(), fail(errUnavailable)))
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, Counts{}, cb.Counts())
}

func TestManager(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{FailureThreshold: 1})
	media := m.GetBreaker("media")
	assert.Same(t, media, m.GetBreaker("media"))
	logs := m.GetBreaker("logs")
	assert.NotSame(t, media, logs)

	require.NoError(t, m.HealthCheck())

	require.Error(t, media.ExecuteWithContext(context.Background(), fail(errUnavailable)))
	require.NoError(t, logs.ExecuteWithContext(context.Background(), succeed))

	stats := m.GetStats()
	require.Len(t, stats, 2)
	assert.Equal(t, "logs", stats[0].Name)
	assert.Equal(t, StateClosed, stats[0].State)
	assert.Equal(t, uint32(1), stats[0].Counts.TotalSuccesses)
	assert.Equal(t, "media", stats[1].Name)
	assert.Equal(t, StateOpen, stats[1].State)

	err := m.HealthCheck()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "media")
}

func TestManager_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cb := m.GetBreaker(fmt.Sprintf("container-%d", i%5))
			_ = cb.ExecuteWithContext(context.Background(), succeed)
		}(i)
	}
	wg.Wait()

	assert.Len(t, m.GetStats(), 5)
}
