// Package circuit implements an opt-in circuit breaker for store requests.
//
// A breaker counts transport failures (5xx answers and requests that never
// got a response). Not-found and other 4xx answers count as successes: the
// store is reachable and answering.
package circuit

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/swiftfs/swiftfs/pkg/errors"
	"github.com/swiftfs/swiftfs/pkg/types"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - requests pass through
	StateClosed State = iota
	// StateOpen - requests are rejected without reaching the store
	StateOpen
	// StateHalfOpen - a limited number of probe requests pass through
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON stats.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config contains circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker when ReadyToTrip is nil.
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// Maximum number of probe requests while half-open
	MaxRequests uint32 `yaml:"max_requests"`

	// Period of the closed state after which counts are cleared
	Interval time.Duration `yaml:"interval"`

	// Period of the open state after which the breaker goes half-open
	Timeout time.Duration `yaml:"timeout"`

	ReadyToTrip   func(counts Counts) bool                `yaml:"-"`
	OnStateChange func(name string, from State, to State) `yaml:"-"`
	IsSuccessful  func(err error) bool                    `yaml:"-"`

	Clock types.Clock `yaml:"-"`
}

// Counts holds the numbers of requests and their successes/failures
type Counts struct {
	Requests             uint32    `json:"requests"`
	TotalSuccesses       uint32    `json:"total_successes"`
	TotalFailures        uint32    `json:"total_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	LastActivity         time.Time `json:"last_activity"`
}

// CircuitBreaker guards the requests of one container.
type CircuitBreaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// NewCircuitBreaker creates a closed breaker, filling zero config values.
func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ReadyToTrip == nil {
		threshold := config.FailureThreshold
		config.ReadyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		}
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = IsStoreHealthy
	}
	if config.Clock == nil {
		config.Clock = types.SystemClock{}
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
		expiry: config.Clock.Now().Add(config.Interval),
	}
}

// IsStoreHealthy reports whether err leaves the store's health unquestioned.
func IsStoreHealthy(err error) bool {
	if err == nil {
		return true
	}
	sfErr, ok := errors.As(err)
	if !ok {
		return false
	}
	switch sfErr.Code {
	case errors.ErrCodeNetworkError:
		return sfErr.HTTPStatus != 0 && sfErr.HTTPStatus < 500
	case errors.ErrCodeConnectionTimeout:
		return false
	default:
		return true
	}
}

// ExecuteWithContext runs fn if the breaker allows it. A rejected call
// returns a NETWORK_ERROR wrapping ErrOpenState or ErrTooManyRequests.
func (cb *CircuitBreaker) ExecuteWithContext(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return errors.NewError(errors.ErrCodeNetworkError, err.Error()).
			WithCause(err).
			WithComponent("circuit").
			WithContext("breaker", cb.name)
	}

	err := fn(ctx)
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.config.Clock.Now()
	state := cb.currentState(now)

	if state == StateOpen {
		return ErrOpenState
	}
	if state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests {
		return ErrTooManyRequests
	}

	cb.counts.onRequest(now)
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.config.Clock.Now()
	state := cb.currentState(now)

	if cb.config.IsSuccessful(err) {
		cb.counts.onSuccess()
		if state == StateHalfOpen {
			cb.setState(StateClosed, now)
		}
		return
	}

	cb.counts.onFailure()
	switch state {
	case StateClosed:
		if cb.config.ReadyToTrip(cb.counts) {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

func (cb *CircuitBreaker) currentState(now time.Time) State {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && !now.Before(cb.expiry) {
			cb.counts.clear()
			cb.expiry = now.Add(cb.config.Interval)
		}
	case StateOpen:
		if !now.Before(cb.expiry) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}
	prev := cb.state
	cb.state = state
	cb.counts.clear()

	switch state {
	case StateClosed:
		cb.expiry = now.Add(cb.config.Interval)
	case StateOpen:
		cb.expiry = now.Add(cb.config.Timeout)
	case StateHalfOpen:
		cb.expiry = time.Time{}
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
}

// State returns the current state, moving an expired open breaker to half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState(cb.config.Clock.Now())
}

// Counts returns a copy of the current counts
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset closes the breaker and clears its counts.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.counts.clear()
	cb.setState(StateClosed, cb.config.Clock.Now())
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (c *Counts) onRequest(now time.Time) {
	c.Requests++
	c.LastActivity = now
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() {
	*c = Counts{}
}

var (
	// ErrOpenState is returned when the circuit breaker is open
	ErrOpenState = stderrors.New("circuit breaker is open")

	// ErrTooManyRequests is returned when too many requests are made in half-open state
	ErrTooManyRequests = stderrors.New("too many requests in half-open state")
)

// Manager hands out one breaker per name, all sharing a Config.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   Config
}

// NewManager creates a new circuit breaker manager
func NewManager(config Config) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// GetBreaker gets or creates a circuit breaker with the given name
func (m *Manager) GetBreaker(name string) *CircuitBreaker {
	m.mu.RLock()
	if breaker, exists := m.breakers[name]; exists {
		m.mu.RUnlock()
		return breaker
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}

	breaker := NewCircuitBreaker(name, m.config)
	m.breakers[name] = breaker
	return breaker
}

// Stats is the snapshot of one breaker.
type Stats struct {
	Name   string `json:"name"`
	State  State  `json:"state"`
	Counts Counts `json:"counts"`
}

// GetStats returns a snapshot of every breaker, ordered by name.
func (m *Manager) GetStats() []Stats {
	m.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		breakers = append(breakers, breaker)
	}
	m.mu.RUnlock()

	sort.Slice(breakers, func(i, j int) bool { return breakers[i].name < breakers[j].name })

	stats := make([]Stats, 0, len(breakers))
	for _, breaker := range breakers {
		stats = append(stats, Stats{
			Name:   breaker.name,
			State:  breaker.State(),
			Counts: breaker.Counts(),
		})
	}
	return stats
}

// HealthCheck fails when any breaker is open.
func (m *Manager) HealthCheck() error {
	var open []string
	for _, stat := range m.GetStats() {
		if stat.State == StateOpen {
			open = append(open, stat.Name)
		}
	}
	if len(open) > 0 {
		return fmt.Errorf("circuit breakers open: %v", open)
	}
	return nil
}
