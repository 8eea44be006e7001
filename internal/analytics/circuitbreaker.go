package analytics

import (
	"errors"
	"sync"
	"time"
)

// State of a circuit breaker
type State string

const (
	StateClosed   State = "closed"    // delivering normally
	StateOpen     State = "open"      // collector failing, batches are rejected
	StateHalfOpen State = "half-open" // probing for recovery
)

var (
	// ErrCircuitOpen is returned while the breaker rejects calls
	ErrCircuitOpen = errors.New("analytics: circuit breaker is open")
	// ErrTooManyInFlight is returned when MaxConcurrent calls are running
	ErrTooManyInFlight = errors.New("analytics: too many in-flight deliveries")
)

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // half-open successes before closing
	Cooldown         time.Duration // time open before probing
	MaxConcurrent    int           // 0 = unlimited
	OnStateChange    func(from, to State)
	// Now is the breaker clock; nil uses time.Now
	Now func() time.Time
}

// DefaultBreakerConfig returns defaults sized for a batch collector
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
		MaxConcurrent:    10,
	}
}

// CircuitBreaker stops delivery attempts to a failing collector
type CircuitBreaker struct {
	config *BreakerConfig

	mu         sync.Mutex
	state      State
	failures   int
	successes  int
	openedAt   time.Time
	inFlight   int
	rejected   int64
	callbackWg sync.WaitGroup
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(config *BreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultBreakerConfig()
	}
	defaults := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaults.SuccessThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = defaults.Cooldown
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &CircuitBreaker{config: config, state: StateClosed}
}

// Execute runs fn unless the breaker rejects it
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.acquire(); err != nil {
		return err
	}
	err := fn()
	cb.release(err)
	return err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.config.Now().Sub(cb.openedAt) < cb.config.Cooldown {
			cb.rejected++
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		// one probe at a time
		if cb.inFlight > 0 {
			cb.rejected++
			return ErrCircuitOpen
		}
	default:
		if cb.config.MaxConcurrent > 0 && cb.inFlight >= cb.config.MaxConcurrent {
			cb.rejected++
			return ErrTooManyInFlight
		}
	}

	cb.inFlight++
	return nil
}

func (cb *CircuitBreaker) release(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.inFlight--
	if err != nil {
		cb.failures++
		cb.successes = 0
		if cb.state == StateHalfOpen || cb.failures >= cb.config.FailureThreshold {
			cb.open()
		}
		return
	}

	cb.successes++
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		if cb.successes >= cb.config.SuccessThreshold {
			cb.failures = 0
			cb.setState(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.config.Now()
	cb.setState(StateOpen)
}

// setState must be called with mu held
func (cb *CircuitBreaker) setState(next State) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.successes = 0

	if cb.config.OnStateChange != nil {
		cb.callbackWg.Add(1)
		go func() {
			defer cb.callbackWg.Done()
			cb.config.OnStateChange(prev, next)
		}()
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Rejected returns the number of calls refused so far
func (cb *CircuitBreaker) Rejected() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.rejected
}

// Reset closes the breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.setState(StateClosed)
}

// Close waits for pending state-change callbacks
func (cb *CircuitBreaker) Close() {
	cb.callbackWg.Wait()
}
