package breaker

import (
	"sync"
	"time"

	"github.com/blipee/aiqueue/src/models"
)

// State of a circuit breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

const (
	DefaultFailureThreshold = 3
	DefaultRecoveryTimeout  = 30 * time.Second
)

// CircuitBreaker guards one provider. closed -> open after failureThreshold
// consecutive failures; open -> half-open after recoveryTimeout, admitting
// exactly one trial call; the trial's outcome decides closed vs open again.
type CircuitBreaker struct {
	provider         string
	failureThreshold int
	recoveryTimeout  time.Duration

	mu             sync.Mutex
	state          State
	failures       int
	lastTransition time.Time
	trialInFlight  bool

	now func() time.Time
}

func New(provider string, failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = DefaultRecoveryTimeout
	}
	return &CircuitBreaker{
		provider:         provider,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            StateClosed,
		lastTransition:   time.Now(),
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. When the recovery timeout has
// elapsed on an open breaker it transitions to half-open and admits a single
// trial; concurrent callers during the trial are rejected.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.lastTransition) >= b.recoveryTimeout {
			b.transition(StateHalfOpen)
			b.trialInFlight = true
			return nil
		}
		return models.ErrProviderUnavailable
	default: // half-open
		if b.trialInFlight {
			return models.ErrProviderUnavailable
		}
		b.trialInFlight = true
		return nil
	}
}

// ReportSuccess records a successful call outcome.
func (b *CircuitBreaker) ReportSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialInFlight = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// ReportFailure records a failed call outcome.
func (b *CircuitBreaker) ReportFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trialInFlight = false
	switch b.state {
	case StateHalfOpen:
		// Failed trial restarts the recovery timeout.
		b.transition(StateOpen)
	case StateClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.transition(StateOpen)
		}
	}
}

// State returns the current state.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Open reports whether the breaker currently rejects all calls.
func (b *CircuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.lastTransition) >= b.recoveryTimeout {
		// A trial would be admitted; treat as routable.
		return false
	}
	return b.state == StateOpen
}

func (b *CircuitBreaker) transition(s State) {
	b.state = s
	b.lastTransition = b.now()
	if s == StateClosed {
		b.failures = 0
	}
}

// Set holds the breakers for all configured providers.
type Set struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	failureThreshold int
	recoveryTimeout  time.Duration
}

func NewSet(failureThreshold int, recoveryTimeout time.Duration) *Set {
	return &Set{
		breakers:         make(map[string]*CircuitBreaker),
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

// For returns the breaker for a provider, creating it closed on first use.
func (s *Set) For(provider string) *CircuitBreaker {
	s.mu.RLock()
	b, ok := s.breakers[provider]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[provider]; ok {
		return b
	}
	b = New(provider, s.failureThreshold, s.recoveryTimeout)
	s.breakers[provider] = b
	return b
}
