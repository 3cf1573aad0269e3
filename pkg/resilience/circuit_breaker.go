package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError reports which peer is short-circuited and for how long.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	retryAfter := e.RetryAfter
	if retryAfter < 0 {
		retryAfter = 0
	}
	return fmt.Sprintf("%v for %s: retry in %s", ErrCircuitOpen, e.Name, retryAfter)
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

type CircuitBreakerState string

const (
	CircuitClosed   CircuitBreakerState = "closed"
	CircuitOpen     CircuitBreakerState = "open"
	CircuitHalfOpen CircuitBreakerState = "half_open"
)

type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// OpenTimeout is how long an open circuit rejects calls before one probe is let through.
	OpenTimeout time.Duration
}

type breaker struct {
	state     CircuitBreakerState
	failures  int
	openUntil time.Time
	probing   bool
}

// BreakerSet keeps one circuit per peer so an unreachable peer fails fast
// instead of consuming a full timeout on every round.
type BreakerSet struct {
	mu       sync.Mutex
	cfg      CircuitBreakerConfig
	breakers map[string]*breaker
	now      func() time.Time
}

func NewBreakerSet(cfg CircuitBreakerConfig) *BreakerSet {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	return &BreakerSet{
		cfg:      cfg,
		breakers: make(map[string]*breaker),
		now:      time.Now,
	}
}

// State returns the current state of a peer's circuit.
func (s *BreakerSet) State(name string) CircuitBreakerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.getLocked(name)
	s.refreshLocked(b)
	return b.state
}

// Execute runs fn unless the peer's circuit is open.
func (s *BreakerSet) Execute(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := s.before(name); err != nil {
		return err
	}

	err := fn(ctx)
	if errors.Is(err, context.Canceled) {
		s.release(name)
		return err
	}
	s.after(name, err == nil)
	return err
}

// Forget drops a peer's circuit, e.g. after the peer left the deployment.
func (s *BreakerSet) Forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakers, name)
}

func (s *BreakerSet) before(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.getLocked(name)
	s.refreshLocked(b)
	switch b.state {
	case CircuitOpen:
		return &CircuitOpenError{Name: name, RetryAfter: b.openUntil.Sub(s.now())}
	case CircuitHalfOpen:
		if b.probing {
			return &CircuitOpenError{Name: name}
		}
		b.probing = true
	}
	return nil
}

func (s *BreakerSet) after(name string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.getLocked(name)
	b.probing = false
	if ok {
		b.state = CircuitClosed
		b.failures = 0
		return
	}
	b.failures++
	if b.state == CircuitHalfOpen || b.failures >= s.cfg.FailureThreshold {
		b.state = CircuitOpen
		b.openUntil = s.now().Add(s.cfg.OpenTimeout)
		b.failures = 0
	}
}

func (s *BreakerSet) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getLocked(name).probing = false
}

func (s *BreakerSet) getLocked(name string) *breaker {
	b, ok := s.breakers[name]
	if !ok {
		b = &breaker{state: CircuitClosed}
		s.breakers[name] = b
	}
	return b
}

func (s *BreakerSet) refreshLocked(b *breaker) {
	if b.state == CircuitOpen && !s.now().Before(b.openUntil) {
		b.state = CircuitHalfOpen
		b.probing = false
	}
}
