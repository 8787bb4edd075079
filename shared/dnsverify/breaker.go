package dnsverify

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of the circuit breaker
type CircuitState string

const (
	// StateClosed lets lookups through
	StateClosed CircuitState = "closed"
	// StateOpen fails lookups fast
	StateOpen CircuitState = "open"
	// StateHalfOpen lets one trial lookup through
	StateHalfOpen CircuitState = "half-open"
)

var (
	// ErrCircuitOpen is returned while the breaker is open
	ErrCircuitOpen = errors.New("dns circuit breaker is open")
	// ErrTooManyRequests is returned when a trial lookup is already in flight
	ErrTooManyRequests = errors.New("dns circuit breaker is half-open")
)

// CircuitBreaker stops calling a failing nameserver set for a while
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mutex       sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
	halfOpenReq int
}

// NewCircuitBreaker opens after maxFailures consecutive failures and retries after resetTimeout
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  1,
		state:        StateClosed,
	}
}

// Call runs fn unless the breaker is open
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mutex.Lock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFailure) <= cb.resetTimeout {
			cb.mutex.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.halfOpenReq = 0
	}

	if cb.state == StateHalfOpen {
		if cb.halfOpenReq >= cb.halfOpenMax {
			cb.mutex.Unlock()
			return ErrTooManyRequests
		}
		cb.halfOpenReq++
	}

	cb.mutex.Unlock()

	err := fn()

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if err != nil {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return nil
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.lastFailure = time.Now()

	if cb.state == StateHalfOpen {
		cb.state = StateOpen
		cb.failures = cb.maxFailures
	} else if cb.failures >= cb.maxFailures {
		cb.state = StateOpen
	}
}

func (cb *CircuitBreaker) onSuccess() {
	// a slow call that started before the breaker opened must not close it
	if cb.state == StateOpen {
		return
	}
	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenReq = 0
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Guarded puts a CircuitBreaker in front of a Resolver. Only lookup failures count; a
// domain without records is a success.
type Guarded struct {
	next    Resolver
	breaker *CircuitBreaker
}

// NewGuarded wraps next
func NewGuarded(next Resolver, breaker *CircuitBreaker) *Guarded {
	return &Guarded{next: next, breaker: breaker}
}

func (g *Guarded) LookupTXT(ctx context.Context, domain string) ([]string, error) {
	var (
		records   []string
		lookupErr error
	)
	err := g.breaker.Call(func() error {
		records, lookupErr = g.next.LookupTXT(ctx, domain)
		if errors.Is(lookupErr, context.Canceled) {
			// the caller went away; not the nameserver's fault
			return nil
		}
		return lookupErr
	})
	if err != nil {
		return nil, err
	}
	if lookupErr != nil {
		return nil, lookupErr
	}
	return records, nil
}
