// Package breaker implements the named circuit-breaker state machines that
// gate calls to the external engine. Each circuit tracks failures for one
// logical operation class and is shared by all concurrent callers of that
// class.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the circuit state.
type State string

// Circuit states.
const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// ErrCircuitOpen is returned when a request is rejected without attempting
// the operation because the circuit is open.
var ErrCircuitOpen = errors.New("circuit open")

// Config controls one circuit.
type Config struct {
	// FailureThreshold is the number of consecutive countable failures that
	// opens the circuit.
	FailureThreshold uint32
	// ResetTimeout is how long an open circuit waits before allowing a probe.
	ResetTimeout time.Duration
	// ShouldTrip reports whether a failure counts toward FailureThreshold.
	// Nil means every failure counts.
	ShouldTrip func(error) bool
}

// Snapshot is a point-in-time view of a circuit, for health reporting.
type Snapshot struct {
	Name            string
	State           State
	FailureCount    uint32
	LastFailureTime time.Time
	NextAttemptTime time.Time
}

// Breaker is a single named circuit. All state transitions happen under the
// mutex; the gated operation itself runs outside it.
type Breaker struct {
	name  string
	cfg   Config
	clock func() time.Time

	// onTransition, if set, is called outside the lock after a state change.
	onTransition func(name string, from, to State)

	mu              sync.Mutex
	state           State
	failureCount    uint32
	lastFailureTime time.Time
	nextAttemptTime time.Time
	probing         bool
}

// New creates a closed circuit with the given name and config.
func New(name string, cfg Config, clock func() time.Time, onTransition func(name string, from, to State)) *Breaker {
	if clock == nil {
		clock = time.Now
	}
	return &Breaker{
		name:         name,
		cfg:          cfg,
		clock:        clock,
		onTransition: onTransition,
		state:        StateClosed,
	}
}

// Do runs op under the circuit's gate. When the circuit is open and the reset
// timeout has not elapsed, op is not invoked and ErrCircuitOpen is returned.
// In half-open state exactly one probe is allowed through at a time.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	probe, err := b.allow()
	if err != nil {
		return err
	}

	opErr := op(ctx)
	if opErr != nil {
		b.onFailure(probe, opErr)
		return opErr
	}

	b.onSuccess(probe)
	return nil
}

// allow decides whether a request may proceed. It returns whether the request
// is a half-open probe.
func (b *Breaker) allow() (probe bool, err error) {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return false, nil

	case StateOpen:
		if b.clock().Before(b.nextAttemptTime) {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		from := b.state
		b.state = StateHalfOpen
		b.probing = true
		b.mu.Unlock()
		b.notify(from, StateHalfOpen)
		return true, nil

	default: // StateHalfOpen
		if b.probing {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		b.probing = true
		b.mu.Unlock()
		return true, nil
	}
}

func (b *Breaker) onSuccess(probe bool) {
	b.mu.Lock()

	from := b.state
	if probe {
		b.probing = false
	}

	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.failureCount = 0
		b.mu.Unlock()
		b.notify(from, StateClosed)
	case StateClosed:
		b.failureCount = 0
		b.mu.Unlock()
	default:
		b.mu.Unlock()
	}
}

func (b *Breaker) onFailure(probe bool, err error) {
	countable := b.cfg.ShouldTrip == nil || b.cfg.ShouldTrip(err)

	b.mu.Lock()

	from := b.state
	if probe {
		b.probing = false
	}

	if !countable {
		// Caller-fault errors say nothing about engine health.
		b.mu.Unlock()
		return
	}

	now := b.clock()
	b.lastFailureTime = now

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.nextAttemptTime = now.Add(b.cfg.ResetTimeout)
		b.mu.Unlock()
		b.notify(from, StateOpen)

	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.nextAttemptTime = now.Add(b.cfg.ResetTimeout)
			b.mu.Unlock()
			b.notify(from, StateOpen)
			return
		}
		b.mu.Unlock()

	default:
		b.mu.Unlock()
	}
}

// Reset forces the circuit closed with zero counters, for operational
// recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.probing = false
	b.lastFailureTime = time.Time{}
	b.nextAttemptTime = time.Time{}
	b.mu.Unlock()

	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a point-in-time view of the circuit.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:            b.name,
		State:           b.state,
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
		NextAttemptTime: b.nextAttemptTime,
	}
}

func (b *Breaker) notify(from, to State) {
	if b.onTransition != nil && from != to {
		b.onTransition(b.name, from, to)
	}
}
