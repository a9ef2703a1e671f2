// Package circuit guards the asset origin with a circuit breaker so a
// degraded CDN or object store cannot stall every fetch.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	// StateClosed lets requests through.
	StateClosed State = iota
	// StateOpen rejects requests immediately.
	StateOpen
	// StateHalfOpen lets a probe request test whether the origin recovered.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrOpen is returned while the breaker rejects requests.
	ErrOpen = errors.New("circuit breaker open, origin degraded")
	// ErrProbeBusy is returned when the half-open probe slot is taken.
	ErrProbeBusy = errors.New("circuit breaker probing, try later")
)

// Config tunes the breaker.
type Config struct {
	// FailureThreshold is the consecutive failure count that opens the
	// breaker.
	FailureThreshold int `yaml:"failure_threshold"`
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration `yaml:"timeout"`
	// OnStateChange is called on every transition.
	OnStateChange func(from, to State) `yaml:"-"`
}

// Counts tracks request outcomes inside the current state.
type Counts struct {
	Requests            uint32
	Successes           uint32
	Failures            uint32
	ConsecutiveFailures uint32
}

// Breaker is a closed/open/half-open circuit breaker keyed to one origin.
type Breaker struct {
	config Config

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a breaker, filling defaults for zero values.
func NewBreaker(config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Breaker{config: config, state: StateClosed}
}

// Execute runs fn if the breaker allows it, recording the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err == nil)
	return err
}

// allow decides whether a request may proceed right now.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.counts.Requests++
		return nil
	case StateOpen:
		if time.Since(b.openedAt) < b.config.Timeout {
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		// One probe at a time.
		if b.probing {
			return ErrProbeBusy
		}
		b.probing = true
		b.counts.Requests++
		return nil
	}
	return nil
}

// record applies a request outcome to the state machine.
func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.counts.Successes++
		b.counts.ConsecutiveFailures = 0
		if b.state == StateHalfOpen {
			b.probing = false
			b.transition(StateClosed)
		}
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++

	switch b.state {
	case StateClosed:
		if int(b.counts.ConsecutiveFailures) >= b.config.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.probing = false
		b.transition(StateOpen)
	}
}

// transition moves to the new state. Caller holds the lock.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}

	b.state = to
	b.counts = Counts{}
	b.probing = false
	if to == StateOpen {
		b.openedAt = time.Now()
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(from, to)
	}
}

// State returns the current state, advancing open to half-open when the
// timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.openedAt) >= b.config.Timeout {
		b.transition(StateHalfOpen)
	}
	return b.state
}

// GetCounts returns a copy of the counts for the current state.
func (b *Breaker) GetCounts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset force-closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.counts = Counts{}
}
