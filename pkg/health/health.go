// Package health tracks origin and cache component health so the host
// application can degrade gracefully when the CDN or object store
// misbehaves.
package health

import (
	"sync"
	"time"
)

// State represents the health of a tracked component.
type State int

const (
	// StateHealthy indicates the component is fully operational.
	StateHealthy State = iota

	// StateDegraded indicates repeated errors; operations still succeed
	// intermittently.
	StateDegraded

	// StateUnavailable indicates the component has stopped responding.
	StateUnavailable
)

// String returns the string representation of a health state.
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ComponentHealth is a point-in-time view of one component.
type ComponentHealth struct {
	Name              string    `json:"name"`
	State             State     `json:"state"`
	LastStateChange   time.Time `json:"last_state_change"`
	LastChecked       time.Time `json:"last_checked"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastErrorMessage  string    `json:"last_error_message,omitempty"`
}

// StateChangeCallback is called when a component transitions state.
type StateChangeCallback func(component string, from, to State)

// TrackerConfig configures the error thresholds.
type TrackerConfig struct {
	// DegradedThreshold is the consecutive error count that marks a
	// component degraded.
	DegradedThreshold int `yaml:"degraded_threshold"`

	// UnavailableThreshold is the consecutive error count that marks a
	// component unavailable.
	UnavailableThreshold int `yaml:"unavailable_threshold"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		DegradedThreshold:    3,
		UnavailableThreshold: 10,
	}
}

type componentState struct {
	health ComponentHealth
}

// Tracker aggregates per-component success/error streams into health
// states. A single success fully recovers a component; the origin either
// answers or it does not.
type Tracker struct {
	mu         sync.RWMutex
	config     TrackerConfig
	components map[string]*componentState
	onChange   StateChangeCallback
}

// NewTracker creates a tracker. Zero thresholds get defaults.
func NewTracker(config TrackerConfig) *Tracker {
	if config.DegradedThreshold <= 0 {
		config.DegradedThreshold = 3
	}
	if config.UnavailableThreshold <= config.DegradedThreshold {
		config.UnavailableThreshold = config.DegradedThreshold + 7
	}
	return &Tracker{
		config:     config,
		components: make(map[string]*componentState),
	}
}

// OnStateChange registers a callback invoked synchronously on every
// transition. Must be set before the tracker is shared.
func (t *Tracker) OnStateChange(callback StateChangeCallback) {
	t.onChange = callback
}

// Register adds a component in the healthy state. Registering twice is
// a no-op.
func (t *Tracker) Register(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.components[name]; exists {
		return
	}
	now := time.Now()
	t.components[name] = &componentState{
		health: ComponentHealth{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: now,
			LastChecked:     now,
		},
	}
}

// RecordSuccess marks one successful operation.
func (t *Tracker) RecordSuccess(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cs, exists := t.components[name]
	if !exists {
		return
	}
	cs.health.LastChecked = time.Now()
	cs.health.ConsecutiveErrors = 0
	cs.health.LastErrorMessage = ""
	t.transition(cs, StateHealthy)
}

// RecordError marks one failed operation.
func (t *Tracker) RecordError(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cs, exists := t.components[name]
	if !exists {
		return
	}
	cs.health.LastChecked = time.Now()
	cs.health.ConsecutiveErrors++
	if err != nil {
		cs.health.LastErrorMessage = err.Error()
	}

	switch {
	case cs.health.ConsecutiveErrors >= t.config.UnavailableThreshold:
		t.transition(cs, StateUnavailable)
	case cs.health.ConsecutiveErrors >= t.config.DegradedThreshold:
		t.transition(cs, StateDegraded)
	}
}

// GetState returns a component's state. Unregistered components report
// unavailable.
func (t *Tracker) GetState(name string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if cs, exists := t.components[name]; exists {
		return cs.health.State
	}
	return StateUnavailable
}

// Component returns a copy of one component's health.
func (t *Tracker) Component(name string) (ComponentHealth, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cs, exists := t.components[name]
	if !exists {
		return ComponentHealth{}, false
	}
	return cs.health, true
}

// Overall returns the worst state across all components. An empty
// tracker is healthy.
func (t *Tracker) Overall() State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overall := StateHealthy
	for _, cs := range t.components {
		if cs.health.State > overall {
			overall = cs.health.State
		}
	}
	return overall
}

// Snapshot returns a copy of every component's health, keyed by name.
func (t *Tracker) Snapshot() map[string]ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make(map[string]ComponentHealth, len(t.components))
	for name, cs := range t.components {
		snapshot[name] = cs.health
	}
	return snapshot
}

func (t *Tracker) transition(cs *componentState, to State) {
	from := cs.health.State
	if from == to {
		return
	}
	cs.health.State = to
	cs.health.LastStateChange = time.Now()
	if t.onChange != nil {
		t.onChange(cs.health.Name, from, to)
	}
}
