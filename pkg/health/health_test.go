package health

import (
	"errors"
	"testing"
)

func TestTrackerStartsHealthy(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.Register("origin")

	if got := tr.GetState("origin"); got != StateHealthy {
		t.Errorf("initial state = %s, want healthy", got)
	}
	if got := tr.Overall(); got != StateHealthy {
		t.Errorf("overall = %s, want healthy", got)
	}
}

func TestTrackerDegradesAfterThreshold(t *testing.T) {
	tr := NewTracker(TrackerConfig{DegradedThreshold: 3, UnavailableThreshold: 10})
	tr.Register("origin")

	errOrigin := errors.New("timeout")
	tr.RecordError("origin", errOrigin)
	tr.RecordError("origin", errOrigin)
	if got := tr.GetState("origin"); got != StateHealthy {
		t.Fatalf("state after 2 errors = %s, want healthy", got)
	}

	tr.RecordError("origin", errOrigin)
	if got := tr.GetState("origin"); got != StateDegraded {
		t.Errorf("state after 3 errors = %s, want degraded", got)
	}

	ch, ok := tr.Component("origin")
	if !ok {
		t.Fatal("component not found")
	}
	if ch.ConsecutiveErrors != 3 || ch.LastErrorMessage != "timeout" {
		t.Errorf("component = %+v, want 3 consecutive errors with message", ch)
	}
}

func TestTrackerUnavailableAfterSustainedErrors(t *testing.T) {
	tr := NewTracker(TrackerConfig{DegradedThreshold: 2, UnavailableThreshold: 5})
	tr.Register("origin")

	for i := 0; i < 5; i++ {
		tr.RecordError("origin", errors.New("down"))
	}
	if got := tr.GetState("origin"); got != StateUnavailable {
		t.Errorf("state after 5 errors = %s, want unavailable", got)
	}
}

func TestTrackerSingleSuccessRecovers(t *testing.T) {
	tr := NewTracker(TrackerConfig{DegradedThreshold: 2, UnavailableThreshold: 5})
	tr.Register("origin")

	tr.RecordError("origin", errors.New("down"))
	tr.RecordError("origin", errors.New("down"))
	if got := tr.GetState("origin"); got != StateDegraded {
		t.Fatalf("state = %s, want degraded", got)
	}

	tr.RecordSuccess("origin")
	if got := tr.GetState("origin"); got != StateHealthy {
		t.Errorf("state after success = %s, want healthy", got)
	}
	ch, _ := tr.Component("origin")
	if ch.ConsecutiveErrors != 0 || ch.LastErrorMessage != "" {
		t.Errorf("recovery must clear the error record, got %+v", ch)
	}
}

func TestTrackerOverallIsWorstComponent(t *testing.T) {
	tr := NewTracker(TrackerConfig{DegradedThreshold: 1, UnavailableThreshold: 3})
	tr.Register("origin")
	tr.Register("durable")

	tr.RecordError("durable", errors.New("disk full"))
	if got := tr.Overall(); got != StateDegraded {
		t.Errorf("overall = %s, want degraded", got)
	}
}

func TestTrackerStateChangeCallback(t *testing.T) {
	tr := NewTracker(TrackerConfig{DegradedThreshold: 1, UnavailableThreshold: 3})
	var transitions []string
	tr.OnStateChange(func(component string, from, to State) {
		transitions = append(transitions, component+":"+from.String()+"->"+to.String())
	})
	tr.Register("origin")

	tr.RecordError("origin", errors.New("down"))
	tr.RecordSuccess("origin")

	want := []string{"origin:healthy->degraded", "origin:degraded->healthy"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestTrackerUnknownComponent(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	// Recording against an unregistered name must not panic.
	tr.RecordSuccess("ghost")
	tr.RecordError("ghost", errors.New("x"))

	if got := tr.GetState("ghost"); got != StateUnavailable {
		t.Errorf("unregistered component state = %s, want unavailable", got)
	}
}

func TestTrackerSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.Register("origin")

	snap := tr.Snapshot()
	entry := snap["origin"]
	entry.ConsecutiveErrors = 99
	snap["origin"] = entry

	ch, _ := tr.Component("origin")
	if ch.ConsecutiveErrors != 0 {
		t.Error("mutating a snapshot must not affect the tracker")
	}
}
