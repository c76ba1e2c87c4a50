package inspection

import "time"

// TriggerState is the per-condition firing state.
type TriggerState uint8

const (
	// StateIdle has not evaluated yet.
	StateIdle TriggerState = iota
	// StateArmedFalse last evaluated false and fires on the next true.
	StateArmedFalse
	// StateArmedTrue last evaluated true after a cooldown and waits for a
	// falling edge when the condition only fires on rising edges.
	StateArmedTrue
	// StateCooldown fired less than the minimum publish interval ago.
	StateCooldown
)

func (s TriggerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmedFalse:
		return "armed_false"
	case StateArmedTrue:
		return "armed_true"
	case StateCooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// trigger decides when an evaluated condition fires. A firing is never
// closer than minInterval to the previous one, and rising-edge conditions
// need a false evaluation between two firings.
type trigger struct {
	state       TriggerState
	minInterval time.Duration
	risingEdge  bool
	lastFire    time.Time
	lastResult  bool
}

func newTrigger(minInterval time.Duration, risingEdge bool) trigger {
	return trigger{minInterval: minInterval, risingEdge: risingEdge}
}

// step applies one evaluation result at now and reports whether to fire.
func (t *trigger) step(result bool, now time.Time) bool {
	prev := t.lastResult
	t.lastResult = result

	switch t.state {
	case StateIdle:
		if result {
			return t.fire(now)
		}
		t.state = StateArmedFalse
		return false
	case StateCooldown:
		if now.Sub(t.lastFire) < t.minInterval {
			return false
		}
		if prev {
			t.state = StateArmedTrue
		} else {
			t.state = StateArmedFalse
		}
	}

	switch t.state {
	case StateArmedFalse:
		if result {
			return t.fire(now)
		}
	case StateArmedTrue:
		if !result {
			t.state = StateArmedFalse
			return false
		}
		if !t.risingEdge {
			return t.fire(now)
		}
	}
	return false
}

// observe applies an evaluation result that may not fire, such as one taken
// while a delayed capture is still pending. The armed state follows the
// result so a rising edge after the capture is not lost.
func (t *trigger) observe(result bool, now time.Time) {
	t.lastResult = result
	switch t.state {
	case StateIdle:
		t.state = StateArmedFalse
	case StateCooldown:
		if now.Sub(t.lastFire) < t.minInterval {
			return
		}
		t.state = StateArmedFalse
	}
	if t.state == StateArmedFalse && result {
		t.state = StateArmedTrue
	} else if t.state == StateArmedTrue && !result {
		t.state = StateArmedFalse
	}
}

func (t *trigger) fire(now time.Time) bool {
	t.lastFire = now
	t.state = StateCooldown
	return true
}
