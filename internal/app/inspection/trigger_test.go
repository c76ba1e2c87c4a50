package inspection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTriggerRisingEdgeNeedsFallingEdge(t *testing.T) {
	tr := newTrigger(time.Second, true)

	steps := []struct {
		at     time.Duration
		result bool
		fire   bool
		state  TriggerState
	}{
		{0, false, false, StateArmedFalse},
		{10 * time.Millisecond, true, true, StateCooldown},
		{20 * time.Millisecond, true, false, StateCooldown},
		{1100 * time.Millisecond, true, false, StateArmedTrue},
		{1200 * time.Millisecond, false, false, StateArmedFalse},
		{1300 * time.Millisecond, true, true, StateCooldown},
	}
	for i, s := range steps {
		got := tr.step(s.result, t0.Add(s.at))
		assert.Equal(t, s.fire, got, "step %d", i)
		assert.Equal(t, s.state, tr.state, "step %d state", i)
	}
}

func TestTriggerLevelFiresOncePerInterval(t *testing.T) {
	tr := newTrigger(100*time.Millisecond, false)

	fires := 0
	for i := 0; i < 100; i++ {
		if tr.step(true, t0.Add(time.Duration(i)*10*time.Millisecond)) {
			fires++
		}
	}
	assert.Equal(t, 10, fires)
}

func TestTriggerFalseDuringCooldownRearms(t *testing.T) {
	tr := newTrigger(time.Second, true)

	assert.True(t, tr.step(true, t0))
	assert.False(t, tr.step(false, t0.Add(100*time.Millisecond)))
	assert.True(t, tr.step(true, t0.Add(time.Second)))
}

func TestTriggerObserveTracksEdgesWithoutFiring(t *testing.T) {
	tr := newTrigger(0, true)

	assert.True(t, tr.step(true, t0))
	tr.observe(true, t0.Add(100*time.Millisecond))
	assert.Equal(t, StateArmedTrue, tr.state)
	tr.observe(false, t0.Add(300*time.Millisecond))
	assert.Equal(t, StateArmedFalse, tr.state)
	tr.observe(false, t0.Add(time.Second))
	assert.Equal(t, StateArmedFalse, tr.state)

	assert.True(t, tr.step(true, t0.Add(1500*time.Millisecond)))
}

func TestTriggerObserveHonoursCooldown(t *testing.T) {
	tr := newTrigger(time.Second, false)

	assert.True(t, tr.step(true, t0))
	tr.observe(true, t0.Add(500*time.Millisecond))
	assert.Equal(t, StateCooldown, tr.state)
	assert.False(t, tr.step(true, t0.Add(900*time.Millisecond)))
	assert.True(t, tr.step(true, t0.Add(time.Second)))
}

func TestTriggerStateString(t *testing.T) {
	assert.Equal(t, "armed_true", StateArmedTrue.String())
	assert.Equal(t, "unknown", TriggerState(42).String())
}
