package inspection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/AegisFleet/internal/adapters/queue"
	"github.com/ghalamif/AegisFleet/internal/clock"
	"github.com/ghalamif/AegisFleet/internal/domain"
)

type workerHarness struct {
	worker  *Worker
	signals *queue.LockedQueue[domain.CollectedSignal]
	frames  *queue.LockedQueue[*domain.CollectedCANRawFrame]
	dtcs    *queue.LockedQueue[*domain.DTCInfo]
	out     *outputQueue
	clock   *clock.FakeClock
}

func newWorkerHarness(t *testing.T) *workerHarness {
	t.Helper()
	h := &workerHarness{
		signals: queue.NewLockedQueue[domain.CollectedSignal](64),
		frames:  queue.NewLockedQueue[*domain.CollectedCANRawFrame](64),
		dtcs:    queue.NewLockedQueue[*domain.DTCInfo](4),
		out:     queue.NewLockedQueue[*domain.TriggeredCollectionSchemeData](64),
		clock:   clock.Fake(t0),
	}
	w, err := NewWorker(Inputs{Signals: h.signals, Frames: h.frames, DTCs: h.dtcs}, h.out,
		WorkerConfig{IdleTime: time.Hour, Clock: h.clock}, newMockObs())
	require.NoError(t, err)
	h.worker = w
	t.Cleanup(func() { _ = w.Stop() })
	return h
}

func TestNewWorkerRequiresQueues(t *testing.T) {
	_, err := NewWorker(Inputs{}, nil, WorkerConfig{}, newMockObs())
	assert.ErrorIs(t, err, ErrMissingQueue)
}

func TestWorkerEvaluatesOnNotify(t *testing.T) {
	h := newWorkerHarness(t)
	h.worker.OnChangeInspectionMatrix(build(t, func(b *domain.MatrixBuilder) {
		b.Add(domain.Bigger(domain.Signal(100), domain.Const(50)), speedCondition(true, time.Second, 10))
	}))
	require.NoError(t, h.worker.Start())
	assert.ErrorIs(t, h.worker.Start(), ErrWorkerRunning)

	h.signals.Push(sig(100, t0, 60))
	h.worker.NotifyNewData()

	require.Eventually(t, func() bool { return h.out.Len() == 1 }, time.Second, time.Millisecond)
	assert.True(t, h.worker.IsAlive())
}

func TestWorkerWakesOnIdleTimeout(t *testing.T) {
	h := newWorkerHarness(t)
	h.worker.OnChangeInspectionMatrix(build(t, func(b *domain.MatrixBuilder) {
		b.Add(domain.Bigger(domain.Signal(100), domain.Const(50)), speedCondition(true, 0, 4))
	}))
	require.NoError(t, h.worker.Start())
	h.clock.WaitForTimers(1)

	// Pushed without a notification: only the idle timer picks it up.
	h.signals.Push(sig(100, t0, 60))
	h.clock.Advance(time.Hour)

	require.Eventually(t, func() bool { return h.out.Len() == 1 }, time.Second, time.Millisecond)
}

func TestWorkerSwapsMatrixBetweenPasses(t *testing.T) {
	h := newWorkerHarness(t)
	h.worker.OnChangeInspectionMatrix(build(t, func(b *domain.MatrixBuilder) {
		b.Add(domain.Bigger(domain.Signal(100), domain.Const(1000)), speedCondition(true, 0, 4))
	}))
	require.NoError(t, h.worker.Start())

	h.signals.Push(sig(100, t0, 60))
	h.worker.NotifyNewData()
	h.clock.WaitForTimers(1)
	assert.Zero(t, h.out.Len())

	h.worker.OnChangeInspectionMatrix(build(t, func(b *domain.MatrixBuilder) {
		b.Add(domain.Bigger(domain.Signal(100), domain.Const(50)), speedCondition(true, 0, 4))
	}))

	require.Eventually(t, func() bool { return h.out.Len() == 1 }, time.Second, time.Millisecond)
	got, _ := h.out.Pop()
	assert.Equal(t, []float64{60}, values(got.Signals))
}

func TestWorkerStop(t *testing.T) {
	h := newWorkerHarness(t)
	require.NoError(t, h.worker.Start())
	require.NoError(t, h.worker.Stop())
	assert.False(t, h.worker.IsAlive())
	require.NoError(t, h.worker.Stop())

	require.NoError(t, h.worker.Start())
	assert.True(t, h.worker.IsAlive())
}

func TestWorkerIsAliveTracksLastPass(t *testing.T) {
	h := newWorkerHarness(t)
	h.worker.alive = time.Minute
	require.NoError(t, h.worker.Start())
	h.clock.WaitForTimers(1)
	assert.True(t, h.worker.IsAlive())

	// Two minutes pass without the worker completing a pass.
	h.worker.lastPass.Store(t0.Add(-2 * time.Minute).UnixNano())
	assert.False(t, h.worker.IsAlive())
}
