package inspection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghalamif/AegisFleet/internal/clock"
	"github.com/ghalamif/AegisFleet/internal/domain"
	"github.com/ghalamif/AegisFleet/internal/ports"
)

var (
	ErrWorkerRunning = errors.New("inspection: worker already running")
	ErrMissingQueue  = errors.New("inspection: input and output queues are required")
)

// Inputs are the queues producers push into.
type Inputs struct {
	Signals ports.Queue[domain.CollectedSignal]
	Frames  ports.Queue[*domain.CollectedCANRawFrame]
	DTCs    ports.Queue[*domain.DTCInfo]
}

// WorkerConfig configures the inspection worker.
type WorkerConfig struct {
	Engine EngineConfig
	// IdleTime bounds the sleep between passes when nobody calls NotifyNewData.
	IdleTime time.Duration
	// AliveWindow is how recent the last pass must be for IsAlive.
	AliveWindow time.Duration
	Clock       clock.Clock
}

const defaultIdleTime = 5 * time.Millisecond

// Worker runs the inspection engine on its own goroutine. Matrix updates and
// wake-ups may come from any goroutine.
type Worker struct {
	engine *Engine
	in     Inputs
	idle   time.Duration
	alive  time.Duration
	clock  clock.Clock
	obs    ports.Observability

	matrixMu      sync.Mutex
	stagedMatrix  *domain.InspectionMatrix
	hasStaged     bool
	matrixUpdated atomic.Bool

	wake chan struct{}

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	running     atomic.Bool
	lastPass    atomic.Int64
}

var (
	_ ports.ActiveConditionProcessor = (*Worker)(nil)
	_ ports.DataAvailableNotifier    = (*Worker)(nil)
)

// NewWorker wires the engine between in and output.
func NewWorker(in Inputs, output ports.Queue[*domain.TriggeredCollectionSchemeData], cfg WorkerConfig, obs ports.Observability) (*Worker, error) {
	if in.Signals == nil || in.Frames == nil || in.DTCs == nil || output == nil {
		return nil, ErrMissingQueue
	}
	if cfg.IdleTime <= 0 {
		cfg.IdleTime = defaultIdleTime
	}
	if cfg.AliveWindow <= 0 {
		cfg.AliveWindow = max(time.Second, 10*cfg.IdleTime)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Worker{
		engine: NewEngine(cfg.Engine, output, obs),
		in:     in,
		idle:   cfg.IdleTime,
		alive:  cfg.AliveWindow,
		clock:  cfg.Clock,
		obs:    obs,
		wake:   make(chan struct{}, 1),
	}, nil
}

// Engine returns the engine driven by the worker. Only Subscribe is safe to
// call while the worker runs.
func (w *Worker) Engine() *Engine { return w.engine }

// OnChangeInspectionMatrix stages m; the worker activates it at the start of
// its next pass, so a pass in flight finishes against the old matrix.
func (w *Worker) OnChangeInspectionMatrix(m *domain.InspectionMatrix) {
	w.matrixMu.Lock()
	w.stagedMatrix = m
	w.hasStaged = true
	w.matrixUpdated.Store(true)
	w.matrixMu.Unlock()
	w.NotifyNewData()
}

// NotifyNewData wakes the worker. It never blocks.
func (w *Worker) NotifyNewData() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start() error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	if w.running.Load() {
		return ErrWorkerRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	w.lastPass.Store(w.clock.Now().UnixNano())
	w.running.Store(true)
	go w.run(ctx, w.done)
	w.obs.LogInfo("inspection worker started", ports.Field{Key: "idle", Value: w.idle.String()})
	return nil
}

// Stop cancels the worker and waits for the pass in flight to finish.
// Stopping a stopped worker is a no-op.
func (w *Worker) Stop() error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	if !w.running.Load() {
		return nil
	}
	w.cancel()
	w.NotifyNewData()
	<-w.done
	w.running.Store(false)
	w.obs.LogInfo("inspection worker stopped")
	return nil
}

// IsAlive reports whether the worker completed a pass within the alive window.
func (w *Worker) IsAlive() bool {
	if !w.running.Load() {
		return false
	}
	last := time.Unix(0, w.lastPass.Load())
	return w.clock.Now().Sub(last) <= w.alive
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		w.pass()
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-w.clock.After(w.nextWait()):
		}
	}
}

func (w *Worker) nextWait() time.Duration {
	wait := w.idle
	if d, ok := w.engine.NextDeadline(w.clock.Now()); ok && d < wait {
		wait = d
	}
	return wait
}

func (w *Worker) pass() {
	start := time.Now()
	if w.matrixUpdated.Swap(false) {
		w.matrixMu.Lock()
		m, ok := w.stagedMatrix, w.hasStaged
		w.stagedMatrix, w.hasStaged = nil, false
		w.matrixMu.Unlock()
		if ok {
			w.engine.ChangeInspectionMatrix(m)
		}
	}

	w.in.Signals.DrainAll(w.engine.AddSignal)
	w.in.Frames.DrainAll(w.engine.AddCANFrame)
	w.in.DTCs.DrainAll(w.engine.SetActiveDTCs)

	now := w.clock.Now()
	w.engine.Evaluate(now)
	w.lastPass.Store(now.UnixNano())
	w.obs.ObserveLatency("aegis_inspection_pass_seconds", time.Since(start).Seconds())
}
