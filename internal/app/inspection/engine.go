package inspection

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ghalamif/AegisFleet/internal/domain"
	"github.com/ghalamif/AegisFleet/internal/ports"
)

// EngineConfig tunes the inspection engine.
type EngineConfig struct {
	// DataReduction applies each condition's ProbabilityToSend.
	DataReduction bool
	// MaxActiveConditions caps evaluated conditions; zero uses the domain default.
	MaxActiveConditions int
	// MaxSignals caps distinct tracked signal ids; zero uses the domain default.
	MaxSignals int
	// Random returns values in [0,1) for data reduction. Defaults to math/rand/v2.
	Random func() float64
}

type pendingCapture struct {
	triggerTime time.Time
	due         time.Time
}

type conditionRuntime struct {
	cond    *domain.Condition
	trigger trigger
	signals []*signalBuffer
	frames  []*frameBuffer

	pending       *pendingCapture
	lastCollected time.Time

	store *Store
}

// LatestSignal resolves a signal leaf through the buffers c declared, so
// its own window and sampling policy apply. Ids c did not declare fall back
// to any buffer in the store.
func (c *conditionRuntime) LatestSignal(id domain.SignalID) (domain.SignalValue, bool) {
	var (
		best     sample
		found    bool
		declared bool
	)
	for _, b := range c.signals {
		if b == nil || b.key.id != id {
			continue
		}
		declared = true
		if smp, ok := b.latest(); ok && (!found || smp.ts.After(best.ts)) {
			best, found = smp, true
		}
	}
	if !declared {
		return c.store.LatestSignal(id)
	}
	return best.value, found
}

// LatestFrame resolves a frame leaf the same way as LatestSignal.
func (c *conditionRuntime) LatestFrame(id domain.CANRawFrameID, channel domain.CANChannelID) (*domain.CollectedCANRawFrame, bool) {
	var best *domain.CollectedCANRawFrame
	declared := false
	for _, b := range c.frames {
		if b == nil || b.key.frameID != id || b.key.channelID != channel {
			continue
		}
		declared = true
		if f, ok := b.latest(); ok && (best == nil || f.ReceiveTime.After(best.ReceiveTime)) {
			best = f
		}
	}
	if !declared {
		return c.store.LatestFrame(id, channel)
	}
	return best, best != nil
}

// hasData reports whether any declared input has produced a sample. A
// condition that declares no inputs is always ready.
func (c *conditionRuntime) hasData() bool {
	if len(c.signals) == 0 && len(c.frames) == 0 {
		return true
	}
	for _, b := range c.signals {
		if b != nil && b.size > 0 {
			return true
		}
	}
	for _, b := range c.frames {
		if b != nil && b.size > 0 {
			return true
		}
	}
	return false
}

// Engine evaluates the active matrix against the rolling store. It is
// single-threaded: the worker goroutine owns it. Only Subscribe may be called
// from other goroutines.
type Engine struct {
	cfg    EngineConfig
	obs    ports.Observability
	output ports.Queue[*domain.TriggeredCollectionSchemeData]

	matrix     *domain.InspectionMatrix
	store      *Store
	conditions []*conditionRuntime
	activeDTCs *domain.DTCInfo
	nextEvent  domain.EventID

	listenersMu sync.RWMutex
	listeners   []ports.InspectionEventListener
}

// NewEngine builds an engine writing triggered snapshots to output.
func NewEngine(cfg EngineConfig, output ports.Queue[*domain.TriggeredCollectionSchemeData], obs ports.Observability) *Engine {
	if cfg.MaxActiveConditions <= 0 {
		cfg.MaxActiveConditions = domain.MaxActiveConditions
	}
	if cfg.Random == nil {
		cfg.Random = rand.Float64
	}
	return &Engine{
		cfg:    cfg,
		obs:    obs,
		output: output,
		store:  NewStore(cfg.MaxSignals),
	}
}

// Subscribe registers l for every emitted collection.
func (e *Engine) Subscribe(l ports.InspectionEventListener) {
	e.listenersMu.Lock()
	e.listeners = append(e.listeners, l)
	e.listenersMu.Unlock()
}

// Matrix returns the active matrix, nil before the first load.
func (e *Engine) Matrix() *domain.InspectionMatrix { return e.matrix }

// Store exposes the rolling store for inspection and tests.
func (e *Engine) Store() *Store { return e.store }

// TriggerStates returns the state of each active condition in matrix order.
func (e *Engine) TriggerStates() []TriggerState {
	out := make([]TriggerState, len(e.conditions))
	for i, c := range e.conditions {
		out[i] = c.trigger.state
	}
	return out
}

// ChangeInspectionMatrix activates m. Trigger state and pending captures
// start fresh; retained samples survive for signals the new matrix still
// references. A nil matrix deactivates every condition.
func (e *Engine) ChangeInspectionMatrix(m *domain.InspectionMatrix) {
	var conds []domain.Condition
	if m != nil {
		conds = m.Conditions
		if len(conds) > e.cfg.MaxActiveConditions {
			e.obs.LogError("inspection matrix exceeds active condition limit", nil,
				ports.Field{Key: "conditions", Value: len(conds)},
				ports.Field{Key: "limit", Value: e.cfg.MaxActiveConditions})
			e.obs.IncCounter("aegis_inspection_conditions_ignored_total", float64(len(conds)-e.cfg.MaxActiveConditions))
			conds = conds[:e.cfg.MaxActiveConditions]
		}
	}

	layout := e.store.Rebuild(conds)
	if n := e.store.IgnoredSignalInfos; n > 0 {
		e.obs.LogError("inspection matrix exceeds distinct signal limit", nil,
			ports.Field{Key: "ignored_infos", Value: n})
		e.obs.IncCounter("aegis_inspection_signals_ignored_total", float64(n))
	}

	e.matrix = m
	e.conditions = make([]*conditionRuntime, len(conds))
	for i := range conds {
		e.conditions[i] = &conditionRuntime{
			cond:    &conds[i],
			trigger: newTrigger(conds[i].MinimumPublishInterval, conds[i].TriggerOnlyOnRisingEdge),
			signals: layout.signals[i],
			frames:  layout.frames[i],
			store:   e.store,
		}
	}
	e.obs.SetGauge("aegis_inspection_active_conditions", float64(len(conds)))
	e.obs.SetGauge("aegis_inspection_tracked_signals", float64(e.store.TrackedSignals()))
	e.obs.LogInfo("inspection matrix activated",
		ports.Field{Key: "conditions", Value: len(conds)},
		ports.Field{Key: "signals", Value: e.store.TrackedSignals()},
		ports.Field{Key: "frames", Value: e.store.TrackedFrames()})
}

// AddSignal buffers s when the active matrix references its id.
func (e *Engine) AddSignal(s domain.CollectedSignal) {
	tracked, downsampled := e.store.AddSignal(s)
	if !tracked {
		e.obs.IncCounter("aegis_inspection_signals_unreferenced_total", 1)
		return
	}
	if downsampled > 0 {
		e.obs.IncCounter("aegis_inspection_samples_downsampled_total", float64(downsampled))
	}
}

// AddCANFrame buffers f when the active matrix references it.
func (e *Engine) AddCANFrame(f *domain.CollectedCANRawFrame) {
	if f == nil {
		return
	}
	tracked, downsampled := e.store.AddCANFrame(f)
	if !tracked {
		e.obs.IncCounter("aegis_inspection_frames_unreferenced_total", 1)
		return
	}
	if downsampled > 0 {
		e.obs.IncCounter("aegis_inspection_samples_downsampled_total", float64(downsampled))
	}
}

// SetActiveDTCs replaces the active trouble code snapshot.
func (e *Engine) SetActiveDTCs(d *domain.DTCInfo) {
	e.activeDTCs = d
}

// Evaluate runs one inspection pass at now and returns the number of
// collections pushed to the output queue.
func (e *Engine) Evaluate(now time.Time) int {
	e.store.FlushWindows(now)
	emitted := 0
	for _, c := range e.conditions {
		if c.pending != nil {
			// Evaluation continues through the capture window so the
			// trigger sees falling edges; only a new capture is held back.
			if c.hasData() {
				c.trigger.observe(Evaluate(e.matrix, c.cond.Root, c), now)
			}
			if now.Before(c.pending.due) {
				continue
			}
			triggerTime := c.pending.triggerTime
			c.pending = nil
			if e.emit(c, triggerTime, now) {
				emitted++
			}
			continue
		}
		if !c.hasData() {
			continue
		}
		if !c.trigger.step(Evaluate(e.matrix, c.cond.Root, c), now) {
			continue
		}
		e.obs.IncCounter("aegis_inspection_triggers_total", 1)
		if e.cfg.DataReduction && e.cfg.Random() >= c.cond.ProbabilityToSend {
			e.obs.IncCounter("aegis_inspection_reduced_total", 1)
			continue
		}
		if c.cond.AfterDuration > 0 {
			c.pending = &pendingCapture{triggerTime: now, due: now.Add(c.cond.AfterDuration)}
			continue
		}
		if e.emit(c, now, now) {
			emitted++
		}
	}
	return emitted
}

// NextDeadline returns how long until a pending capture or an open window
// needs another pass.
func (e *Engine) NextDeadline(now time.Time) (time.Duration, bool) {
	best, found := e.store.NextWindowClose(now)
	if !found {
		best = time.Duration(math.MaxInt64)
	}
	for _, c := range e.conditions {
		if c.pending == nil {
			continue
		}
		if d := c.pending.due.Sub(now); d < best {
			best = d
			found = true
		}
	}
	if found && best < 0 {
		best = 0
	}
	return best, found
}

func (e *Engine) emit(c *conditionRuntime, triggerTime, until time.Time) bool {
	data := e.snapshot(c, triggerTime, until)
	c.lastCollected = until
	if !e.output.Push(data) {
		e.obs.IncCounter("aegis_inspection_output_dropped_total", 1)
		e.obs.LogError("output queue full, collection dropped", nil,
			ports.Field{Key: "scheme", Value: c.cond.Metadata.CollectionSchemeID},
			ports.Field{Key: "event_id", Value: data.EventID})
		return false
	}
	e.obs.IncCounter("aegis_inspection_collections_total", 1)

	e.listenersMu.RLock()
	listeners := e.listeners
	e.listenersMu.RUnlock()
	for _, l := range listeners {
		l.OnInspectionEvent(data.EventID, data.TriggerTime, data.Metadata)
	}
	return true
}

// snapshot copies the samples of c received after the previous collection
// of c and no later than until.
func (e *Engine) snapshot(c *conditionRuntime, triggerTime, until time.Time) *domain.TriggeredCollectionSchemeData {
	e.nextEvent++
	data := &domain.TriggeredCollectionSchemeData{
		Metadata:    c.cond.Metadata,
		TriggerTime: triggerTime,
		EventID:     e.nextEvent,
	}
	fresh := func(ts time.Time) bool {
		return ts.After(c.lastCollected) && !ts.After(until)
	}

	seen := make(map[*signalBuffer]struct{}, len(c.signals))
	for i, b := range c.signals {
		if b == nil || c.cond.Signals[i].IsConditionOnlySignal {
			continue
		}
		if _, dup := seen[b]; dup {
			continue
		}
		seen[b] = struct{}{}
		b.each(func(s sample) {
			if fresh(s.ts) {
				data.Signals = append(data.Signals, domain.CollectedSignal{
					SignalID:    b.key.id,
					ReceiveTime: s.ts,
					Value:       s.value,
				})
			}
		})
	}

	seenFrames := make(map[*frameBuffer]struct{}, len(c.frames))
	for _, b := range c.frames {
		if b == nil {
			continue
		}
		if _, dup := seenFrames[b]; dup {
			continue
		}
		seenFrames[b] = struct{}{}
		b.each(func(f *domain.CollectedCANRawFrame) {
			if fresh(f.ReceiveTime) {
				data.CANFrames = append(data.CANFrames, f)
			}
		})
	}

	if c.cond.IncludeActiveDTCs && e.activeDTCs.HasItems() {
		data.DTCInfo = domain.DTCInfo{
			ReceiveTime: e.activeDTCs.ReceiveTime,
			SID:         e.activeDTCs.SID,
			Codes:       append([]string(nil), e.activeDTCs.Codes...),
		}
	}
	return data
}
