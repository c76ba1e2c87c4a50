package inspection

import (
	"math"
	"time"

	"github.com/ghalamif/AegisFleet/internal/domain"
)

type sample struct {
	ts    time.Time
	value domain.SignalValue
}

type signalKey struct {
	id          domain.SignalID
	minInterval time.Duration
	window      time.Duration
	aggregation domain.AggregationMode
}

// signalBuffer keeps the newest samples of one signal for one sampling
// policy. Conditions that share a policy share the buffer.
type signalBuffer struct {
	key  signalKey
	ring []sample
	head int
	size int

	lastRetained time.Time
	hasRetained  bool

	windowStart time.Time
	windowOpen  bool
	winCount    int
	winSum      float64
	winMin      sample
	winMax      sample
	winLatest   sample
}

func newSignalBuffer(key signalKey, depth int) *signalBuffer {
	if depth < 1 {
		depth = 1
	}
	return &signalBuffer{key: key, ring: make([]sample, depth)}
}

// add feeds one raw sample. It returns false when the sample was discarded
// by down-sampling.
func (b *signalBuffer) add(s sample) bool {
	if b.key.window <= 0 {
		return b.retain(s)
	}
	if b.windowOpen && s.ts.Sub(b.windowStart) >= b.key.window {
		b.closeWindow()
	}
	if !b.windowOpen {
		b.windowOpen = true
		b.windowStart = s.ts.Truncate(b.key.window)
		b.winCount = 0
		b.winSum = 0
	}
	v := s.value.Float64()
	if b.winCount == 0 || v < b.winMin.value.Float64() {
		b.winMin = s
	}
	if b.winCount == 0 || v > b.winMax.value.Float64() {
		b.winMax = s
	}
	b.winCount++
	b.winSum += v
	b.winLatest = s
	return true
}

// flush closes the open window once its period has elapsed at now.
func (b *signalBuffer) flush(now time.Time) {
	if b.windowOpen && now.Sub(b.windowStart) >= b.key.window {
		b.closeWindow()
	}
}

func (b *signalBuffer) closeWindow() {
	b.windowOpen = false
	if b.winCount == 0 {
		return
	}
	out := b.winLatest
	switch b.key.aggregation {
	case domain.AggregationAverage:
		out = sample{ts: b.winLatest.ts, value: domain.DoubleValue(b.winSum / float64(b.winCount))}
	case domain.AggregationMin:
		out = sample{ts: b.winLatest.ts, value: b.winMin.value}
	case domain.AggregationMax:
		out = sample{ts: b.winLatest.ts, value: b.winMax.value}
	}
	b.retain(out)
}

func (b *signalBuffer) retain(s sample) bool {
	if b.hasRetained && b.key.minInterval > 0 && s.ts.Sub(b.lastRetained) < b.key.minInterval {
		return false
	}
	b.ring[b.head] = s
	b.head = (b.head + 1) % len(b.ring)
	if b.size < len(b.ring) {
		b.size++
	}
	b.lastRetained = s.ts
	b.hasRetained = true
	return true
}

func (b *signalBuffer) latest() (sample, bool) {
	if b.size == 0 {
		return sample{}, false
	}
	return b.ring[(b.head-1+len(b.ring))%len(b.ring)], true
}

// each visits retained samples oldest first.
func (b *signalBuffer) each(fn func(sample)) {
	start := (b.head - b.size + len(b.ring)) % len(b.ring)
	for i := 0; i < b.size; i++ {
		fn(b.ring[(start+i)%len(b.ring)])
	}
}

// resized copies the newest samples and the sampling state into a buffer of
// the given depth.
func (b *signalBuffer) resized(depth int) *signalBuffer {
	nb := newSignalBuffer(b.key, depth)
	skip := b.size - len(nb.ring)
	i := 0
	b.each(func(s sample) {
		if i >= skip {
			nb.ring[nb.head] = s
			nb.head = (nb.head + 1) % len(nb.ring)
			nb.size++
		}
		i++
	})
	nb.lastRetained, nb.hasRetained = b.lastRetained, b.hasRetained
	nb.windowStart, nb.windowOpen = b.windowStart, b.windowOpen
	nb.winCount, nb.winSum = b.winCount, b.winSum
	nb.winMin, nb.winMax, nb.winLatest = b.winMin, b.winMax, b.winLatest
	return nb
}

type frameKey struct {
	frameID     domain.CANRawFrameID
	channelID   domain.CANChannelID
	minInterval time.Duration
}

type frameBuffer struct {
	key          frameKey
	ring         []*domain.CollectedCANRawFrame
	head         int
	size         int
	lastRetained time.Time
	hasRetained  bool
}

func newFrameBuffer(key frameKey, depth int) *frameBuffer {
	if depth < 1 {
		depth = 1
	}
	return &frameBuffer{key: key, ring: make([]*domain.CollectedCANRawFrame, depth)}
}

func (b *frameBuffer) add(f *domain.CollectedCANRawFrame) bool {
	if b.hasRetained && b.key.minInterval > 0 && f.ReceiveTime.Sub(b.lastRetained) < b.key.minInterval {
		return false
	}
	b.ring[b.head] = f
	b.head = (b.head + 1) % len(b.ring)
	if b.size < len(b.ring) {
		b.size++
	}
	b.lastRetained = f.ReceiveTime
	b.hasRetained = true
	return true
}

func (b *frameBuffer) latest() (*domain.CollectedCANRawFrame, bool) {
	if b.size == 0 {
		return nil, false
	}
	return b.ring[(b.head-1+len(b.ring))%len(b.ring)], true
}

func (b *frameBuffer) each(fn func(*domain.CollectedCANRawFrame)) {
	start := (b.head - b.size + len(b.ring)) % len(b.ring)
	for i := 0; i < b.size; i++ {
		fn(b.ring[(start+i)%len(b.ring)])
	}
}

func (b *frameBuffer) resized(depth int) *frameBuffer {
	nb := newFrameBuffer(b.key, depth)
	skip := b.size - len(nb.ring)
	i := 0
	b.each(func(f *domain.CollectedCANRawFrame) {
		if i >= skip {
			nb.add(f)
		}
		i++
	})
	nb.lastRetained, nb.hasRetained = b.lastRetained, b.hasRetained
	return nb
}

type frameID struct {
	frameID   domain.CANRawFrameID
	channelID domain.CANChannelID
}

// Store holds the rolling sample history for exactly the signals and frames
// the active matrix references. It is owned by the worker goroutine.
type Store struct {
	maxSignals int

	signals map[domain.SignalID][]*signalBuffer
	frames  map[frameID][]*frameBuffer
	windows []*signalBuffer

	// IgnoredSignalInfos counts collection infos dropped because the
	// distinct signal limit was reached during the last rebuild.
	IgnoredSignalInfos int
}

// NewStore returns an empty store tracking at most maxSignals distinct ids.
func NewStore(maxSignals int) *Store {
	if maxSignals <= 0 {
		maxSignals = domain.MaxDifferentSignalIDs
	}
	return &Store{
		maxSignals: maxSignals,
		signals:    make(map[domain.SignalID][]*signalBuffer),
		frames:     make(map[frameID][]*frameBuffer),
	}
}

// storeLayout is the result of re-keying a store for a set of conditions:
// for every condition, the buffers backing each declared signal and frame
// (nil when the info was ignored).
type storeLayout struct {
	signals [][]*signalBuffer
	frames  [][]*frameBuffer
}

// Rebuild re-keys the store for conditions. Buffers whose key survives keep
// their newest samples; everything else is released.
func (s *Store) Rebuild(conditions []domain.Condition) storeLayout {
	depths := make(map[signalKey]int)
	frameDepths := make(map[frameKey]int)
	distinct := make(map[domain.SignalID]struct{})
	ignored := 0

	for i := range conditions {
		for _, info := range conditions[i].Signals {
			if _, ok := distinct[info.SignalID]; !ok {
				if len(distinct) >= s.maxSignals {
					ignored++
					continue
				}
				distinct[info.SignalID] = struct{}{}
			}
			k := keyForSignal(info)
			if d := int(info.SampleBufferSize); d > depths[k] {
				depths[k] = d
			} else if _, ok := depths[k]; !ok {
				depths[k] = d
			}
		}
		for _, info := range conditions[i].CANFrames {
			k := keyForFrame(info)
			if d := int(info.SampleBufferSize); d > frameDepths[k] {
				frameDepths[k] = d
			} else if _, ok := frameDepths[k]; !ok {
				frameDepths[k] = d
			}
		}
	}

	old := make(map[signalKey]*signalBuffer)
	for _, bufs := range s.signals {
		for _, b := range bufs {
			old[b.key] = b
		}
	}
	oldFrames := make(map[frameKey]*frameBuffer)
	for _, bufs := range s.frames {
		for _, b := range bufs {
			oldFrames[b.key] = b
		}
	}

	byKey := make(map[signalKey]*signalBuffer, len(depths))
	s.signals = make(map[domain.SignalID][]*signalBuffer, len(distinct))
	s.windows = s.windows[:0]
	for k, depth := range depths {
		var b *signalBuffer
		if prev, ok := old[k]; ok {
			b = prev.resized(depth)
		} else {
			b = newSignalBuffer(k, depth)
		}
		byKey[k] = b
		s.signals[k.id] = append(s.signals[k.id], b)
		if k.window > 0 {
			s.windows = append(s.windows, b)
		}
	}

	byFrameKey := make(map[frameKey]*frameBuffer, len(frameDepths))
	s.frames = make(map[frameID][]*frameBuffer)
	for k, depth := range frameDepths {
		var b *frameBuffer
		if prev, ok := oldFrames[k]; ok {
			b = prev.resized(depth)
		} else {
			b = newFrameBuffer(k, depth)
		}
		byFrameKey[k] = b
		fid := frameID{frameID: k.frameID, channelID: k.channelID}
		s.frames[fid] = append(s.frames[fid], b)
	}

	layout := storeLayout{
		signals: make([][]*signalBuffer, len(conditions)),
		frames:  make([][]*frameBuffer, len(conditions)),
	}
	for i := range conditions {
		sigs := make([]*signalBuffer, len(conditions[i].Signals))
		for j, info := range conditions[i].Signals {
			sigs[j] = byKey[keyForSignal(info)]
		}
		frames := make([]*frameBuffer, len(conditions[i].CANFrames))
		for j, info := range conditions[i].CANFrames {
			frames[j] = byFrameKey[keyForFrame(info)]
		}
		layout.signals[i] = sigs
		layout.frames[i] = frames
	}
	s.IgnoredSignalInfos = ignored
	return layout
}

func keyForSignal(info domain.SignalCollectionInfo) signalKey {
	k := signalKey{id: info.SignalID, minInterval: info.MinimumSampleInterval}
	if info.FixedWindowPeriod > 0 {
		k.window = info.FixedWindowPeriod
		k.aggregation = info.Aggregation
	}
	return k
}

func keyForFrame(info domain.CANFrameCollectionInfo) frameKey {
	return frameKey{frameID: info.FrameID, channelID: info.ChannelID, minInterval: info.MinimumSampleInterval}
}

// AddSignal feeds a sample into every buffer tracking its id. It reports
// whether the id is referenced by the active matrix at all.
func (s *Store) AddSignal(sig domain.CollectedSignal) (tracked bool, downsampled int) {
	bufs, ok := s.signals[sig.SignalID]
	if !ok {
		return false, 0
	}
	smp := sample{ts: sig.ReceiveTime, value: sig.Value}
	for _, b := range bufs {
		if !b.add(smp) {
			downsampled++
		}
	}
	return true, downsampled
}

// AddCANFrame feeds a raw frame into every buffer tracking it.
func (s *Store) AddCANFrame(f *domain.CollectedCANRawFrame) (tracked bool, downsampled int) {
	bufs, ok := s.frames[frameID{frameID: f.FrameID, channelID: f.ChannelID}]
	if !ok {
		return false, 0
	}
	for _, b := range bufs {
		if !b.add(f) {
			downsampled++
		}
	}
	return true, downsampled
}

// FlushWindows closes every fixed window whose period elapsed by now.
func (s *Store) FlushWindows(now time.Time) {
	for _, b := range s.windows {
		b.flush(now)
	}
}

// NextWindowClose returns how long until the earliest open window closes.
func (s *Store) NextWindowClose(now time.Time) (time.Duration, bool) {
	best := time.Duration(math.MaxInt64)
	found := false
	for _, b := range s.windows {
		if !b.windowOpen {
			continue
		}
		d := b.windowStart.Add(b.key.window).Sub(now)
		if d < best {
			best = d
			found = true
		}
	}
	return best, found
}

// LatestSignal returns the newest retained value of id in any of its buffers.
func (s *Store) LatestSignal(id domain.SignalID) (domain.SignalValue, bool) {
	var (
		best  sample
		found bool
	)
	for _, b := range s.signals[id] {
		if smp, ok := b.latest(); ok && (!found || smp.ts.After(best.ts)) {
			best, found = smp, true
		}
	}
	return best.value, found
}

// LatestFrame returns the newest retained frame with the given ids.
func (s *Store) LatestFrame(id domain.CANRawFrameID, channel domain.CANChannelID) (*domain.CollectedCANRawFrame, bool) {
	var best *domain.CollectedCANRawFrame
	for _, b := range s.frames[frameID{frameID: id, channelID: channel}] {
		if f, ok := b.latest(); ok && (best == nil || f.ReceiveTime.After(best.ReceiveTime)) {
			best = f
		}
	}
	return best, best != nil
}

// Samples returns the retained samples of id in receive order, newest last,
// taken from the buffer with the most history.
func (s *Store) Samples(id domain.SignalID) []domain.CollectedSignal {
	var pick *signalBuffer
	for _, b := range s.signals[id] {
		if pick == nil || b.size > pick.size {
			pick = b
		}
	}
	if pick == nil {
		return nil
	}
	out := make([]domain.CollectedSignal, 0, pick.size)
	pick.each(func(smp sample) {
		out = append(out, domain.CollectedSignal{SignalID: id, ReceiveTime: smp.ts, Value: smp.value})
	})
	return out
}

// TrackedSignals reports how many distinct signal ids have buffers.
func (s *Store) TrackedSignals() int { return len(s.signals) }

// TrackedFrames reports how many distinct frame ids have buffers.
func (s *Store) TrackedFrames() int { return len(s.frames) }
