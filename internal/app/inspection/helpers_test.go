package inspection

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ghalamif/AegisFleet/internal/adapters/queue"
	"github.com/ghalamif/AegisFleet/internal/domain"
	"github.com/ghalamif/AegisFleet/internal/ports"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type mockObs struct {
	mu       sync.Mutex
	counters map[string]float64
	gauges   map[string]float64
	errors   []string
}

func newMockObs() *mockObs {
	return &mockObs{counters: map[string]float64{}, gauges: map[string]float64{}}
}

func (m *mockObs) LogInfo(string, ...ports.Field) {}
func (m *mockObs) LogError(msg string, _ error, _ ...ports.Field) {
	m.mu.Lock()
	m.errors = append(m.errors, msg)
	m.mu.Unlock()
}
func (m *mockObs) LogCritical(string, error, ...ports.Field) {}
func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	m.counters[name] += v
	m.mu.Unlock()
}
func (m *mockObs) ObserveLatency(string, float64) {}
func (m *mockObs) SetGauge(name string, v float64) {
	m.mu.Lock()
	m.gauges[name] = v
	m.mu.Unlock()
}
func (m *mockObs) RecordDLQ(ports.WALEntryID, *domain.TriggeredCollectionSchemeData, error) {}

func (m *mockObs) counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

type outputQueue = queue.LockedQueue[*domain.TriggeredCollectionSchemeData]

func newEngine(t *testing.T, cfg EngineConfig, outCap int) (*Engine, *outputQueue, *mockObs) {
	t.Helper()
	out := queue.NewLockedQueue[*domain.TriggeredCollectionSchemeData](outCap)
	obs := newMockObs()
	return NewEngine(cfg, out, obs), out, obs
}

func build(t *testing.T, add func(b *domain.MatrixBuilder)) *domain.InspectionMatrix {
	t.Helper()
	var b domain.MatrixBuilder
	add(&b)
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func sig(id domain.SignalID, ts time.Time, v float64) domain.CollectedSignal {
	return domain.CollectedSignal{SignalID: id, ReceiveTime: ts, Value: domain.DoubleValue(v)}
}

func drain(q *outputQueue) []*domain.TriggeredCollectionSchemeData {
	var out []*domain.TriggeredCollectionSchemeData
	q.DrainAll(func(d *domain.TriggeredCollectionSchemeData) { out = append(out, d) })
	return out
}

func values(signals []domain.CollectedSignal) []float64 {
	out := make([]float64, len(signals))
	for i, s := range signals {
		out[i] = s.Value.Float64()
	}
	return out
}
