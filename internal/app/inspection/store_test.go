package inspection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/AegisFleet/internal/domain"
)

func TestStoreDownsamplesByMinimumInterval(t *testing.T) {
	s := NewStore(0)
	s.Rebuild([]domain.Condition{{
		Signals: []domain.SignalCollectionInfo{{SignalID: 1, SampleBufferSize: 10, MinimumSampleInterval: 10 * time.Millisecond}},
	}})

	dropped := 0
	for i := 0; i < 10; i++ {
		tracked, d := s.AddSignal(sig(1, t0.Add(time.Duration(i)*4*time.Millisecond), float64(i)))
		require.True(t, tracked)
		dropped += d
	}

	// Samples at 0, 12, 24 and 36ms survive.
	assert.Equal(t, []float64{0, 3, 6, 9}, values(s.Samples(1)))
	assert.Equal(t, 6, dropped)
}

func TestStoreAggregatesFixedWindows(t *testing.T) {
	cases := []struct {
		mode domain.AggregationMode
		want []float64
	}{
		{domain.AggregationLatest, []float64{4, 8}},
		{domain.AggregationAverage, []float64{2.5, 6.5}},
		{domain.AggregationMin, []float64{1, 5}},
		{domain.AggregationMax, []float64{4, 8}},
	}
	for _, tc := range cases {
		s := NewStore(0)
		s.Rebuild([]domain.Condition{{
			Signals: []domain.SignalCollectionInfo{{
				SignalID:          1,
				SampleBufferSize:  4,
				FixedWindowPeriod: 100 * time.Millisecond,
				Aggregation:       tc.mode,
			}},
		}})

		for i := 0; i < 8; i++ {
			s.AddSignal(sig(1, t0.Add(time.Duration(i)*25*time.Millisecond), float64(i+1)))
		}
		// The second window is still open until it is flushed.
		assert.Len(t, s.Samples(1), 1)

		d, ok := s.NextWindowClose(t0.Add(150 * time.Millisecond))
		require.True(t, ok)
		assert.Equal(t, 50*time.Millisecond, d)

		s.FlushWindows(t0.Add(200 * time.Millisecond))
		assert.Equal(t, tc.want, values(s.Samples(1)), "mode %d", tc.mode)
	}
}

func TestStoreAlignsWindowsToPeriodBoundaries(t *testing.T) {
	s := NewStore(0)
	s.Rebuild([]domain.Condition{{
		Signals: []domain.SignalCollectionInfo{{
			SignalID:          1,
			SampleBufferSize:  4,
			FixedWindowPeriod: 100 * time.Millisecond,
			Aggregation:       domain.AggregationMax,
		}},
	}})

	// Both samples fall in [100ms, 200ms) although the first arrives late.
	s.AddSignal(sig(1, t0.Add(180*time.Millisecond), 1))
	s.AddSignal(sig(1, t0.Add(190*time.Millisecond), 2))
	// A quiet gap does not shift the next boundary.
	s.AddSignal(sig(1, t0.Add(450*time.Millisecond), 3))
	assert.Equal(t, []float64{2}, values(s.Samples(1)))

	d, ok := s.NextWindowClose(t0.Add(460 * time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, 40*time.Millisecond, d)

	s.FlushWindows(t0.Add(499 * time.Millisecond))
	assert.Len(t, s.Samples(1), 1)
	s.FlushWindows(t0.Add(500 * time.Millisecond))
	assert.Equal(t, []float64{2, 3}, values(s.Samples(1)))
}

func TestStoreRoundTripsTypedValues(t *testing.T) {
	s := NewStore(0)
	s.Rebuild([]domain.Condition{{Signals: []domain.SignalCollectionInfo{{SignalID: 3, SampleBufferSize: 2}}}})

	tracked, _ := s.AddSignal(domain.CollectedSignal{SignalID: 3, ReceiveTime: t0, Value: domain.Int16Value(-42)})
	require.True(t, tracked)

	got := s.Samples(3)
	require.Len(t, got, 1)
	assert.Equal(t, domain.SignalTypeInt16, got[0].Value.Type())
	v, ok := got[0].Value.Int16()
	require.True(t, ok)
	assert.Equal(t, int16(-42), v)

	latest, ok := s.LatestSignal(3)
	require.True(t, ok)
	assert.Equal(t, domain.SignalTypeInt16, latest.Type())
	v, ok = latest.Int16()
	require.True(t, ok)
	assert.Equal(t, int16(-42), v)
	assert.Equal(t, -42.0, latest.Float64())
}

func TestStoreSharesBuffersWithTheSamePolicy(t *testing.T) {
	s := NewStore(0)
	layout := s.Rebuild([]domain.Condition{
		{Signals: []domain.SignalCollectionInfo{{SignalID: 1, SampleBufferSize: 2}}},
		{Signals: []domain.SignalCollectionInfo{{SignalID: 1, SampleBufferSize: 5}}},
		{Signals: []domain.SignalCollectionInfo{{SignalID: 1, SampleBufferSize: 5, MinimumSampleInterval: time.Second}}},
	})

	assert.Same(t, layout.signals[0][0], layout.signals[1][0])
	assert.NotSame(t, layout.signals[0][0], layout.signals[2][0])
	assert.Len(t, layout.signals[0][0].ring, 5)
	assert.Equal(t, 1, s.TrackedSignals())
}

func TestStoreIgnoresUnreferencedIDs(t *testing.T) {
	s := NewStore(0)
	s.Rebuild([]domain.Condition{{Signals: []domain.SignalCollectionInfo{{SignalID: 1, SampleBufferSize: 1}}}})

	tracked, _ := s.AddSignal(sig(2, t0, 1))
	assert.False(t, tracked)
	tracked, _ = s.AddCANFrame(domain.NewCollectedCANRawFrame(9, 0, t0, nil))
	assert.False(t, tracked)

	_, ok := s.LatestSignal(2)
	assert.False(t, ok)
}

func TestStoreLatestFrame(t *testing.T) {
	s := NewStore(0)
	s.Rebuild([]domain.Condition{{CANFrames: []domain.CANFrameCollectionInfo{{FrameID: 5, ChannelID: 2, SampleBufferSize: 2}}}})

	_, ok := s.LatestFrame(5, 2)
	assert.False(t, ok)

	s.AddCANFrame(domain.NewCollectedCANRawFrame(5, 2, t0, []byte{1}))
	s.AddCANFrame(domain.NewCollectedCANRawFrame(5, 2, t0.Add(time.Millisecond), []byte{2}))
	f, ok := s.LatestFrame(5, 2)
	require.True(t, ok)
	assert.Equal(t, []byte{2}, f.Payload())

	_, ok = s.LatestFrame(5, 3)
	assert.False(t, ok)
}
