package codec

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/AegisFleet/internal/domain"
)

func sampleCollection() *domain.TriggeredCollectionSchemeData {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	return &domain.TriggeredCollectionSchemeData{
		EventID:     7,
		TriggerTime: ts,
		Metadata: domain.PassThroughMetadata{
			CollectionSchemeID: "brake-event",
			DecoderID:          "dm-1",
			Priority:           3,
			Persist:            true,
		},
		Signals: []domain.CollectedSignal{
			{SignalID: 100, ReceiveTime: ts, Value: domain.Int16Value(-42)},
			{SignalID: 101, ReceiveTime: ts.Add(time.Millisecond), Value: domain.DoubleValue(12.5)},
		},
		CANFrames: []*domain.CollectedCANRawFrame{
			domain.NewCollectedCANRawFrame(0x7e8, 1, ts, []byte{0xde, 0xad}),
		},
		DTCInfo: domain.DTCInfo{ReceiveTime: ts, SID: 0x19, Codes: []string{"P0143"}},
	}
}

func TestCBORPreservesTaggedValues(t *testing.T) {
	in := sampleCollection()

	b, err := MarshalCBOR(in)
	require.NoError(t, err)
	out, err := UnmarshalCBOR(b)
	require.NoError(t, err)

	assert.Equal(t, in, out)
	v, ok := out.Signals[0].Value.Int16()
	require.True(t, ok)
	assert.Equal(t, int16(-42), v)
}

func TestCBORIsDeterministic(t *testing.T) {
	a, err := MarshalCBOR(sampleCollection())
	require.NoError(t, err)
	b, err := MarshalCBOR(sampleCollection())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestUnmarshalRejectsUnknownSignalType(t *testing.T) {
	b, err := Marshal(Record{Signals: []SignalRecord{{ID: 1, Type: 200}}})
	require.NoError(t, err)
	_, err = UnmarshalCBOR(b)
	assert.Error(t, err)
}

func TestMarshalJSONCarriesPromotedValue(t *testing.T) {
	b, err := MarshalJSON(sampleCollection())
	require.NoError(t, err)

	var r Record
	require.NoError(t, json.Unmarshal(b, &r))
	assert.Equal(t, "brake-event", r.Scheme)
	assert.Equal(t, -42.0, r.Signals[0].Value)
}
