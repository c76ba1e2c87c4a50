// Package codec converts triggered collections to and from the wire record
// shared by the WAL spool and the sender. CBOR uses Core Deterministic
// Encoding, so the same collection always produces identical bytes.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/ghalamif/AegisFleet/internal/domain"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Record is the serialized form of a TriggeredCollectionSchemeData.
type Record struct {
	EventID     uint32         `cbor:"1,keyasint" json:"event_id"`
	TriggerTime int64          `cbor:"2,keyasint" json:"trigger_time_ns"`
	Scheme      string         `cbor:"3,keyasint" json:"collection_scheme_id"`
	DecoderID   string         `cbor:"4,keyasint,omitempty" json:"decoder_id,omitempty"`
	Priority    uint32         `cbor:"5,keyasint,omitempty" json:"priority,omitempty"`
	Compress    bool           `cbor:"6,keyasint,omitempty" json:"compress,omitempty"`
	Persist     bool           `cbor:"7,keyasint,omitempty" json:"persist,omitempty"`
	Signals     []SignalRecord `cbor:"8,keyasint,omitempty" json:"signals,omitempty"`
	Frames      []FrameRecord  `cbor:"9,keyasint,omitempty" json:"can_frames,omitempty"`
	DTC         *DTCRecord     `cbor:"10,keyasint,omitempty" json:"dtc_info,omitempty"`
}

// SignalRecord keeps the declared type next to the raw payload bits so the
// value decodes back to exactly the same tagged value.
type SignalRecord struct {
	ID   uint32 `cbor:"1,keyasint" json:"signal_id"`
	TS   int64  `cbor:"2,keyasint" json:"receive_time_ns"`
	Type uint8  `cbor:"3,keyasint" json:"type"`
	Bits uint64 `cbor:"4,keyasint" json:"bits"`
	// Value is informational in JSON output only.
	Value float64 `cbor:"-" json:"value"`
}

type FrameRecord struct {
	FrameID   uint32 `cbor:"1,keyasint" json:"frame_id"`
	ChannelID uint32 `cbor:"2,keyasint" json:"channel_id"`
	TS        int64  `cbor:"3,keyasint" json:"receive_time_ns"`
	Data      []byte `cbor:"4,keyasint" json:"data"`
}

type DTCRecord struct {
	TS    int64    `cbor:"1,keyasint" json:"receive_time_ns"`
	SID   uint8    `cbor:"2,keyasint" json:"sid"`
	Codes []string `cbor:"3,keyasint" json:"codes"`
}

// ToRecord flattens d into its wire form.
func ToRecord(d *domain.TriggeredCollectionSchemeData) Record {
	r := Record{
		EventID:     uint32(d.EventID),
		TriggerTime: d.TriggerTime.UnixNano(),
		Scheme:      d.Metadata.CollectionSchemeID,
		DecoderID:   d.Metadata.DecoderID,
		Priority:    d.Metadata.Priority,
		Compress:    d.Metadata.Compress,
		Persist:     d.Metadata.Persist,
	}
	if len(d.Signals) > 0 {
		r.Signals = make([]SignalRecord, len(d.Signals))
		for i, s := range d.Signals {
			r.Signals[i] = SignalRecord{
				ID:    uint32(s.SignalID),
				TS:    s.ReceiveTime.UnixNano(),
				Type:  uint8(s.Value.Type()),
				Bits:  s.Value.Bits(),
				Value: s.Value.Float64(),
			}
		}
	}
	if len(d.CANFrames) > 0 {
		r.Frames = make([]FrameRecord, len(d.CANFrames))
		for i, f := range d.CANFrames {
			r.Frames[i] = FrameRecord{
				FrameID:   uint32(f.FrameID),
				ChannelID: uint32(f.ChannelID),
				TS:        f.ReceiveTime.UnixNano(),
				Data:      append([]byte(nil), f.Payload()...),
			}
		}
	}
	if d.DTCInfo.HasItems() {
		r.DTC = &DTCRecord{
			TS:    d.DTCInfo.ReceiveTime.UnixNano(),
			SID:   d.DTCInfo.SID,
			Codes: d.DTCInfo.Codes,
		}
	}
	return r
}

// FromRecord rebuilds a collection from its wire form.
func FromRecord(r Record) (*domain.TriggeredCollectionSchemeData, error) {
	d := &domain.TriggeredCollectionSchemeData{
		EventID:     domain.EventID(r.EventID),
		TriggerTime: time.Unix(0, r.TriggerTime).UTC(),
		Metadata: domain.PassThroughMetadata{
			CollectionSchemeID: r.Scheme,
			DecoderID:          r.DecoderID,
			Priority:           r.Priority,
			Compress:           r.Compress,
			Persist:            r.Persist,
		},
	}
	if len(r.Signals) > 0 {
		d.Signals = make([]domain.CollectedSignal, len(r.Signals))
		for i, s := range r.Signals {
			v, err := domain.SignalValueFromBits(domain.SignalType(s.Type), s.Bits)
			if err != nil {
				return nil, fmt.Errorf("codec: signal %d: %w", s.ID, err)
			}
			d.Signals[i] = domain.CollectedSignal{
				SignalID:    domain.SignalID(s.ID),
				ReceiveTime: time.Unix(0, s.TS).UTC(),
				Value:       v,
			}
		}
	}
	if len(r.Frames) > 0 {
		d.CANFrames = make([]*domain.CollectedCANRawFrame, len(r.Frames))
		for i, f := range r.Frames {
			if len(f.Data) > domain.MaxCANFrameByteSize {
				return nil, fmt.Errorf("codec: frame %#x: %d bytes exceeds %d",
					f.FrameID, len(f.Data), domain.MaxCANFrameByteSize)
			}
			d.CANFrames[i] = domain.NewCollectedCANRawFrame(
				domain.CANRawFrameID(f.FrameID), domain.CANChannelID(f.ChannelID),
				time.Unix(0, f.TS).UTC(), f.Data)
		}
	}
	if r.DTC != nil {
		d.DTCInfo = domain.DTCInfo{
			ReceiveTime: time.Unix(0, r.DTC.TS).UTC(),
			SID:         r.DTC.SID,
			Codes:       r.DTC.Codes,
		}
	}
	return d, nil
}

// MarshalCBOR encodes d deterministically.
func MarshalCBOR(d *domain.TriggeredCollectionSchemeData) ([]byte, error) {
	return encMode.Marshal(ToRecord(d))
}

// UnmarshalCBOR decodes a collection written by MarshalCBOR.
func UnmarshalCBOR(data []byte) (*domain.TriggeredCollectionSchemeData, error) {
	var r Record
	if err := decMode.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("codec: decode: %w", err)
	}
	return FromRecord(r)
}

// MarshalJSON encodes d for consumers that cannot read CBOR.
func MarshalJSON(d *domain.TriggeredCollectionSchemeData) ([]byte, error) {
	return json.Marshal(ToRecord(d))
}

// Marshal encodes v, any CBOR-serializable value, with the deterministic mode.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
