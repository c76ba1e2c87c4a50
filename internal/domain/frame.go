package domain

import "time"

// MaxCANFrameByteSize is the largest payload a CAN FD frame can carry.
const MaxCANFrameByteSize = 64

// CANRawFrameID is the arbitration id of a raw bus frame.
type CANRawFrameID uint32

// CANChannelID identifies the bus interface a frame was received on.
type CANChannelID uint32

// CollectedCANRawFrame is a raw frame captured off the bus. Producers push it
// by pointer and must not mutate it afterwards; several conditions may hold
// the same instance.
type CollectedCANRawFrame struct {
	FrameID     CANRawFrameID
	ChannelID   CANChannelID
	ReceiveTime time.Time
	Data        [MaxCANFrameByteSize]byte
	Size        uint8
}

// NewCollectedCANRawFrame copies at most MaxCANFrameByteSize bytes of data.
func NewCollectedCANRawFrame(frameID CANRawFrameID, channelID CANChannelID, ts time.Time, data []byte) *CollectedCANRawFrame {
	f := &CollectedCANRawFrame{
		FrameID:     frameID,
		ChannelID:   channelID,
		ReceiveTime: ts,
	}
	f.Size = uint8(copy(f.Data[:], data))
	return f
}

// Payload returns the populated bytes of the frame.
func (f *CollectedCANRawFrame) Payload() []byte {
	return f.Data[:f.Size]
}

// DTCInfo is a snapshot of active diagnostic trouble codes.
type DTCInfo struct {
	ReceiveTime time.Time
	SID         uint8
	Codes       []string
}

// HasItems reports whether any code is active.
func (d *DTCInfo) HasItems() bool {
	return d != nil && len(d.Codes) > 0
}
