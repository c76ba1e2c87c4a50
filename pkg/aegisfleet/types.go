package aegisfleet

import (
	"time"

	"github.com/ghalamif/AegisFleet/internal/domain"
	"github.com/ghalamif/AegisFleet/internal/ports"
)

type (
	SignalID             = domain.SignalID
	SignalType           = domain.SignalType
	SignalValue          = domain.SignalValue
	CollectedSignal      = domain.CollectedSignal
	CANRawFrameID        = domain.CANRawFrameID
	CANChannelID         = domain.CANChannelID
	CollectedCANRawFrame = domain.CollectedCANRawFrame
	DTCInfo              = domain.DTCInfo
	EventID              = domain.EventID
	PassThroughMetadata  = domain.PassThroughMetadata
)

// Collection is one triggered snapshot: the buffered signals, frames and DTCs
// of a condition at the moment it fired.
type Collection = domain.TriggeredCollectionSchemeData

// Collector streams decoded signals from any data source (OPC UA, CAN
// decoders, simulators) into the inspection queue.
type Collector = ports.Collector

// Sink consumes batches of collections and ships them off the vehicle.
type Sink = ports.Sink

// Transport moves encoded payloads produced by the sender sink.
type Transport = ports.Transport

// TransmitParams carries per-payload delivery hints.
type TransmitParams = ports.TransmitParams

// Observability emits metrics/logs about throughput, latency, and DLQ conditions.
type Observability = ports.Observability

// Field is a structured log/metric field used by Observability implementations.
type Field = ports.Field

// WAL abstracts the spool used for collections that must not be lost.
type WAL = ports.WAL

// WALStats exposes WAL metadata for observability.
type WALStats = ports.WALStats

// WALEntryID uniquely identifies a WAL entry.
type WALEntryID = ports.WALEntryID

// InspectionEventListener is told about every emitted collection.
type InspectionEventListener = ports.InspectionEventListener

// Typed value constructors.
var (
	DoubleValue    = domain.DoubleValue
	FloatValue     = domain.FloatValue
	BoolValue      = domain.BoolValue
	Int64Value     = domain.Int64Value
	Uint64Value    = domain.Uint64Value
	NewSignalValue = domain.NewSignalValue
)

// NewCANFrame copies at most 64 bytes of data into a frame.
func NewCANFrame(frameID CANRawFrameID, channelID CANChannelID, ts time.Time, data []byte) *CollectedCANRawFrame {
	return domain.NewCollectedCANRawFrame(frameID, channelID, ts, data)
}
