package domain

import "time"

// EventID identifies one triggered collection.
type EventID uint32

// TriggeredCollectionSchemeData is the engine's output for one trigger. It is
// never modified after it is pushed to the output queue.
type TriggeredCollectionSchemeData struct {
	Metadata    PassThroughMetadata
	TriggerTime time.Time
	Signals     []CollectedSignal
	CANFrames   []*CollectedCANRawFrame
	DTCInfo     DTCInfo
	EventID     EventID
}
