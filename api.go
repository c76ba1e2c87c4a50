package aegisfleet

import (
	base "github.com/ghalamif/AegisFleet/pkg/aegisfleet"
)

// Re-exported errors for convenience.
var (
	ErrQueueFull         = base.ErrQueueFull
	ErrWALFull           = base.ErrWALFull
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
)

// Type aliases so consumers can import github.com/ghalamif/AegisFleet directly.
type (
	Config                  = base.Config
	Policy                  = base.Policy
	InspectionConfig        = base.InspectionConfig
	PublishConfig           = base.PublishConfig
	OPCUAConfig             = base.OPCUAConfig
	OPCUANodeConfig         = base.OPCUANodeConfig
	TimescaleConfig         = base.TimescaleConfig
	MetricsConfig           = base.MetricsConfig
	WALConfig               = base.WALConfig
	MatrixConfig            = base.MatrixConfig
	LogConfig               = base.LogConfig
	Flow                    = base.Flow
	FlowOption              = base.FlowOption
	StreamInOption          = base.StreamInOption
	StreamOutOption         = base.StreamOutOption
	AgentRuntime            = base.AgentRuntime
	AgentRuntimeOption      = base.AgentRuntimeOption
	Collection              = base.Collection
	CollectionBatchSink     = base.CollectionBatchSink
	CollectedSignal         = base.CollectedSignal
	CollectedCANRawFrame    = base.CollectedCANRawFrame
	DTCInfo                 = base.DTCInfo
	SignalID                = base.SignalID
	SignalValue             = base.SignalValue
	InspectionMatrix        = base.InspectionMatrix
	Condition               = base.Condition
	SignalCollectionInfo    = base.SignalCollectionInfo
	CANFrameCollectionInfo  = base.CANFrameCollectionInfo
	MatrixBuilder           = base.MatrixBuilder
	Collector               = base.Collector
	Sink                    = base.Sink
	Transport               = base.Transport
	WAL                     = base.WAL
	Observability           = base.Observability
	InspectionEventListener = base.InspectionEventListener
	WALEntryID              = base.WALEntryID
	WALStats                = base.WALStats
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

// Matrix helpers.
func LoadMatrix(path string) (*InspectionMatrix, error) {
	return base.LoadMatrix(path)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...AgentRuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInCollector(col Collector) StreamInOption {
	return base.StreamInCollector(col)
}

func StreamInWAL(w WAL) StreamInOption {
	return base.StreamInWAL(w)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamInMatrix(m *InspectionMatrix) StreamInOption {
	return base.StreamInMatrix(m)
}

func StreamOutSink(s Sink) StreamOutOption {
	return base.StreamOutSink(s)
}

func StreamOutTransport(t Transport) StreamOutOption {
	return base.StreamOutTransport(t)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

func StreamOutCallback(name string, fn CollectionBatchSink) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

func StreamOutListener(l InspectionEventListener) StreamOutOption {
	return base.StreamOutListener(l)
}

// Agent runtime and options.
func NewAgentRuntime(cfg *Config, opts ...AgentRuntimeOption) (*AgentRuntime, error) {
	return base.NewAgentRuntime(cfg, opts...)
}

func WithCollector(col Collector) AgentRuntimeOption {
	return base.WithCollector(col)
}

func WithSink(s Sink) AgentRuntimeOption {
	return base.WithSink(s)
}

func WithTransport(t Transport) AgentRuntimeOption {
	return base.WithTransport(t)
}

func WithWAL(w WAL) AgentRuntimeOption {
	return base.WithWAL(w)
}

func WithObservability(obs Observability) AgentRuntimeOption {
	return base.WithObservability(obs)
}

func WithMatrix(m *InspectionMatrix) AgentRuntimeOption {
	return base.WithMatrix(m)
}

func WithListener(l InspectionEventListener) AgentRuntimeOption {
	return base.WithListener(l)
}

// Sink adapters.
func NewCallbackSink(name string, fn CollectionBatchSink) Sink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (Sink, <-chan []*Collection, func()) {
	return base.NewChannelSink(name, buffer)
}
