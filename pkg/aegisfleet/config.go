package aegisfleet

import (
	"github.com/ghalamif/AegisFleet/internal/adapters/opcua"
	"github.com/ghalamif/AegisFleet/internal/app/config"
	"github.com/ghalamif/AegisFleet/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy controls WAL/queue thresholds of the publish side.
	Policy = ports.Policy
	// InspectionConfig tunes the inspection worker and its queues.
	InspectionConfig = config.InspectionConfig
	// PublishConfig selects the sink and payload encoding.
	PublishConfig = config.PublishConfig
	// OPCUAConfig holds connection + node details.
	OPCUAConfig = opcua.Config
	// OPCUANodeConfig maps a monitored node onto a signal id.
	OPCUANodeConfig = opcua.NodeConfig
	// TimescaleConfig configures the SQL sink.
	TimescaleConfig = config.TimescaleConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// WALConfig configures the on-disk spool.
	WALConfig = config.WALConfig
	// MatrixConfig points at the collection scheme document.
	MatrixConfig = config.MatrixConfig
	// LogConfig selects log level and format.
	LogConfig = config.LogConfig
)

// LoadConfig loads YAML or TOML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
