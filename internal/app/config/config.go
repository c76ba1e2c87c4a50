package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ghalamif/AegisFleet/internal/adapters/opcua"
	"github.com/ghalamif/AegisFleet/internal/adapters/sender"
	"github.com/ghalamif/AegisFleet/internal/ports"
)

type Config struct {
	Inspection InspectionConfig `yaml:"inspection" toml:"inspection"`
	OPCUA      opcua.Config     `yaml:"opcua" toml:"opcua"`
	Publish    PublishConfig    `yaml:"publish" toml:"publish"`
	Timescale  TimescaleConfig  `yaml:"timescale" toml:"timescale"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
	WAL        WALConfig        `yaml:"wal" toml:"wal"`
	Matrix     MatrixConfig     `yaml:"matrix" toml:"matrix"`
	Log        LogConfig        `yaml:"log" toml:"log"`
}

type InspectionConfig struct {
	IdleTime            time.Duration `yaml:"idle_time" toml:"idle_time"`
	AliveWindow         time.Duration `yaml:"alive_window" toml:"alive_window"`
	DataReduction       bool          `yaml:"data_reduction" toml:"data_reduction"`
	MaxActiveConditions int           `yaml:"max_active_conditions" toml:"max_active_conditions"`
	MaxSignals          int           `yaml:"max_signals" toml:"max_signals"`
	SignalQueueLen      int           `yaml:"signal_queue_len" toml:"signal_queue_len"`
	FrameQueueLen       int           `yaml:"frame_queue_len" toml:"frame_queue_len"`
	DTCQueueLen         int           `yaml:"dtc_queue_len" toml:"dtc_queue_len"`
	OutputQueueLen      int           `yaml:"output_queue_len" toml:"output_queue_len"`
}

// PublishConfig drives the publish pipeline. Sink selects "timescale" or
// "sender"; the sender writes encoded payloads into PayloadDir.
type PublishConfig struct {
	ports.Policy          `yaml:",inline"`
	Sink                  string `yaml:"sink" toml:"sink"`
	Codec                 string `yaml:"codec" toml:"codec"`
	Format                string `yaml:"format" toml:"format"`
	MaxMessagesPerPayload int    `yaml:"max_messages_per_payload" toml:"max_messages_per_payload"`
	PayloadDir            string `yaml:"payload_dir" toml:"payload_dir"`
}

type TimescaleConfig struct {
	ConnString string `yaml:"conn_string" toml:"conn_string"`
	Table      string `yaml:"table" toml:"table"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

type WALConfig struct {
	Dir string `yaml:"dir" toml:"dir"`
}

type MatrixConfig struct {
	Path  string `yaml:"path" toml:"path"`
	Watch bool   `yaml:"watch" toml:"watch"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a YAML or TOML file, chosen by extension.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(raw), &cfg); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Inspection.IdleTime == 0 {
		c.Inspection.IdleTime = 5 * time.Millisecond
	}
	if c.Inspection.SignalQueueLen == 0 {
		c.Inspection.SignalQueueLen = 10_000
	}
	if c.Inspection.FrameQueueLen == 0 {
		c.Inspection.FrameQueueLen = 1_000
	}
	if c.Inspection.DTCQueueLen == 0 {
		c.Inspection.DTCQueueLen = 16
	}
	if c.Inspection.OutputQueueLen == 0 {
		c.Inspection.OutputQueueLen = 256
	}

	pol := &c.Publish.Policy
	if pol.MaxWALSizeBytes == 0 {
		pol.MaxWALSizeBytes = 1 << 30
	}
	if pol.MaxQueueLen == 0 {
		pol.MaxQueueLen = c.Inspection.SignalQueueLen
	}
	if pol.MaxBatchSize == 0 {
		pol.MaxBatchSize = 64
	}
	if pol.IdleSleep == 0 {
		pol.IdleSleep = 50 * time.Millisecond
	}
	if pol.RetryInterval == 0 {
		pol.RetryInterval = 5 * time.Second
	}
	if pol.OnQueueFull == "" {
		pol.OnQueueFull = "drop"
	}
	if pol.OnWALFull == "" {
		pol.OnWALFull = "drop"
	}
	if c.Publish.Sink == "" {
		if c.Timescale.ConnString != "" {
			c.Publish.Sink = "timescale"
		} else {
			c.Publish.Sink = "sender"
		}
	}
	if c.Publish.Codec == "" {
		c.Publish.Codec = string(sender.CodecSnappy)
	}
	if c.Publish.Format == "" {
		c.Publish.Format = string(sender.FormatCBOR)
	}
	if c.Publish.PayloadDir == "" {
		c.Publish.PayloadDir = "./data/outbox"
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Timescale.Table == "" {
		c.Timescale.Table = "collections"
	}
	if c.WAL.Dir == "" {
		c.WAL.Dir = "./data/wal"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.OPCUA.Endpoint != "" {
		c.OPCUA.ApplyDefaults()
	}
}

func (c *Config) validate() error {
	if c.OPCUA.Endpoint != "" {
		if err := c.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	}
	if c.Inspection.IdleTime < 0 || c.Inspection.AliveWindow < 0 {
		return fmt.Errorf("inspection durations must not be negative")
	}
	if c.Inspection.MaxActiveConditions < 0 || c.Inspection.MaxSignals < 0 {
		return fmt.Errorf("inspection limits must not be negative")
	}
	switch c.Publish.Sink {
	case "timescale":
		if c.Timescale.ConnString == "" {
			return fmt.Errorf("timescale.conn_string is required")
		}
	case "sender":
		if _, err := sender.ParseCodec(c.Publish.Codec); err != nil {
			return fmt.Errorf("publish.codec: %w", err)
		}
		switch sender.Format(c.Publish.Format) {
		case sender.FormatCBOR, sender.FormatJSON:
		default:
			return fmt.Errorf("publish.format %q is not supported", c.Publish.Format)
		}
	default:
		return fmt.Errorf("publish.sink %q is not supported", c.Publish.Sink)
	}
	switch c.Publish.OnQueueFull {
	case "drop", "reject", "block":
	default:
		return fmt.Errorf("publish.on_queue_full %q is not supported", c.Publish.OnQueueFull)
	}
	switch c.Publish.OnWALFull {
	case "drop", "block":
	default:
		return fmt.Errorf("publish.on_wal_full %q is not supported", c.Publish.OnWALFull)
	}
	if c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	if c.WAL.Dir == "" {
		return fmt.Errorf("wal.dir is required")
	}
	if c.Matrix.Watch && c.Matrix.Path == "" {
		return fmt.Errorf("matrix.watch requires matrix.path")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q is not supported", c.Log.Format)
	}
	return nil
}
