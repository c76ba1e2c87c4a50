package ports

import "time"

type Policy struct {
	MaxWALSizeBytes int64         `yaml:"max_wal_size_bytes" toml:"max_wal_size_bytes"`
	MaxQueueLen     int           `yaml:"max_queue_len" toml:"max_queue_len"`
	MaxBatchSize    int           `yaml:"max_batch_size" toml:"max_batch_size"`
	IdleSleep       time.Duration `yaml:"idle_sleep" toml:"idle_sleep"`
	// RetryInterval spaces spool replays after a failed sink write.
	RetryInterval   time.Duration `yaml:"retry_interval" toml:"retry_interval"`

	OnWALFull   string `yaml:"on_wal_full" toml:"on_wal_full"`     // "drop", "block"
	OnQueueFull string `yaml:"on_queue_full" toml:"on_queue_full"` // "drop", "reject", "block"
}
