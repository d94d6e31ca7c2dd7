package spec

import "time"

type SourceSpec struct {
	Kind   string `yaml:"kind"`   // mqtt | kafka
	Driver string `yaml:"driver"` // registry name; defaults from kind
	Config string `yaml:"config"` // adapter config file, relative to the pipeline file
}

type SinkSpec struct {
	Kind   string `yaml:"kind"` // postgres | kafka | stdout
	Config string `yaml:"config"`
}

type BufferSpec struct {
	Capacity int `yaml:"capacity"`
}

type DrainSpec struct {
	MaxBatch     int           `yaml:"max_batch"`
	IdleInterval time.Duration `yaml:"idle_interval"`
	RetryPolicy  struct {
		Attempts uint          `yaml:"attempts"`
		Backoff  time.Duration `yaml:"backoff"`
	} `yaml:"retry_policy"`
	// ShutdownTimeout bounds the final drain; 0 waits until the buffer is
	// empty or the store fails.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogSpec struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type debugSection struct {
	DelayMS       int  `yaml:"delay_ms"`
	PrintCounter  bool `yaml:"print_counter"`
	PrintValue    bool `yaml:"print_value"`
	ValueMaxBytes int  `yaml:"value_max_bytes"`
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`

	Source SourceSpec `yaml:"source"`
	Sink   SinkSpec   `yaml:"sink"`
	Buffer BufferSpec `yaml:"buffer"`
	Drain  DrainSpec  `yaml:"drain"`

	GRPCPort    int `yaml:"grpc_port"`    // health service; 0 disables
	MetricsPort int `yaml:"metrics_port"` // 0 disables

	Log   *LogSpec     `yaml:"log"` // nil keeps the CCOM_LOG_* settings
	Debug debugSection `yaml:"debug"`
}
