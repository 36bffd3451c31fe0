package domain

import "time"

// Config holds the complete ringwatch configuration.
type Config struct {
	Server ServerConfig `koanf:"server"`

	// Component configurations
	Repository RepositoryConfig `koanf:"repository"`
	Cache      CacheConfig      `koanf:"cache"`
	EventBus   EventBusConfig   `koanf:"eventbus"`
	Worker     WorkerConfig     `koanf:"worker"`

	// Engine tunables
	Detection   DetectionConfig `koanf:"detection"`
	ReasonRules []ReasonRule    `koanf:"reasonrules" validate:"dive"`

	// Observability
	Logging LoggingConfig `koanf:"logging"`
	Tracing TracingConfig `koanf:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `koanf:"readtimeout"`
	WriteTimeout time.Duration `koanf:"writetimeout"`

	// MaxUploadBytes bounds a multipart upload.
	MaxUploadBytes int64 `koanf:"maxuploadbytes"`
}

// DetectionConfig holds the structural detector tunables.
type DetectionConfig struct {
	// FanThreshold is the in/out degree at which fan_in/fan_out is flagged.
	FanThreshold int `koanf:"fanthreshold" validate:"gt=0"`

	// ShellMaxOutDegree is the largest out-degree a shell intermediate may have.
	ShellMaxOutDegree int `koanf:"shellmaxoutdegree" validate:"gt=0"`

	// ShellMaxChainsPerNode caps emitted shell chains per origin account.
	// It trades recall for runtime on dense graphs.
	ShellMaxChainsPerNode int `koanf:"shellmaxchainspernode" validate:"gt=0"`
}

// WorkerConfig controls the async analysis worker.
type WorkerConfig struct {
	Enabled bool `koanf:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level       string `koanf:"level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format      string `koanf:"format" validate:"omitempty,oneof=json console"`
	Development bool   `koanf:"development"`
}

// TracingConfig holds OpenTelemetry settings. Spans are exported over
// OTLP/gRPC to Endpoint.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	ServiceName string  `koanf:"servicename"`
	Endpoint    string  `koanf:"endpoint" validate:"required_if=Enabled true"`
	Insecure    bool    `koanf:"insecure"`
	SampleRatio float64 `koanf:"sampleratio" validate:"gte=0,lte=1"`
}

// DefaultDetectionConfig returns the detector defaults.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		FanThreshold:          8,
		ShellMaxOutDegree:     2,
		ShellMaxChainsPerNode: 500,
	}
}

// DefaultConfig returns a configuration suitable for a single node:
// SQLite reports, in-memory cache and a channel event bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   120 * time.Second,
			MaxUploadBytes: 64 << 20,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./output/ringwatch.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 256,
			LocalTTL:     30 * time.Minute,
			ResultTTL:    24 * time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		Worker: WorkerConfig{
			Enabled: true,
		},
		Detection: DefaultDetectionConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "ringwatch",
			Endpoint:    "localhost:4317",
			Insecure:    true,
			SampleRatio: 1.0,
		},
	}
}
