package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server" toml:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier" yaml:"tier" toml:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository" toml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache" toml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"event_bus" toml:"event_bus"`
	Scanner    ScannerConfig    `json:"scanner" yaml:"scanner" toml:"scanner"`
	Notify     NotifyConfig     `json:"notify" yaml:"notify" toml:"notify"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging" toml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing" toml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host" toml:"host"`
	Port         int    `json:"port" yaml:"port" toml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"read_timeout" toml:"read_timeout"`    // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"write_timeout" toml:"write_timeout"` // seconds
}

// ScannerConfig controls the background and on-demand scans.
type ScannerConfig struct {
	AutoStart          bool    `json:"autoStart" yaml:"auto_start" toml:"auto_start"`
	IntervalSec        int     `json:"intervalSec" yaml:"interval_sec" toml:"interval_sec"`
	BatchSize          int     `json:"batchSize" yaml:"batch_size" toml:"batch_size"` // max entities fetched per module per pass
	Workers            int     `json:"workers" yaml:"workers" toml:"workers"`
	EntityTimeoutSec   int     `json:"entityTimeoutSec" yaml:"entity_timeout_sec" toml:"entity_timeout_sec"`
	OnDemandTimeoutSec int     `json:"onDemandTimeoutSec" yaml:"on_demand_timeout_sec" toml:"on_demand_timeout_sec"`
	EntitiesPerSecond  float64 `json:"entitiesPerSecond" yaml:"entities_per_second" toml:"entities_per_second"` // 0 = unlimited
}

func (c ScannerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

func (c ScannerConfig) EntityTimeout() time.Duration {
	return time.Duration(c.EntityTimeoutSec) * time.Second
}

func (c ScannerConfig) OnDemandTimeout() time.Duration {
	return time.Duration(c.OnDemandTimeoutSec) * time.Second
}

// NotifyConfig selects where newly created insights are announced.
type NotifyConfig struct {
	// Bus publishes insight events on the event bus.
	Bus bool `json:"bus" yaml:"bus" toml:"bus"`

	// WebhookURL, when set, receives each event as a JSON POST.
	WebhookURL        string `json:"webhookUrl" yaml:"webhook_url" toml:"webhook_url"`
	WebhookTimeoutSec int    `json:"webhookTimeoutSec" yaml:"webhook_timeout_sec" toml:"webhook_timeout_sec"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`    // debug, info, warn, error
	Format string `json:"format" yaml:"format" toml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	ServiceName  string `json:"serviceName" yaml:"service_name" toml:"service_name"`
	ExporterType string `json:"exporterType" yaml:"exporter_type" toml:"exporter_type"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTLSec:  300, // 5 minutes
			StatsTTLSec:  300,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scanner: ScannerConfig{
			AutoStart:          true,
			IntervalSec:        300,
			BatchSize:          100,
			Workers:            8,
			EntityTimeoutSec:   30,
			OnDemandTimeoutSec: 15,
		},
		Notify: NotifyConfig{
			Bus:               true,
			WebhookTimeoutSec: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "kestrel",
		PostgresSSLMode: "disable",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTLSec:    60,
		StatsTTLSec:    300,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
