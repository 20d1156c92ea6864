package domain

import (
	"time"

	"github.com/opensource-finance/ratedesk/internal/logging"
)

// Config holds the complete ratedesk configuration.
type Config struct {
	// Server settings for the reference backend
	Server ServerConfig `yaml:"server"`

	// Tier determines which infrastructure backs the service
	Tier Tier `yaml:"tier"`

	// Backend is the persistence backend the engine talks to
	Backend BackendConfig `yaml:"backend"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus"`
	Storage    StorageConfig    `yaml:"storage"`

	// Observability
	Logging logging.Config `yaml:"logging"`
	Tracing TracingConfig  `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds
}

// BackendConfig points the engine at a persistence backend.
type BackendConfig struct {
	BaseURL    string        `yaml:"baseUrl"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"` // for retryable reads
}

// StorageConfig holds object storage settings for uploads.
type StorageConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Secure    bool   `yaml:"secure"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	// PublicURL is the base used to build file URLs; defaults to the endpoint.
	PublicURL string `yaml:"publicUrl"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"serviceName"`
	ExporterType string `yaml:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `yaml:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
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
		Backend: BackendConfig{
			BaseURL:    "http://localhost:8080",
			Timeout:    15 * time.Second,
			MaxRetries: 3,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./ratedesk.db",
		},
		Cache: CacheConfig{
			Type:          "memory",
			LocalMaxSize:  10000,
			LocalTTL:      5 * time.Minute,
			MasterDataTTL: 30 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Storage: StorageConfig{
			Bucket: "ratedesk-uploads",
		},
		Logging: logging.DefaultConfig(),
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "ratedesk",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "ratedesk",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		MasterDataTTL:  30 * time.Minute,
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
