// Package config loads ratedesk configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/ratedesk/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RATEDESK_"

// Load builds a configuration: tier defaults, then the YAML file at path (if
// any), then RATEDESK_* environment overrides.
func Load(path string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if os.Getenv(EnvPrefix+"TIER") == string(domain.TierPro) {
		cfg = domain.ProConfig()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration can start a process.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("repository.driver must be sqlite or postgres, got %q", cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.type must be memory or redis, got %q", cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("eventBus.type must be channel or nats, got %q", cfg.EventBus.Type)
	}
	if cfg.Backend.MaxRetries < 0 {
		return fmt.Errorf("backend.maxRetries must not be negative")
	}
	if cfg.Storage.Enabled && (cfg.Storage.Endpoint == "" || cfg.Storage.Bucket == "") {
		return fmt.Errorf("storage.endpoint and storage.bucket are required when storage is enabled")
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *domain.Config, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var errs []string
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("HOST", &cfg.Server.Host)
	num("PORT", &cfg.Server.Port)

	str("BACKEND_URL", &cfg.Backend.BaseURL)
	str("BACKEND_TOKEN", &cfg.Backend.Token)
	dur("BACKEND_TIMEOUT", &cfg.Backend.Timeout)
	num("BACKEND_MAX_RETRIES", &cfg.Backend.MaxRetries)

	str("DB_DRIVER", &cfg.Repository.Driver)
	str("SQLITE_PATH", &cfg.Repository.SQLitePath)
	str("POSTGRES_HOST", &cfg.Repository.PostgresHost)
	num("POSTGRES_PORT", &cfg.Repository.PostgresPort)
	str("POSTGRES_USER", &cfg.Repository.PostgresUser)
	str("POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	str("POSTGRES_DB", &cfg.Repository.PostgresDB)
	str("POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)

	str("CACHE_TYPE", &cfg.Cache.Type)
	str("REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	dur("MASTER_DATA_TTL", &cfg.Cache.MasterDataTTL)

	str("BUS_TYPE", &cfg.EventBus.Type)
	str("NATS_URL", &cfg.EventBus.NATSUrl)
	str("NATS_TOKEN", &cfg.EventBus.NATSToken)

	flag("STORAGE_ENABLED", &cfg.Storage.Enabled)
	str("MINIO_ENDPOINT", &cfg.Storage.Endpoint)
	str("MINIO_ACCESS_KEY", &cfg.Storage.AccessKey)
	str("MINIO_SECRET_KEY", &cfg.Storage.SecretKey)
	flag("MINIO_SECURE", &cfg.Storage.Secure)
	str("MINIO_BUCKET", &cfg.Storage.Bucket)
	str("MINIO_PUBLIC_URL", &cfg.Storage.PublicURL)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	if v, ok := lookup(EnvPrefix + "DEBUG"); ok && v == "true" {
		cfg.Logging.Level = "debug"
	}

	flag("TRACING_ENABLED", &cfg.Tracing.Enabled)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}
