// Package domain defines the core types, interfaces and domain registry for ratedesk.
package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Repository is the storage behind the reference backend.
// All configuration and proposal methods are scoped by insurer for strict
// multi-tenancy isolation.
type Repository interface {
	// Configuration documents
	GetConfig(ctx context.Context, key ConfigKey) ([]json.RawMessage, error)
	ReplaceConfig(ctx context.Context, key ConfigKey, items []json.RawMessage) ([]json.RawMessage, error)
	MergeConfig(ctx context.Context, key ConfigKey, items []json.RawMessage) ([]json.RawMessage, error)

	// Quote bundles
	SaveProposal(ctx context.Context, insurerID string, p *ProposalAggregate) error
	GetProposal(ctx context.Context, insurerID string, quoteID string) (*ProposalAggregate, error)

	// Master data is shared by every insurer.
	SaveMasterData(ctx context.Context, kind string, options []MasterOption) error
	GetMasterData(ctx context.Context, kind string) ([]MasterOption, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDB"`
	PostgresSSLMode  string `yaml:"postgresSSLMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
