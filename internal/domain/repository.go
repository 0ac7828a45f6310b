package domain

import (
	"context"
	"time"
)

// ConfigReader loads a tenant's configuration snapshot.
type ConfigReader interface {
	LoadSnapshot(ctx context.Context, tenantID int64) (*Snapshot, error)
}

// ResultSink persists the outcome of an evaluation.
type ResultSink interface {
	SaveEvaluationRun(ctx context.Context, run *EvaluationRun, logs []APICallLog) error
}

// Repository is the SQL-backed store for configuration and results.
// All methods require a tenantID for strict multi-tenancy isolation.
type Repository interface {
	ConfigReader
	ResultSink

	// Configuration writes
	SaveParameter(ctx context.Context, tenantID int64, p *Parameter) error
	SaveFactor(ctx context.Context, tenantID int64, f *Factor) error
	SaveRuleMaster(ctx context.Context, tenantID int64, m *RuleMaster) error
	SaveRule(ctx context.Context, tenantID int64, r *Rule) error
	SaveEcard(ctx context.Context, tenantID int64, c *Ecard) error
	SavePcard(ctx context.Context, tenantID int64, c *Pcard) error
	SaveProduct(ctx context.Context, tenantID int64, p *Product) error
	SaveProductCapAmount(ctx context.Context, tenantID int64, c *ProductCapAmount) error
	SaveProductCap(ctx context.Context, tenantID int64, c *ProductCap) error
	SaveExternalAPI(ctx context.Context, tenantID int64, a *ExternalAPI) error
	SaveParameterAlias(ctx context.Context, tenantID int64, a *ParameterAlias) error

	// Results
	GetEvaluationRun(ctx context.Context, tenantID int64, requestID string) (*EvaluationRun, error)
	ListAPICallLogs(ctx context.Context, tenantID int64, runID string) ([]APICallLog, error)

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
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
