// Package config loads Harrier configuration from an optional YAML file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration. The tier defaults come first
// (HARRIER_TIER), then HARRIER_CONFIG_FILE if set, then individual
// environment variables. The result is validated.
func Load() (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv("HARRIER_TIER"), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	if path := os.Getenv("HARRIER_CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *domain.Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *domain.Config) error {
	envString("DATABASE_DRIVER", &cfg.Repository.Driver)
	envString("SQLITE_PATH", &cfg.Repository.SQLitePath)
	envString("POSTGRES_HOST", &cfg.Repository.PostgresHost)
	envString("POSTGRES_USER", &cfg.Repository.PostgresUser)
	envString("POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	envString("POSTGRES_DB", &cfg.Repository.PostgresDB)
	envString("POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)
	envString("REDIS_ADDR", &cfg.Cache.RedisAddr)
	envString("NATS_URL", &cfg.EventBus.NATSUrl)
	envString("LOG_LEVEL", &cfg.Logging.Level)
	envString("SCORE_PARAMETER", &cfg.Eligibility.ScoreParameter)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Sink.KafkaBrokers = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Endpoint = v
	}

	return errors.Join(
		envInt("HARRIER_HTTP_PORT", &cfg.Server.Port),
		envInt("POSTGRES_PORT", &cfg.Repository.PostgresPort),
		envInt("ENRICHMENT_CONCURRENCY", &cfg.Enrichment.Concurrency),
		envDuration("ENRICHMENT_TIMEOUT", &cfg.Enrichment.CallTimeout),
		envDuration("SNAPSHOT_TTL", &cfg.Cache.SnapshotTTL),
	)
}

// Validate rejects configurations the server cannot start with.
func Validate(cfg *domain.Config) error {
	var errs []error
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", cfg.Server.Port))
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", cfg.Repository.Driver))
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unsupported cache type %q", cfg.Cache.Type))
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		errs = append(errs, fmt.Errorf("unsupported event bus type %q", cfg.EventBus.Type))
	}
	if cfg.Enrichment.Concurrency < 1 {
		errs = append(errs, errors.New("enrichment concurrency must be at least 1"))
	}
	if cfg.Enrichment.CallTimeout <= 0 {
		errs = append(errs, errors.New("enrichment timeout must be positive"))
	}
	if cfg.Cache.SnapshotTTL <= 0 {
		errs = append(errs, errors.New("snapshot ttl must be positive"))
	}
	if strings.TrimSpace(cfg.Eligibility.ScoreParameter) == "" {
		errs = append(errs, errors.New("score parameter is required"))
	}
	return errors.Join(errs...)
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) error {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = v
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = v
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
