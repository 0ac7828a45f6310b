package repository

import (
	"cmp"
	"database/sql"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
	_ "github.com/lib/pq"
)

// postgresDSN renders a lib/pq keyword/value connection string.
func postgresDSN(cfg domain.RepositoryConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=5",
		cmp.Or(cfg.PostgresHost, "localhost"),
		cmp.Or(cfg.PostgresPort, 5432),
		cfg.PostgresUser,
		cfg.PostgresPassword,
		cmp.Or(cfg.PostgresDB, "harrier"),
		cmp.Or(cfg.PostgresSSLMode, "disable"),
	)
}

// openPostgres opens a PostgreSQL connection pool and verifies it.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	return db, nil
}
