package config

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var EmbedMigrations embed.FS

// PgConfig holds the PostgreSQL configuration.
type PgConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string

	// RunMigrations applies pending goose migrations on connect.
	RunMigrations bool
}

// PgConfigFromEnv reads the PostgreSQL configuration from POSTGRES_* env vars.
func PgConfigFromEnv() (PgConfig, error) {
	cfg := PgConfig{
		Host:          os.Getenv("POSTGRES_HOST"),
		Port:          os.Getenv("POSTGRES_PORT"),
		Database:      os.Getenv("POSTGRES_DB"),
		Username:      os.Getenv("POSTGRES_USER"),
		Password:      os.Getenv("POSTGRES_PASSWORD"),
		SSLMode:       os.Getenv("POSTGRES_SSLMODE"),
		RunMigrations: os.Getenv("POSTGRES_RUN_MIGRATIONS") == "true",
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == "" {
		cfg.Port = "5432"
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.Database == "" {
		return cfg, fmt.Errorf("POSTGRES_DB is required")
	}
	if cfg.Username == "" {
		return cfg, fmt.Errorf("POSTGRES_USER is required")
	}
	if cfg.Password == "" {
		return cfg, fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	return cfg, nil
}

// ConnStr returns the postgres connection string for this configuration.
func (cfg PgConfig) ConnStr() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)
}

// LoadPostgres initializes the PostgreSQL connection pool and optionally runs
// migrations.
func LoadPostgres(ctx context.Context, log *slog.Logger, cfg PgConfig) (*pgxpool.Pool, error) {
	connStr := cfg.ConnStr()

	log.Info("config: connecting to PostgreSQL",
		"host", cfg.Host, "port", cfg.Port, "database", cfg.Database, "username", cfg.Username)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if cfg.RunMigrations {
		if err := RunMigrations(log, connStr); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return pool, nil
}

// RunMigrations runs database migrations using goose.
func RunMigrations(log *slog.Logger, connStr string) error {
	log.Info("config: running PostgreSQL migrations")

	goose.SetBaseFS(EmbedMigrations)

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("config: PostgreSQL migrations completed")
	return nil
}
