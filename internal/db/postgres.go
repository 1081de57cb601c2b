// Package db provides the PostgreSQL pool and the repositories for
// notification templates and the user directory.
package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DB owns the pgx pool shared by the template repository and the directory.
type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Config locates the database. URL, when set, wins over the keyword fields.
type Config struct {
	URL             string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	ApplicationName string
	MaxConns        int32
}

// DSN renders the connection string pgx parses.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}

	parts := []string{
		fmt.Sprintf("host=%s", c.Host),
		fmt.Sprintf("port=%d", c.Port),
		fmt.Sprintf("user=%s", c.User),
	}
	if c.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", c.Password))
	}
	parts = append(parts, fmt.Sprintf("dbname=%s", c.Database))
	if c.SSLMode != "" {
		parts = append(parts, fmt.Sprintf("sslmode=%s", c.SSLMode))
	}
	return strings.Join(parts, " ")
}

// PoolConfig parses the DSN and applies the notifier's pool sizing.
func (c Config) PoolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	pc.MaxConns = 10
	if c.MaxConns > 0 {
		pc.MaxConns = c.MaxConns
	}
	pc.MinConns = min(2, pc.MaxConns)
	pc.MaxConnLifetime = time.Hour
	pc.MaxConnIdleTime = 15 * time.Minute
	pc.HealthCheckPeriod = time.Minute

	name := c.ApplicationName
	if name == "" {
		name = "canteen-notifier"
	}
	pc.ConnConfig.RuntimeParams["application_name"] = name
	return pc, nil
}

// New opens the pool and pings it once.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	pc, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("host", pc.ConnConfig.Host),
		zap.Uint16("port", pc.ConnConfig.Port),
		zap.String("database", pc.ConnConfig.Database),
		zap.Int32("max_conns", pc.MaxConns),
	)

	return &DB{pool: pool, logger: logger}, nil
}

func (db *DB) Close() {
	db.logger.Info("closing database connection pool")
	db.pool.Close()
}

// Pool exposes the pool to the migrator and repositories.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks the pool can still reach the server.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}
