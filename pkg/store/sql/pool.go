// Package sql implements fsm.PersistencePort on top of database/sql,
// supporting Postgres (via jackc/pgx's stdlib driver or lib/pq) and SQLite
// (via mattn/go-sqlite3).
package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
	_ "github.com/lib/pq"              // registers "postgres" driver
	_ "github.com/mattn/go-sqlite3"    // registers "sqlite3" driver
)

// PoolConfig configures the underlying *sql.DB connection pool.
type PoolConfig struct {
	DriverName string
	DSN        string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns sane defaults for driverName/dsn.
func DefaultPoolConfig(driverName, dsn string) PoolConfig {
	return PoolConfig{
		DriverName:      driverName,
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Pool wraps a *sql.DB configured and verified at construction time.
type Pool struct {
	db     *sql.DB
	config PoolConfig
}

// NewPool opens and pings a connection pool for config, failing fast if the
// configuration is invalid or the database is unreachable.
func NewPool(config PoolConfig) (*Pool, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("sql: DSN cannot be empty")
	}
	if config.DriverName == "" {
		return nil, fmt.Errorf("sql: DriverName cannot be empty")
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 25
	}
	if config.MaxIdleConns < 0 || config.MaxIdleConns > config.MaxOpenConns {
		config.MaxIdleConns = 5
	}

	db, err := sql.Open(config.DriverName, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("sql: open %s: %w", config.DriverName, err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sql: ping %s: %w", config.DriverName, err)
	}

	return &Pool{db: db, config: config}, nil
}

// DB returns the underlying *sql.DB.
func (p *Pool) DB() *sql.DB { return p.db }

// Close closes the pool.
func (p *Pool) Close() error { return p.db.Close() }

// Stats returns the pool's connection statistics.
func (p *Pool) Stats() sql.DBStats { return p.db.Stats() }
