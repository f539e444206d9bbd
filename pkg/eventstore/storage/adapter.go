// Package storage is the Storage Adapter: pooled connections, a single
// transaction boundary with retry-relevant error classification, and
// nothing else. It knows nothing about events, aggregates or positions —
// that belongs to the engine. Grounded on the teacher's
// pkg/sqlite/eventstore.go connection setup, generalized so the engine
// owns the SQL rather than a generated sqlc client.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, no cgo

	"github.com/nexusid/eventstore/pkg/credentials"
	"github.com/nexusid/eventstore/pkg/eventstore/migrate"
	"github.com/nexusid/eventstore/pkg/logging"
)

// Config holds the Adapter's connection parameters.
type Config struct {
	dsn             string
	dsnResolver     credentials.Resolver
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
	walMode         bool
	autoMigrate     bool
	logger          logging.Logger
}

func defaultConfig() Config {
	return Config{
		dsn:             "eventstore.db",
		maxOpenConns:    25,
		maxIdleConns:    5,
		connMaxLifetime: time.Hour,
		walMode:         true,
		autoMigrate:     true,
		logger:          logging.NoOp(),
	}
}

// Option configures an Adapter.
type Option func(*Config)

// WithDSN sets the data source name (file path or ":memory:").
func WithDSN(dsn string) Option { return func(c *Config) { c.dsn = dsn } }

// WithMemoryDatabase targets an in-memory database, as used by tests.
func WithMemoryDatabase() Option { return func(c *Config) { c.dsn = ":memory:" } }

// WithDSNResolver sources the connection string from a Resolver at
// Open time instead of a literal WithDSN value, so the DSN can come
// from a secret manager or watched config source. Takes precedence
// over WithDSN when both are set.
func WithDSNResolver(r credentials.Resolver) Option {
	return func(c *Config) { c.dsnResolver = r }
}

// WithMaxOpenConns bounds the pool's open connections.
func WithMaxOpenConns(n int) Option { return func(c *Config) { c.maxOpenConns = n } }

// WithMaxIdleConns bounds the pool's idle connections.
func WithMaxIdleConns(n int) Option { return func(c *Config) { c.maxIdleConns = n } }

// WithWALMode toggles write-ahead logging. Ignored for :memory: databases.
func WithWALMode(enabled bool) Option { return func(c *Config) { c.walMode = enabled } }

// WithAutoMigrate toggles running embedded migrations on Open.
func WithAutoMigrate(enabled bool) Option { return func(c *Config) { c.autoMigrate = enabled } }

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Adapter is a pooled SQL connection with a transaction boundary that
// classifies failures into the neutral FailureClass taxonomy instead of
// letting callers pattern-match on driver error codes.
type Adapter struct {
	db     *sql.DB
	logger logging.Logger
}

// Open connects, configures the pool, optionally enables WAL mode and
// runs embedded migrations.
func Open(opts ...Option) (*Adapter, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	dsn := cfg.dsn
	if cfg.dsnResolver != nil {
		resolved, err := cfg.dsnResolver.DSN(context.Background())
		if err != nil {
			return nil, fmt.Errorf("resolve dsn: %w", err)
		}
		dsn = resolved
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dsn == ":memory:" {
		// Every connection to ":memory:" is an isolated database; pin to one.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.maxOpenConns)
		db.SetMaxIdleConns(cfg.maxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.connMaxLifetime)

	a := &Adapter{db: db, logger: cfg.logger}

	if cfg.walMode && dsn != ":memory:" {
		if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL; PRAGMA foreign_keys = ON;`); err != nil {
			db.Close()
			return nil, fmt.Errorf("set wal mode: %w", err)
		}
	} else {
		if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	if cfg.autoMigrate {
		m := migrate.New(db, "schema_migrations")
		if err := m.LoadFromFS(migrate.SQLFiles, migrate.SQLDir); err != nil {
			db.Close()
			return nil, fmt.Errorf("load migrations: %w", err)
		}
		if err := m.Up(); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	return a, nil
}

// DB exposes the underlying pool for callers that issue plain reads
// outside a transaction (e.g. the engine's Query/Search surface).
func (a *Adapter) DB() *sql.DB { return a.db }

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on any error, including a panic which it re-raises after
// rollback.
func (a *Adapter) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Health pings the pool.
func (a *Adapter) Health(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close releases the pool.
func (a *Adapter) Close() error {
	return a.db.Close()
}
