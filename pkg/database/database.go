package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pharmaflow/pharmaflow-backend/pkg/config"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// DB wraps sqlx.DB with additional functionality.
//
// The query methods below shadow the embedded sqlx.DB ones: inside
// WithTenantRLS they run on the tenant transaction stored in the context,
// outside they fall through to the pool.
type DB struct {
	*sqlx.DB
	logger     *logger.Logger
	searchPath string
	cfg        *config.DatabaseConfig
}

// New creates a new database connection
func New(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	db, err := open(cfg.DSN(), cfg)
	if err != nil {
		return nil, err
	}

	return &DB{
		DB:         db,
		logger:     log,
		searchPath: searchPathFor(cfg.Schema),
		cfg:        cfg,
	}, nil
}

// NewWithDSN creates a new database connection with a DSN string
func NewWithDSN(dsn, schema string, log *logger.Logger) (*DB, error) {
	db, err := open(dsn, nil)
	if err != nil {
		return nil, err
	}

	return &DB{
		DB:         db,
		logger:     log,
		searchPath: searchPathFor(schema),
	}, nil
}

// Wrap wraps an existing sqlx handle, used with sqlmock in tests.
func Wrap(db *sqlx.DB, schema string, log *logger.Logger) *DB {
	return &DB{DB: db, logger: log, searchPath: searchPathFor(schema)}
}

func open(dsn string, cfg *config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg != nil {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

func searchPathFor(schema string) string {
	if schema == "" || schema == "public" {
		return "public"
	}
	return schema + ", public"
}

// SearchPath returns the search_path applied inside tenant transactions.
func (db *DB) SearchPath() string {
	return db.searchPath
}

// Ping checks the database connection
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// Reconnect drops idle connections so the next query dials (and
// authenticates) afresh, then checks the pool answers. Used by Retry after a
// broken connection or expired credentials.
func (db *DB) Reconnect(ctx context.Context) error {
	idle := 2
	if db.cfg != nil && db.cfg.MaxIdleConns > 0 {
		idle = db.cfg.MaxIdleConns
	}
	db.SetMaxIdleConns(0)
	db.SetMaxIdleConns(idle)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	db.logger.Info().Msg("database connections re-established")
	return nil
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) map[string]string {
	status := map[string]string{
		"status": "up",
	}

	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		status["status"] = "down"
		status["error"] = err.Error()
	}

	return status
}

// Transaction executes a function within a transaction
func (db *DB) Transaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetContext runs on the context transaction when present
func (db *DB) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if tx := db.getTx(ctx); tx != nil {
		return tx.GetContext(ctx, dest, query, args...)
	}
	return db.DB.GetContext(ctx, dest, query, args...)
}

// SelectContext runs on the context transaction when present
func (db *DB) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if tx := db.getTx(ctx); tx != nil {
		return tx.SelectContext(ctx, dest, query, args...)
	}
	return db.DB.SelectContext(ctx, dest, query, args...)
}

// ExecContext runs on the context transaction when present
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if tx := db.getTx(ctx); tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return db.DB.ExecContext(ctx, query, args...)
}

// QueryRowxContext runs on the context transaction when present
func (db *DB) QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row {
	if tx := db.getTx(ctx); tx != nil {
		return tx.QueryRowxContext(ctx, query, args...)
	}
	return db.DB.QueryRowxContext(ctx, query, args...)
}

// QueryxContext runs on the context transaction when present
func (db *DB) QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	if tx := db.getTx(ctx); tx != nil {
		return tx.QueryxContext(ctx, query, args...)
	}
	return db.DB.QueryxContext(ctx, query, args...)
}
