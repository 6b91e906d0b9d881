package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"finitefield.org/usermapping/internal/platform/config"
)

const (
	defaultPingTimeout = 10 * time.Second
	defaultTxAttempts  = 3
	defaultTxTimeout   = 15 * time.Second
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB couples a connection pool with the dialect used to talk to it.
type DB struct {
	pool    *sql.DB
	dialect Dialect
}

// Open connects to the configured database and verifies connectivity.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	dialect, ok := Lookup(cfg.Kind)
	if !ok {
		return nil, fmt.Errorf("sqldb: unsupported database kind %q (registered: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("sqldb: dsn is required")
	}

	pool, err := sql.Open(dialect.DriverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqldb: open %s: %w", dialect.Kind, err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = dialect.MaxOpenConns
	}
	if maxOpen > 0 {
		pool.SetMaxOpenConns(maxOpen)
		pool.SetMaxIdleConns(maxOpen)
	}
	if cfg.ConnMaxLifetime > 0 {
		pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("sqldb: ping %s: %w", dialect.Kind, err)
	}

	return &DB{pool: pool, dialect: dialect}, nil
}

// New wraps an existing pool, primarily for tests.
func New(pool *sql.DB, dialect Dialect) *DB {
	return &DB{pool: pool, dialect: dialect}
}

// Dialect returns the SQL dialect of the connection.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if db == nil || db.pool == nil {
		return errors.New("sqldb: database not initialised")
	}
	return db.pool.PingContext(ctx)
}

// Close releases the pool.
func (db *DB) Close() error {
	if db == nil || db.pool == nil {
		return nil
	}
	return db.pool.Close()
}

// Migrate applies the dialect schema. Every statement is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range db.dialect.Schema {
		if _, err := db.pool.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqldb: migrate step %d: %w", i+1, err)
		}
	}
	return nil
}

// Querier returns the transaction bound to ctx, or the pool when none is active.
func (db *DB) Querier(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok && tx != nil {
		return tx
	}
	return db.pool
}

type txKey struct{}

// InTx reports whether ctx carries an active transaction.
func InTx(ctx context.Context) bool {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return ok && tx != nil
}

// TxFunc is executed within a transaction; repositories pick the tx up from ctx.
type TxFunc func(ctx context.Context) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
	readOnly bool
	write    bool
}

// WithTxAttempts overrides the retry attempts for serialization failures.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithReadOnly marks the transaction as a consistent read snapshot.
func WithReadOnly() TxOption {
	return func(cfg *txConfig) {
		cfg.readOnly = true
	}
}

// WithWriteIsolation runs the transaction at the dialect's check-and-write isolation level.
func WithWriteIsolation() TxOption {
	return func(cfg *txConfig) {
		cfg.write = true
	}
}

// RunInTx executes fn within a transaction. Nested calls join the outer transaction.
func (db *DB) RunInTx(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	if db == nil || db.pool == nil {
		return WrapError("transaction", errors.New("sqldb: database not initialised"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("sqldb: transaction function is nil"))
	}
	if InTx(ctx) {
		return fn(ctx)
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txnCtx := ctx
	var cancel context.CancelFunc
	if cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > cfg.timeout {
			txnCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
		}
	}
	if cancel != nil {
		defer cancel()
	}

	txOpts := &sql.TxOptions{}
	if cfg.readOnly {
		txOpts.ReadOnly = db.dialect.ReadOnlyTx
		txOpts.Isolation = db.dialect.ReadIsolation
	}
	if cfg.write {
		txOpts.Isolation = db.dialect.WriteIsolation
	}

	var err error
	for attempt := 1; attempt <= cfg.attempts; attempt++ {
		err = db.runOnce(txnCtx, fn, txOpts)
		if err == nil || !db.retryable(err) || txnCtx.Err() != nil {
			break
		}
	}
	return WrapError("transaction", err)
}

func (db *DB) runOnce(ctx context.Context, fn TxFunc, opts *sql.TxOptions) (err error) {
	tx, err := db.pool.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func (db *DB) retryable(err error) bool {
	if db.dialect.retryable == nil {
		return false
	}
	return db.dialect.retryable(err)
}
