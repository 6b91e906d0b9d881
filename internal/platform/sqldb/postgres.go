package sqldb

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

func init() {
	Register(Dialect{
		Kind:           "postgres",
		DriverName:     "pgx",
		Placeholder:    dollar,
		MaxOpenConns:   10,
		WriteIsolation: sql.LevelSerializable,
		ReadIsolation:  sql.LevelRepeatableRead,
		ReadOnlyTx:     true,
		Schema:         postgresSchema,
		ignore:         ignoreOnConflict,
		retryable:      pgRetryable,
	})
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS src_user_fields (id BIGSERIAL PRIMARY KEY, name TEXT, field_key TEXT UNIQUE NOT NULL, data_type TEXT, field_type TEXT)`,
	`CREATE TABLE IF NOT EXISTS trg_user_fields (id BIGSERIAL PRIMARY KEY, name TEXT, field_key TEXT UNIQUE NOT NULL, data_type TEXT, field_type TEXT)`,
	`CREATE TABLE IF NOT EXISTS src_user_options (id BIGSERIAL PRIMARY KEY, option_values TEXT, option_key TEXT UNIQUE NOT NULL, parent_key TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS trg_user_options (id BIGSERIAL PRIMARY KEY, option_values TEXT, option_key TEXT UNIQUE NOT NULL, parent_key TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS mapping_user_fields (id BIGSERIAL PRIMARY KEY, src_field_key TEXT, trg_field_key TEXT)`,
	`CREATE TABLE IF NOT EXISTS mapping_user_fields_options (id BIGSERIAL PRIMARY KEY, src_value_key TEXT, trg_value_key TEXT, src_field TEXT, trg_field TEXT)`,
	`CREATE TABLE IF NOT EXISTS idempotency_records (record_key TEXT PRIMARY KEY, fingerprint TEXT NOT NULL, state TEXT NOT NULL, status_code INTEGER, headers TEXT, body BYTEA, expires_at BIGINT NOT NULL, updated_at BIGINT NOT NULL)`,
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func pgRetryable(err error) bool {
	switch pgCode(err) {
	case pgSerializationFailure, pgDeadlockDetected:
		return true
	}
	return false
}
