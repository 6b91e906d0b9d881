package sqldb

import (
	"database/sql"
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

func init() {
	Register(Dialect{
		Kind:           "sqlite",
		DriverName:     "sqlite",
		Placeholder:    questionMark,
		MaxOpenConns:   1,
		WriteIsolation: sql.LevelDefault,
		ReadIsolation:  sql.LevelDefault,
		Schema:         sqliteSchema,
		ignore:         ignoreOrIgnore,
		retryable:      sqliteBusy,
	})
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS src_user_fields (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, field_key TEXT UNIQUE NOT NULL, data_type TEXT, field_type TEXT)`,
	`CREATE TABLE IF NOT EXISTS trg_user_fields (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, field_key TEXT UNIQUE NOT NULL, data_type TEXT, field_type TEXT)`,
	`CREATE TABLE IF NOT EXISTS src_user_options (id INTEGER PRIMARY KEY AUTOINCREMENT, option_values TEXT, option_key TEXT UNIQUE NOT NULL, parent_key TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS trg_user_options (id INTEGER PRIMARY KEY AUTOINCREMENT, option_values TEXT, option_key TEXT UNIQUE NOT NULL, parent_key TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS mapping_user_fields (id INTEGER PRIMARY KEY AUTOINCREMENT, src_field_key TEXT, trg_field_key TEXT)`,
	`CREATE TABLE IF NOT EXISTS mapping_user_fields_options (id INTEGER PRIMARY KEY AUTOINCREMENT, src_value_key TEXT, trg_value_key TEXT, src_field TEXT, trg_field TEXT)`,
	`CREATE TABLE IF NOT EXISTS idempotency_records (record_key TEXT PRIMARY KEY, fingerprint TEXT NOT NULL, state TEXT NOT NULL, status_code INTEGER, headers TEXT, body BLOB, expires_at INTEGER NOT NULL, updated_at INTEGER NOT NULL)`,
}

func sqliteBusy(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

func sqliteUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
