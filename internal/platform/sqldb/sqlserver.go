package sqldb

import (
	"database/sql"
	"errors"

	_ "github.com/microsoft/go-mssqldb"
)

const (
	mssqlUniqueIndex      = 2601
	mssqlUniqueConstraint = 2627
	mssqlDeadlockVictim   = 1205
)

func init() {
	Register(Dialect{
		Kind:           "sqlserver",
		DriverName:     "sqlserver",
		Placeholder:    atP,
		MaxOpenConns:   10,
		WriteIsolation: sql.LevelSerializable,
		ReadIsolation:  sql.LevelSerializable,
		Schema:         sqlserverSchema,
		ignore:         ignoreNotExists,
		outputID:       true,
		retryable:      mssqlRetryable,
	})
}

var sqlserverSchema = []string{
	`IF OBJECT_ID(N'src_user_fields', N'U') IS NULL CREATE TABLE src_user_fields (id BIGINT IDENTITY(1,1) PRIMARY KEY, name NVARCHAR(512), field_key NVARCHAR(255) NOT NULL UNIQUE, data_type NVARCHAR(64), field_type NVARCHAR(32))`,
	`IF OBJECT_ID(N'trg_user_fields', N'U') IS NULL CREATE TABLE trg_user_fields (id BIGINT IDENTITY(1,1) PRIMARY KEY, name NVARCHAR(512), field_key NVARCHAR(255) NOT NULL UNIQUE, data_type NVARCHAR(64), field_type NVARCHAR(32))`,
	`IF OBJECT_ID(N'src_user_options', N'U') IS NULL CREATE TABLE src_user_options (id BIGINT IDENTITY(1,1) PRIMARY KEY, option_values NVARCHAR(512), option_key NVARCHAR(255) NOT NULL UNIQUE, parent_key NVARCHAR(255) NOT NULL)`,
	`IF OBJECT_ID(N'trg_user_options', N'U') IS NULL CREATE TABLE trg_user_options (id BIGINT IDENTITY(1,1) PRIMARY KEY, option_values NVARCHAR(512), option_key NVARCHAR(255) NOT NULL UNIQUE, parent_key NVARCHAR(255) NOT NULL)`,
	`IF OBJECT_ID(N'mapping_user_fields', N'U') IS NULL CREATE TABLE mapping_user_fields (id BIGINT IDENTITY(1,1) PRIMARY KEY, src_field_key NVARCHAR(255), trg_field_key NVARCHAR(255))`,
	`IF OBJECT_ID(N'mapping_user_fields_options', N'U') IS NULL CREATE TABLE mapping_user_fields_options (id BIGINT IDENTITY(1,1) PRIMARY KEY, src_value_key NVARCHAR(255), trg_value_key NVARCHAR(255), src_field NVARCHAR(255), trg_field NVARCHAR(255))`,
	`IF OBJECT_ID(N'idempotency_records', N'U') IS NULL CREATE TABLE idempotency_records (record_key NVARCHAR(450) PRIMARY KEY, fingerprint NVARCHAR(128) NOT NULL, state NVARCHAR(16) NOT NULL, status_code INT, headers NVARCHAR(MAX), body VARBINARY(MAX), expires_at BIGINT NOT NULL, updated_at BIGINT NOT NULL)`,
}

type mssqlNumbered interface {
	SQLErrorNumber() int32
}

func mssqlNumber(err error) int32 {
	var numbered mssqlNumbered
	if errors.As(err, &numbered) {
		return numbered.SQLErrorNumber()
	}
	return 0
}

func mssqlRetryable(err error) bool {
	return mssqlNumber(err) == mssqlDeadlockVictim
}
