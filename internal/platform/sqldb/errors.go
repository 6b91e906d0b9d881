package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a storage failure for the service layer.
type Kind uint8

const (
	KindOther Kind = iota
	KindNotFound
	KindConflict
	KindUnavailable
)

// Error carries the failing operation and its Kind. It satisfies repositories.RepositoryError.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) IsNotFound() bool    { return e != nil && e.Kind == KindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.Kind == KindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.Kind == KindUnavailable }

// NotFound reports a lookup that matched no rows.
func NotFound(op string, format string, args ...any) error {
	return &Error{Op: op, Kind: KindNotFound, Err: fmt.Errorf(format, args...)}
}

// WrapError classifies a driver error. Context errors come back untouched so callers can still
// tell a cancelled request from a database fault. An *Error already in the chain keeps its Kind
// and the wrapping text around it is preserved.
func WrapError(op string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if direct, ok := err.(*Error); ok && direct.Op != "" {
		return direct
	}
	var classified *Error
	if errors.As(err, &classified) {
		return &Error{Op: op, Kind: classified.Kind, Err: err}
	}
	return &Error{Op: op, Kind: classify(err), Err: err}
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return KindNotFound
	case uniqueViolation(err):
		return KindConflict
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone),
		sqliteBusy(err), pgRetryable(err), mssqlRetryable(err):
		return KindUnavailable
	default:
		return KindOther
	}
}

func uniqueViolation(err error) bool {
	switch {
	case sqliteUniqueViolation(err), pgCode(err) == pgUniqueViolation:
		return true
	}
	switch mssqlNumber(err) {
	case mssqlUniqueIndex, mssqlUniqueConstraint:
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
