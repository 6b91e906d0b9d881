package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	domain "finitefield.org/usermapping/internal/domain"
	"finitefield.org/usermapping/internal/platform/pagination"
	"finitefield.org/usermapping/internal/platform/sqldb"
	"finitefield.org/usermapping/internal/repositories"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// table describes how one record type maps onto a table. columns excludes id, which is always
// the first selected column.
type table[T any] struct {
	name    string
	columns []string
	filters map[string]struct{}
	encode  func(T) []any
	decode  func(rowScanner) (T, error)
	id      func(T) int64
	withID  func(T, int64) T
}

// baseRepository runs the CRUD statements shared by every relation.
type baseRepository[T any] struct {
	db *sqldb.DB
}

func (b baseRepository[T]) selectList(t table[T]) string {
	return "SELECT id, " + strings.Join(t.columns, ", ") + " FROM " + t.name
}

func (b baseRepository[T]) insert(ctx context.Context, op string, t table[T], value T) (T, error) {
	q := b.db.Dialect().InsertReturningID(t.name, t.columns)
	var id int64
	if err := b.db.Querier(ctx).QueryRowContext(ctx, q, t.encode(value)...).Scan(&id); err != nil {
		var zero T
		return zero, sqldb.WrapError(op, err)
	}
	return t.withID(value, id), nil
}

func (b baseRepository[T]) insertIgnore(ctx context.Context, op string, t table[T], value T, conflictColumn string) (bool, error) {
	q, args := b.db.Dialect().InsertIgnore(t.name, t.columns, conflictColumn, t.encode(value))
	res, err := b.db.Querier(ctx).ExecContext(ctx, q, args...)
	if err != nil {
		return false, sqldb.WrapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, sqldb.WrapError(op, err)
	}
	return n > 0, nil
}

func (b baseRepository[T]) get(ctx context.Context, op string, t table[T], id int64) (T, error) {
	q := b.db.Dialect().Rebind(b.selectList(t) + " WHERE id = ?")
	value, err := t.decode(b.db.Querier(ctx).QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		var zero T
		return zero, sqldb.NotFound(op, "%s id %d not found", t.name, id)
	}
	if err != nil {
		var zero T
		return zero, sqldb.WrapError(op, err)
	}
	return value, nil
}

// list reads one keyset page ordered by id.
func (b baseRepository[T]) list(ctx context.Context, op string, t table[T], filter repositories.ListFilter) (domain.CursorPage[T], error) {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	var (
		where = []string{"id > ?"}
		args  = []any{filter.AfterID}
	)
	for _, key := range sortedKeys(filter.Equals) {
		if _, ok := t.filters[key]; !ok {
			return domain.CursorPage[T]{}, repositories.UnsupportedFilterError(key)
		}
		where = append(where, key+" = ?")
		args = append(args, filter.Equals[key])
	}

	dialect := b.db.Dialect()
	q := dialect.Rebind(fmt.Sprintf("%s WHERE %s ORDER BY id %s", b.selectList(t), strings.Join(where, " AND "), dialect.Limit(pageSize)))
	items, err := b.query(ctx, op, t, q, args...)
	if err != nil {
		return domain.CursorPage[T]{}, err
	}

	page := domain.CursorPage[T]{Items: items}
	if len(items) > 0 {
		page.NextPageToken = pagination.NextToken(t.id(items[len(items)-1]), len(items), pageSize)
	}
	return page, nil
}

func (b baseRepository[T]) all(ctx context.Context, op string, t table[T]) ([]T, error) {
	return b.query(ctx, op, t, b.selectList(t)+" ORDER BY id")
}

func (b baseRepository[T]) query(ctx context.Context, op string, t table[T], q string, args ...any) ([]T, error) {
	rows, err := b.db.Querier(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, sqldb.WrapError(op, err)
	}
	defer rows.Close()

	var items []T
	for rows.Next() {
		item, err := t.decode(rows)
		if err != nil {
			return nil, sqldb.WrapError(op, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, sqldb.WrapError(op, err)
	}
	return items, nil
}

func (b baseRepository[T]) update(ctx context.Context, op string, t table[T], value T) (T, error) {
	assignments := make([]string, len(t.columns))
	for i, column := range t.columns {
		assignments[i] = column + " = ?"
	}
	q := b.db.Dialect().Rebind(fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", t.name, strings.Join(assignments, ", ")))
	args := append(t.encode(value), t.id(value))

	res, err := b.db.Querier(ctx).ExecContext(ctx, q, args...)
	if err != nil {
		var zero T
		return zero, sqldb.WrapError(op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var zero T
		return zero, sqldb.NotFound(op, "%s id %d not found", t.name, t.id(value))
	}
	return value, nil
}

func (b baseRepository[T]) delete(ctx context.Context, op string, t table[T], id int64) error {
	q := b.db.Dialect().Rebind("DELETE FROM " + t.name + " WHERE id = ?")
	res, err := b.db.Querier(ctx).ExecContext(ctx, q, id)
	if err != nil {
		return sqldb.WrapError(op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sqldb.NotFound(op, "%s id %d not found", t.name, id)
	}
	return nil
}

func (b baseRepository[T]) exists(ctx context.Context, op string, tableName, column, value string) (bool, error) {
	dialect := b.db.Dialect()
	q := dialect.Rebind(fmt.Sprintf("SELECT id FROM %s WHERE %s = ? ORDER BY id %s", tableName, column, dialect.Limit(1)))
	var id int64
	err := b.db.Querier(ctx).QueryRowContext(ctx, q, value).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, sqldb.WrapError(op, err)
	}
	return true, nil
}

func filterSet(columns ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		set[column] = struct{}{}
	}
	return set
}

func nullString(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}
