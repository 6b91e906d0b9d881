package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	domain "finitefield.org/usermapping/internal/domain"
	"finitefield.org/usermapping/internal/repositories"
)

var fieldColumns = []string{"name", "field_key", "data_type", "field_type"}

func fieldTableName(side domain.Side) string {
	return string(side) + "_user_fields"
}

func fieldTable(side domain.Side) table[domain.Field] {
	return table[domain.Field]{
		name:    fieldTableName(side),
		columns: fieldColumns,
		filters: filterSet("field_key", "field_type", "data_type"),
		encode: func(f domain.Field) []any {
			return []any{f.Name, f.Key, f.DataType, string(f.Kind)}
		},
		decode: func(row rowScanner) (domain.Field, error) {
			var (
				f                    domain.Field
				name, dataType, kind sql.NullString
			)
			if err := row.Scan(&f.ID, &name, &f.Key, &dataType, &kind); err != nil {
				return domain.Field{}, err
			}
			f.Side = side
			f.Name = nullString(name)
			f.DataType = nullString(dataType)
			// Rows written by older tooling may carry mixed case.
			if parsed, ok := domain.ParseFieldKind(nullString(kind)); ok {
				f.Kind = parsed
			} else {
				f.Kind = domain.FieldKind(nullString(kind))
			}
			return f, nil
		},
		id:     func(f domain.Field) int64 { return f.ID },
		withID: func(f domain.Field, id int64) domain.Field { f.ID = id; return f },
	}
}

// FieldRepository stores both field registries; the side selects the table.
type FieldRepository struct {
	base baseRepository[domain.Field]
}

var _ repositories.FieldRepository = (*FieldRepository)(nil)

func checkSide(side domain.Side) error {
	if !side.Valid() {
		return fmt.Errorf("sqlstore: invalid side %q", side)
	}
	return nil
}

// Insert implements repositories.FieldRepository.
func (r *FieldRepository) Insert(ctx context.Context, field domain.Field) (domain.Field, error) {
	if err := checkSide(field.Side); err != nil {
		return domain.Field{}, err
	}
	return r.base.insert(ctx, "fields.insert", fieldTable(field.Side), field)
}

// InsertIgnore implements repositories.FieldRepository.
func (r *FieldRepository) InsertIgnore(ctx context.Context, field domain.Field) (bool, error) {
	if err := checkSide(field.Side); err != nil {
		return false, err
	}
	return r.base.insertIgnore(ctx, "fields.insert_ignore", fieldTable(field.Side), field, "field_key")
}

// Get implements repositories.FieldRepository.
func (r *FieldRepository) Get(ctx context.Context, side domain.Side, id int64) (domain.Field, error) {
	if err := checkSide(side); err != nil {
		return domain.Field{}, err
	}
	return r.base.get(ctx, "fields.get", fieldTable(side), id)
}

// List implements repositories.FieldRepository.
func (r *FieldRepository) List(ctx context.Context, side domain.Side, filter repositories.ListFilter) (domain.CursorPage[domain.Field], error) {
	if err := checkSide(side); err != nil {
		return domain.CursorPage[domain.Field]{}, err
	}
	return r.base.list(ctx, "fields.list", fieldTable(side), filter)
}

// ListAll implements repositories.FieldRepository.
func (r *FieldRepository) ListAll(ctx context.Context, side domain.Side) ([]domain.Field, error) {
	if err := checkSide(side); err != nil {
		return nil, err
	}
	return r.base.all(ctx, "fields.list_all", fieldTable(side))
}

// Update implements repositories.FieldRepository.
func (r *FieldRepository) Update(ctx context.Context, field domain.Field) (domain.Field, error) {
	if err := checkSide(field.Side); err != nil {
		return domain.Field{}, err
	}
	return r.base.update(ctx, "fields.update", fieldTable(field.Side), field)
}

// Delete implements repositories.FieldRepository.
func (r *FieldRepository) Delete(ctx context.Context, side domain.Side, id int64) error {
	if err := checkSide(side); err != nil {
		return err
	}
	return r.base.delete(ctx, "fields.delete", fieldTable(side), id)
}

// FieldExists implements repositories.FieldRepository and services.FieldLookup.
func (r *FieldRepository) FieldExists(ctx context.Context, side domain.Side, key string) (bool, error) {
	if err := checkSide(side); err != nil {
		return false, err
	}
	return r.base.exists(ctx, "fields.exists", fieldTableName(side), "field_key", key)
}
