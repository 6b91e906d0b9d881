package sqlstore

import (
	"context"
	"database/sql"

	domain "finitefield.org/usermapping/internal/domain"
	"finitefield.org/usermapping/internal/platform/sqldb"
	"finitefield.org/usermapping/internal/repositories"
)

var fieldMappingTable = table[domain.FieldMapping]{
	name:    "mapping_user_fields",
	columns: []string{"src_field_key", "trg_field_key"},
	filters: filterSet("src_field_key", "trg_field_key"),
	encode: func(m domain.FieldMapping) []any {
		return []any{m.SourceFieldKey, m.TargetFieldKey}
	},
	decode: func(row rowScanner) (domain.FieldMapping, error) {
		var (
			m        domain.FieldMapping
			src, trg sql.NullString
		)
		if err := row.Scan(&m.ID, &src, &trg); err != nil {
			return domain.FieldMapping{}, err
		}
		m.SourceFieldKey = nullString(src)
		m.TargetFieldKey = nullString(trg)
		return m, nil
	},
	id:     func(m domain.FieldMapping) int64 { return m.ID },
	withID: func(m domain.FieldMapping, id int64) domain.FieldMapping { m.ID = id; return m },
}

var optionMappingTable = table[domain.OptionMapping]{
	name:    "mapping_user_fields_options",
	columns: []string{"src_value_key", "trg_value_key", "src_field", "trg_field"},
	filters: filterSet("src_field", "trg_field", "src_value_key"),
	encode: func(m domain.OptionMapping) []any {
		return []any{m.SourceValueKey, m.TargetValueKey, m.SourceField, m.TargetField}
	},
	decode: func(row rowScanner) (domain.OptionMapping, error) {
		var (
			m                            domain.OptionMapping
			srcValue, trgValue, src, trg sql.NullString
		)
		if err := row.Scan(&m.ID, &srcValue, &trgValue, &src, &trg); err != nil {
			return domain.OptionMapping{}, err
		}
		m.SourceValueKey = nullString(srcValue)
		m.TargetValueKey = nullString(trgValue)
		m.SourceField = nullString(src)
		m.TargetField = nullString(trg)
		return m, nil
	},
	id:     func(m domain.OptionMapping) int64 { return m.ID },
	withID: func(m domain.OptionMapping, id int64) domain.OptionMapping { m.ID = id; return m },
}

// FieldMappingRepository stores field-to-field links.
type FieldMappingRepository struct {
	base baseRepository[domain.FieldMapping]
}

var _ repositories.FieldMappingRepository = (*FieldMappingRepository)(nil)

// Insert implements repositories.FieldMappingRepository.
func (r *FieldMappingRepository) Insert(ctx context.Context, mapping domain.FieldMapping) (domain.FieldMapping, error) {
	return r.base.insert(ctx, "field_mappings.insert", fieldMappingTable, mapping)
}

// Get implements repositories.FieldMappingRepository.
func (r *FieldMappingRepository) Get(ctx context.Context, id int64) (domain.FieldMapping, error) {
	return r.base.get(ctx, "field_mappings.get", fieldMappingTable, id)
}

// List implements repositories.FieldMappingRepository.
func (r *FieldMappingRepository) List(ctx context.Context, filter repositories.ListFilter) (domain.CursorPage[domain.FieldMapping], error) {
	return r.base.list(ctx, "field_mappings.list", fieldMappingTable, filter)
}

// ListAll implements repositories.FieldMappingRepository.
func (r *FieldMappingRepository) ListAll(ctx context.Context) ([]domain.FieldMapping, error) {
	return r.base.all(ctx, "field_mappings.list_all", fieldMappingTable)
}

// Update implements repositories.FieldMappingRepository.
func (r *FieldMappingRepository) Update(ctx context.Context, mapping domain.FieldMapping) (domain.FieldMapping, error) {
	return r.base.update(ctx, "field_mappings.update", fieldMappingTable, mapping)
}

// Delete implements repositories.FieldMappingRepository.
func (r *FieldMappingRepository) Delete(ctx context.Context, id int64) error {
	return r.base.delete(ctx, "field_mappings.delete", fieldMappingTable, id)
}

const sheetRowsQuery = `SELECT s.field_key, s.name, s.data_type, t.field_key, t.name, t.data_type
FROM mapping_user_fields m
JOIN src_user_fields s ON s.field_key = m.src_field_key
JOIN trg_user_fields t ON t.field_key = m.trg_field_key
ORDER BY m.id`

// SheetRows implements repositories.FieldMappingRepository.
func (r *FieldMappingRepository) SheetRows(ctx context.Context) ([]domain.MappingSheetRow, error) {
	rows, err := r.base.db.Querier(ctx).QueryContext(ctx, sheetRowsQuery)
	if err != nil {
		return nil, sqldb.WrapError("field_mappings.sheet_rows", err)
	}
	defer rows.Close()

	var out []domain.MappingSheetRow
	for rows.Next() {
		var (
			row                                domain.MappingSheetRow
			srcName, srcType, trgName, trgType sql.NullString
		)
		if err := rows.Scan(&row.SourceFieldKey, &srcName, &srcType, &row.TargetFieldKey, &trgName, &trgType); err != nil {
			return nil, sqldb.WrapError("field_mappings.sheet_rows", err)
		}
		row.SourceName = nullString(srcName)
		row.SourceDataType = nullString(srcType)
		row.TargetName = nullString(trgName)
		row.TargetDataType = nullString(trgType)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, sqldb.WrapError("field_mappings.sheet_rows", err)
	}
	return out, nil
}

// OptionMappingRepository stores option value links.
type OptionMappingRepository struct {
	base baseRepository[domain.OptionMapping]
}

var _ repositories.OptionMappingRepository = (*OptionMappingRepository)(nil)

// Insert implements repositories.OptionMappingRepository.
func (r *OptionMappingRepository) Insert(ctx context.Context, mapping domain.OptionMapping) (domain.OptionMapping, error) {
	return r.base.insert(ctx, "option_mappings.insert", optionMappingTable, mapping)
}

// Get implements repositories.OptionMappingRepository.
func (r *OptionMappingRepository) Get(ctx context.Context, id int64) (domain.OptionMapping, error) {
	return r.base.get(ctx, "option_mappings.get", optionMappingTable, id)
}

// List implements repositories.OptionMappingRepository.
func (r *OptionMappingRepository) List(ctx context.Context, filter repositories.ListFilter) (domain.CursorPage[domain.OptionMapping], error) {
	return r.base.list(ctx, "option_mappings.list", optionMappingTable, filter)
}

// ListAll implements repositories.OptionMappingRepository.
func (r *OptionMappingRepository) ListAll(ctx context.Context) ([]domain.OptionMapping, error) {
	return r.base.all(ctx, "option_mappings.list_all", optionMappingTable)
}

// Update implements repositories.OptionMappingRepository.
func (r *OptionMappingRepository) Update(ctx context.Context, mapping domain.OptionMapping) (domain.OptionMapping, error) {
	return r.base.update(ctx, "option_mappings.update", optionMappingTable, mapping)
}

// Delete implements repositories.OptionMappingRepository.
func (r *OptionMappingRepository) Delete(ctx context.Context, id int64) error {
	return r.base.delete(ctx, "option_mappings.delete", optionMappingTable, id)
}
