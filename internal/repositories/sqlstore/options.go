package sqlstore

import (
	"context"
	"database/sql"

	domain "finitefield.org/usermapping/internal/domain"
	"finitefield.org/usermapping/internal/repositories"
)

func optionTable(side domain.Side) table[domain.FieldOption] {
	return table[domain.FieldOption]{
		name:    string(side) + "_user_options",
		columns: []string{"option_values", "option_key", "parent_key"},
		filters: filterSet("option_key", "parent_key"),
		encode: func(o domain.FieldOption) []any {
			return []any{o.Label, o.Key, o.ParentKey}
		},
		decode: func(row rowScanner) (domain.FieldOption, error) {
			var (
				o     domain.FieldOption
				label sql.NullString
			)
			if err := row.Scan(&o.ID, &label, &o.Key, &o.ParentKey); err != nil {
				return domain.FieldOption{}, err
			}
			o.Side = side
			o.Label = nullString(label)
			return o, nil
		},
		id:     func(o domain.FieldOption) int64 { return o.ID },
		withID: func(o domain.FieldOption, id int64) domain.FieldOption { o.ID = id; return o },
	}
}

// OptionRepository stores both option registries.
type OptionRepository struct {
	base baseRepository[domain.FieldOption]
}

var _ repositories.OptionRepository = (*OptionRepository)(nil)

// Insert implements repositories.OptionRepository.
func (r *OptionRepository) Insert(ctx context.Context, option domain.FieldOption) (domain.FieldOption, error) {
	if err := checkSide(option.Side); err != nil {
		return domain.FieldOption{}, err
	}
	return r.base.insert(ctx, "options.insert", optionTable(option.Side), option)
}

// InsertIgnore implements repositories.OptionRepository.
func (r *OptionRepository) InsertIgnore(ctx context.Context, option domain.FieldOption) (bool, error) {
	if err := checkSide(option.Side); err != nil {
		return false, err
	}
	return r.base.insertIgnore(ctx, "options.insert_ignore", optionTable(option.Side), option, "option_key")
}

// Get implements repositories.OptionRepository.
func (r *OptionRepository) Get(ctx context.Context, side domain.Side, id int64) (domain.FieldOption, error) {
	if err := checkSide(side); err != nil {
		return domain.FieldOption{}, err
	}
	return r.base.get(ctx, "options.get", optionTable(side), id)
}

// List implements repositories.OptionRepository.
func (r *OptionRepository) List(ctx context.Context, side domain.Side, filter repositories.ListFilter) (domain.CursorPage[domain.FieldOption], error) {
	if err := checkSide(side); err != nil {
		return domain.CursorPage[domain.FieldOption]{}, err
	}
	return r.base.list(ctx, "options.list", optionTable(side), filter)
}

// Update implements repositories.OptionRepository.
func (r *OptionRepository) Update(ctx context.Context, option domain.FieldOption) (domain.FieldOption, error) {
	if err := checkSide(option.Side); err != nil {
		return domain.FieldOption{}, err
	}
	return r.base.update(ctx, "options.update", optionTable(option.Side), option)
}

// Delete implements repositories.OptionRepository.
func (r *OptionRepository) Delete(ctx context.Context, side domain.Side, id int64) error {
	if err := checkSide(side); err != nil {
		return err
	}
	return r.base.delete(ctx, "options.delete", optionTable(side), id)
}
