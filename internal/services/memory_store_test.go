package services

import (
	"context"
	"fmt"
	"sync"

	domain "finitefield.org/usermapping/internal/domain"
	"finitefield.org/usermapping/internal/repositories"
)

type testRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *testRepoError) Error() string       { return e.msg }
func (e *testRepoError) IsNotFound() bool    { return e.notFound }
func (e *testRepoError) IsConflict() bool    { return e.conflict }
func (e *testRepoError) IsUnavailable() bool { return e.unavailable }

func errNotFound(what string, id int64) error {
	return &testRepoError{msg: fmt.Sprintf("%s %d not found", what, id), notFound: true}
}

func errConflict(key string) error {
	return &testRepoError{msg: fmt.Sprintf("duplicate key %q", key), conflict: true}
}

// memoryStore is an in-memory registry whose transactions restore the previous state on error.
type memoryStore struct {
	mu             sync.Mutex
	nextID         int64
	fields         map[domain.Side][]domain.Field
	options        map[domain.Side][]domain.FieldOption
	fieldMappings  []domain.FieldMapping
	optionMappings []domain.OptionMapping

	txCalls     int
	readTxCalls int
	failWith    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		fields:  map[domain.Side][]domain.Field{},
		options: map[domain.Side][]domain.FieldOption{},
	}
}

func (m *memoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryStore) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	fields := map[domain.Side][]domain.Field{}
	for side, list := range m.fields {
		fields[side] = append([]domain.Field(nil), list...)
	}
	options := map[domain.Side][]domain.FieldOption{}
	for side, list := range m.options {
		options[side] = append([]domain.FieldOption(nil), list...)
	}
	fieldMappings := append([]domain.FieldMapping(nil), m.fieldMappings...)
	optionMappings := append([]domain.OptionMapping(nil), m.optionMappings...)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.fields, m.options = fields, options
		m.fieldMappings, m.optionMappings = fieldMappings, optionMappings
	}
}

func (m *memoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txCalls++
	restore := m.snapshot()
	if err := fn(ctx); err != nil {
		restore()
		return err
	}
	return nil
}

func (m *memoryStore) RunInReadTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.readTxCalls++
	return fn(ctx)
}

func (m *memoryStore) Fields() repositories.FieldRepository                 { return memoryFields{m} }
func (m *memoryStore) Options() repositories.OptionRepository               { return memoryOptions{m} }
func (m *memoryStore) FieldMappings() repositories.FieldMappingRepository   { return memoryFieldMappings{m} }
func (m *memoryStore) OptionMappings() repositories.OptionMappingRepository { return memoryOptionMappings{m} }

func (m *memoryStore) seedField(side domain.Side, key string, kind domain.FieldKind) domain.Field {
	field, err := m.Fields().Insert(context.Background(), domain.Field{Side: side, Key: key, Name: key, Kind: kind})
	if err != nil {
		panic(err)
	}
	return field
}

func page[T any](items []T, filter repositories.ListFilter, id func(T) int64, match func(T, string, string) (bool, error)) (domain.CursorPage[T], error) {
	var out domain.CursorPage[T]
	var zero T
	for key, value := range filter.Equals {
		if _, err := match(zero, key, value); err != nil {
			return domain.CursorPage[T]{}, err
		}
	}
	for _, item := range items {
		if id(item) <= filter.AfterID {
			continue
		}
		keep := true
		for key, value := range filter.Equals {
			ok, _ := match(item, key, value)
			keep = keep && ok
		}
		if keep {
			out.Items = append(out.Items, item)
		}
	}
	if filter.PageSize > 0 && len(out.Items) > filter.PageSize {
		out.Items = out.Items[:filter.PageSize]
		out.NextPageToken = fmt.Sprintf("after:%d", id(out.Items[len(out.Items)-1]))
	}
	return out, nil
}

type memoryFields struct{ m *memoryStore }

func (r memoryFields) Insert(_ context.Context, field domain.Field) (domain.Field, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failWith != nil {
		return domain.Field{}, r.m.failWith
	}
	for _, existing := range r.m.fields[field.Side] {
		if existing.Key == field.Key {
			return domain.Field{}, errConflict(field.Key)
		}
	}
	field.ID = r.m.id()
	r.m.fields[field.Side] = append(r.m.fields[field.Side], field)
	return field, nil
}

func (r memoryFields) InsertIgnore(ctx context.Context, field domain.Field) (bool, error) {
	if _, err := r.Insert(ctx, field); err != nil {
		if repositories.IsConflict(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r memoryFields) Get(_ context.Context, side domain.Side, id int64) (domain.Field, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, field := range r.m.fields[side] {
		if field.ID == id {
			return field, nil
		}
	}
	return domain.Field{}, errNotFound("field", id)
}

func (r memoryFields) List(_ context.Context, side domain.Side, filter repositories.ListFilter) (domain.CursorPage[domain.Field], error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return page(r.m.fields[side], filter, func(f domain.Field) int64 { return f.ID }, func(f domain.Field, key, value string) (bool, error) {
		switch key {
		case "field_key":
			return f.Key == value, nil
		case "field_type":
			return string(f.Kind) == value, nil
		case "data_type":
			return f.DataType == value, nil
		}
		return false, repositories.UnsupportedFilterError(key)
	})
}

func (r memoryFields) ListAll(_ context.Context, side domain.Side) ([]domain.Field, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return append([]domain.Field(nil), r.m.fields[side]...), nil
}

func (r memoryFields) Update(_ context.Context, field domain.Field) (domain.Field, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	list := r.m.fields[field.Side]
	for i := range list {
		if list[i].ID != field.ID && list[i].Key == field.Key {
			return domain.Field{}, errConflict(field.Key)
		}
	}
	for i := range list {
		if list[i].ID == field.ID {
			list[i] = field
			return field, nil
		}
	}
	return domain.Field{}, errNotFound("field", field.ID)
}

func (r memoryFields) Delete(_ context.Context, side domain.Side, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	list := r.m.fields[side]
	for i := range list {
		if list[i].ID == id {
			r.m.fields[side] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return errNotFound("field", id)
}

func (r memoryFields) FieldExists(_ context.Context, side domain.Side, key string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, field := range r.m.fields[side] {
		if field.Key == key {
			return true, nil
		}
	}
	return false, nil
}

type memoryOptions struct{ m *memoryStore }

func (r memoryOptions) Insert(_ context.Context, option domain.FieldOption) (domain.FieldOption, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.options[option.Side] {
		if existing.Key == option.Key {
			return domain.FieldOption{}, errConflict(option.Key)
		}
	}
	option.ID = r.m.id()
	r.m.options[option.Side] = append(r.m.options[option.Side], option)
	return option, nil
}

func (r memoryOptions) InsertIgnore(ctx context.Context, option domain.FieldOption) (bool, error) {
	if _, err := r.Insert(ctx, option); err != nil {
		if repositories.IsConflict(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r memoryOptions) Get(_ context.Context, side domain.Side, id int64) (domain.FieldOption, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, option := range r.m.options[side] {
		if option.ID == id {
			return option, nil
		}
	}
	return domain.FieldOption{}, errNotFound("option", id)
}

func (r memoryOptions) List(_ context.Context, side domain.Side, filter repositories.ListFilter) (domain.CursorPage[domain.FieldOption], error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return page(r.m.options[side], filter, func(o domain.FieldOption) int64 { return o.ID }, func(o domain.FieldOption, key, value string) (bool, error) {
		switch key {
		case "option_key":
			return o.Key == value, nil
		case "parent_key":
			return o.ParentKey == value, nil
		}
		return false, repositories.UnsupportedFilterError(key)
	})
}

func (r memoryOptions) Update(_ context.Context, option domain.FieldOption) (domain.FieldOption, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	list := r.m.options[option.Side]
	for i := range list {
		if list[i].ID == option.ID {
			list[i] = option
			return option, nil
		}
	}
	return domain.FieldOption{}, errNotFound("option", option.ID)
}

func (r memoryOptions) Delete(_ context.Context, side domain.Side, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	list := r.m.options[side]
	for i := range list {
		if list[i].ID == id {
			r.m.options[side] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return errNotFound("option", id)
}

type memoryFieldMappings struct{ m *memoryStore }

func (r memoryFieldMappings) Insert(_ context.Context, mapping domain.FieldMapping) (domain.FieldMapping, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	mapping.ID = r.m.id()
	r.m.fieldMappings = append(r.m.fieldMappings, mapping)
	return mapping, nil
}

func (r memoryFieldMappings) Get(_ context.Context, id int64) (domain.FieldMapping, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, mapping := range r.m.fieldMappings {
		if mapping.ID == id {
			return mapping, nil
		}
	}
	return domain.FieldMapping{}, errNotFound("field mapping", id)
}

func (r memoryFieldMappings) List(_ context.Context, filter repositories.ListFilter) (domain.CursorPage[domain.FieldMapping], error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return page(r.m.fieldMappings, filter, func(m domain.FieldMapping) int64 { return m.ID }, func(m domain.FieldMapping, key, value string) (bool, error) {
		switch key {
		case "src_field_key":
			return m.SourceFieldKey == value, nil
		case "trg_field_key":
			return m.TargetFieldKey == value, nil
		}
		return false, repositories.UnsupportedFilterError(key)
	})
}

func (r memoryFieldMappings) ListAll(context.Context) ([]domain.FieldMapping, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return append([]domain.FieldMapping(nil), r.m.fieldMappings...), nil
}

func (r memoryFieldMappings) Update(_ context.Context, mapping domain.FieldMapping) (domain.FieldMapping, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i := range r.m.fieldMappings {
		if r.m.fieldMappings[i].ID == mapping.ID {
			r.m.fieldMappings[i] = mapping
			return mapping, nil
		}
	}
	return domain.FieldMapping{}, errNotFound("field mapping", mapping.ID)
}

func (r memoryFieldMappings) Delete(_ context.Context, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i := range r.m.fieldMappings {
		if r.m.fieldMappings[i].ID == id {
			r.m.fieldMappings = append(r.m.fieldMappings[:i:i], r.m.fieldMappings[i+1:]...)
			return nil
		}
	}
	return errNotFound("field mapping", id)
}

func (r memoryFieldMappings) SheetRows(context.Context) ([]domain.MappingSheetRow, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	find := func(side domain.Side, key string) (domain.Field, bool) {
		for _, field := range r.m.fields[side] {
			if field.Key == key {
				return field, true
			}
		}
		return domain.Field{}, false
	}
	var rows []domain.MappingSheetRow
	for _, mapping := range r.m.fieldMappings {
		src, ok := find(domain.SideSource, mapping.SourceFieldKey)
		if !ok {
			continue
		}
		trg, ok := find(domain.SideTarget, mapping.TargetFieldKey)
		if !ok {
			continue
		}
		rows = append(rows, domain.MappingSheetRow{
			SourceFieldKey: src.Key, SourceName: src.Name, SourceDataType: src.DataType,
			TargetFieldKey: trg.Key, TargetName: trg.Name, TargetDataType: trg.DataType,
		})
	}
	return rows, nil
}

type memoryOptionMappings struct{ m *memoryStore }

func (r memoryOptionMappings) Insert(_ context.Context, mapping domain.OptionMapping) (domain.OptionMapping, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	mapping.ID = r.m.id()
	r.m.optionMappings = append(r.m.optionMappings, mapping)
	return mapping, nil
}

func (r memoryOptionMappings) Get(_ context.Context, id int64) (domain.OptionMapping, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, mapping := range r.m.optionMappings {
		if mapping.ID == id {
			return mapping, nil
		}
	}
	return domain.OptionMapping{}, errNotFound("option mapping", id)
}

func (r memoryOptionMappings) List(_ context.Context, filter repositories.ListFilter) (domain.CursorPage[domain.OptionMapping], error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return page(r.m.optionMappings, filter, func(m domain.OptionMapping) int64 { return m.ID }, func(m domain.OptionMapping, key, value string) (bool, error) {
		switch key {
		case "src_field":
			return m.SourceField == value, nil
		case "trg_field":
			return m.TargetField == value, nil
		case "src_value_key":
			return m.SourceValueKey == value, nil
		}
		return false, repositories.UnsupportedFilterError(key)
	})
}

func (r memoryOptionMappings) ListAll(context.Context) ([]domain.OptionMapping, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return append([]domain.OptionMapping(nil), r.m.optionMappings...), nil
}

func (r memoryOptionMappings) Update(_ context.Context, mapping domain.OptionMapping) (domain.OptionMapping, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i := range r.m.optionMappings {
		if r.m.optionMappings[i].ID == mapping.ID {
			r.m.optionMappings[i] = mapping
			return mapping, nil
		}
	}
	return domain.OptionMapping{}, errNotFound("option mapping", mapping.ID)
}

func (r memoryOptionMappings) Delete(_ context.Context, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i := range r.m.optionMappings {
		if r.m.optionMappings[i].ID == id {
			r.m.optionMappings = append(r.m.optionMappings[:i:i], r.m.optionMappings[i+1:]...)
			return nil
		}
	}
	return errNotFound("option mapping", id)
}

type recordedEvent struct {
	name   string
	fields map[string]any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) log(_ context.Context, name string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name: name, fields: fields})
}

func (r *eventRecorder) find(name string) (recordedEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.events {
		if event.name == name {
			return event, true
		}
	}
	return recordedEvent{}, false
}
