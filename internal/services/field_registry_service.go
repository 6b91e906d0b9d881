package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "finitefield.org/usermapping/internal/domain"
	"finitefield.org/usermapping/internal/repositories"
)

var (
	// ErrFieldInvalidInput indicates the caller supplied an invalid field or option.
	ErrFieldInvalidInput = errors.New("field_registry: invalid input")
	// ErrFieldNotFound indicates the requested field or option does not exist.
	ErrFieldNotFound = errors.New("field_registry: not found")
	// ErrFieldConflict indicates the key is already registered on that side.
	ErrFieldConflict = errors.New("field_registry: conflict")
	// ErrFieldUnavailable indicates the registry backend could not serve the request.
	ErrFieldUnavailable = errors.New("field_registry: service unavailable")
)

var fieldRegistryErrors = repoErrorMapping{
	invalid:     ErrFieldInvalidInput,
	notFound:    ErrFieldNotFound,
	conflict:    ErrFieldConflict,
	unavailable: ErrFieldUnavailable,
}

// FieldRegistryServiceDeps wires the registry repositories.
type FieldRegistryServiceDeps struct {
	Fields     repositories.FieldRepository
	Options    repositories.OptionRepository
	UnitOfWork repositories.UnitOfWork
	Logger     func(context.Context, string, map[string]any)
}

type fieldRegistryService struct {
	fields  repositories.FieldRepository
	options repositories.OptionRepository
	uow     repositories.UnitOfWork
	logger  func(context.Context, string, map[string]any)
}

var _ FieldRegistryService = (*fieldRegistryService)(nil)

// NewFieldRegistryService constructs the registry service.
func NewFieldRegistryService(deps FieldRegistryServiceDeps) (FieldRegistryService, error) {
	if deps.Fields == nil {
		return nil, errors.New("field registry service: field repository is required")
	}
	if deps.Options == nil {
		return nil, errors.New("field registry service: option repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &fieldRegistryService{
		fields:  deps.Fields,
		options: deps.Options,
		uow:     deps.UnitOfWork,
		logger:  logger,
	}, nil
}

func (s *fieldRegistryService) CreateField(ctx context.Context, cmd CreateFieldCommand) (Field, error) {
	if !cmd.Side.Valid() {
		return Field{}, fmt.Errorf("%w: side must be src or trg", ErrFieldInvalidInput)
	}
	field := Field{
		Side:     cmd.Side,
		Name:     strings.TrimSpace(cmd.Name),
		Key:      strings.TrimSpace(cmd.Key),
		DataType: strings.TrimSpace(cmd.DataType),
		Kind:     domain.FieldKindSystem,
	}
	if field.Key == "" {
		return Field{}, fmt.Errorf("%w: field_key is required", ErrFieldInvalidInput)
	}
	if raw := strings.TrimSpace(cmd.Kind); raw != "" {
		kind, ok := domain.ParseFieldKind(raw)
		if !ok {
			return Field{}, fmt.Errorf("%w: field_type must be system or custom", ErrFieldInvalidInput)
		}
		field.Kind = kind
	}

	created, err := s.fields.Insert(ctx, field)
	if err != nil {
		return Field{}, fieldRegistryErrors.translate(err)
	}
	s.logger(ctx, "field.created", map[string]any{"side": string(created.Side), "fieldKey": created.Key, "id": created.ID})
	return created, nil
}

func (s *fieldRegistryService) GetField(ctx context.Context, side domain.Side, id int64) (Field, error) {
	if !side.Valid() || id <= 0 {
		return Field{}, ErrFieldInvalidInput
	}
	field, err := s.fields.Get(ctx, side, id)
	if err != nil {
		return Field{}, fieldRegistryErrors.translate(err)
	}
	return field, nil
}

func (s *fieldRegistryService) ListFields(ctx context.Context, side domain.Side, filter ListFilter) (domain.CursorPage[Field], error) {
	if !side.Valid() {
		return domain.CursorPage[Field]{}, ErrFieldInvalidInput
	}
	page, err := s.fields.List(ctx, side, filter)
	if err != nil {
		return domain.CursorPage[Field]{}, fieldRegistryErrors.translate(err)
	}
	return page, nil
}

func (s *fieldRegistryService) UpdateField(ctx context.Context, cmd UpdateFieldCommand) (Field, error) {
	if !cmd.Side.Valid() || cmd.ID <= 0 {
		return Field{}, ErrFieldInvalidInput
	}
	if cmd.Patch.Empty() {
		return Field{}, fmt.Errorf("%w: no attributes to update", ErrFieldInvalidInput)
	}
	if cmd.Patch.Kind != nil {
		kind, ok := domain.ParseFieldKind(string(*cmd.Patch.Kind))
		if !ok {
			return Field{}, fmt.Errorf("%w: field_type must be system or custom", ErrFieldInvalidInput)
		}
		cmd.Patch.Kind = &kind
	}
	if cmd.Patch.Key != nil && strings.TrimSpace(*cmd.Patch.Key) == "" {
		return Field{}, fmt.Errorf("%w: field_key is required", ErrFieldInvalidInput)
	}

	var updated Field
	err := runInTx(ctx, s.uow, func(ctx context.Context) error {
		current, err := s.fields.Get(ctx, cmd.Side, cmd.ID)
		if err != nil {
			return err
		}
		updated, err = s.fields.Update(ctx, applyFieldPatch(current, cmd.Patch))
		return err
	})
	if err != nil {
		return Field{}, fieldRegistryErrors.translate(err)
	}
	s.logger(ctx, "field.updated", map[string]any{"side": string(updated.Side), "fieldKey": updated.Key, "id": updated.ID})
	return updated, nil
}

func (s *fieldRegistryService) DeleteField(ctx context.Context, side domain.Side, id int64) error {
	if !side.Valid() || id <= 0 {
		return ErrFieldInvalidInput
	}
	// Mappings that still reference the key are left in place.
	if err := s.fields.Delete(ctx, side, id); err != nil {
		return fieldRegistryErrors.translate(err)
	}
	s.logger(ctx, "field.deleted", map[string]any{"side": string(side), "id": id})
	return nil
}

func (s *fieldRegistryService) CreateOption(ctx context.Context, cmd CreateOptionCommand) (FieldOption, error) {
	if !cmd.Side.Valid() {
		return FieldOption{}, fmt.Errorf("%w: side must be src or trg", ErrFieldInvalidInput)
	}
	option := FieldOption{
		Side:      cmd.Side,
		Label:     strings.TrimSpace(cmd.Label),
		Key:       strings.TrimSpace(cmd.Key),
		ParentKey: strings.TrimSpace(cmd.ParentKey),
	}
	if option.Key == "" {
		return FieldOption{}, fmt.Errorf("%w: option_key is required", ErrFieldInvalidInput)
	}

	var created FieldOption
	err := runInTx(ctx, s.uow, func(ctx context.Context) error {
		if err := AdmitParent(ctx, s.fields, option.Side, option.ParentKey); err != nil {
			return err
		}
		var err error
		created, err = s.options.Insert(ctx, option)
		return err
	})
	if err != nil {
		return FieldOption{}, fieldRegistryErrors.translate(err)
	}
	s.logger(ctx, "option.created", map[string]any{"side": string(created.Side), "optionKey": created.Key, "parentKey": created.ParentKey})
	return created, nil
}

func (s *fieldRegistryService) GetOption(ctx context.Context, side domain.Side, id int64) (FieldOption, error) {
	if !side.Valid() || id <= 0 {
		return FieldOption{}, ErrFieldInvalidInput
	}
	option, err := s.options.Get(ctx, side, id)
	if err != nil {
		return FieldOption{}, fieldRegistryErrors.translate(err)
	}
	return option, nil
}

func (s *fieldRegistryService) ListOptions(ctx context.Context, side domain.Side, filter ListFilter) (domain.CursorPage[FieldOption], error) {
	if !side.Valid() {
		return domain.CursorPage[FieldOption]{}, ErrFieldInvalidInput
	}
	page, err := s.options.List(ctx, side, filter)
	if err != nil {
		return domain.CursorPage[FieldOption]{}, fieldRegistryErrors.translate(err)
	}
	return page, nil
}

func (s *fieldRegistryService) UpdateOption(ctx context.Context, cmd UpdateOptionCommand) (FieldOption, error) {
	if !cmd.Side.Valid() || cmd.ID <= 0 {
		return FieldOption{}, ErrFieldInvalidInput
	}
	if cmd.Patch.Empty() {
		return FieldOption{}, fmt.Errorf("%w: no attributes to update", ErrFieldInvalidInput)
	}
	if cmd.Patch.Key != nil && strings.TrimSpace(*cmd.Patch.Key) == "" {
		return FieldOption{}, fmt.Errorf("%w: option_key is required", ErrFieldInvalidInput)
	}

	var updated FieldOption
	err := runInTx(ctx, s.uow, func(ctx context.Context) error {
		current, err := s.options.Get(ctx, cmd.Side, cmd.ID)
		if err != nil {
			return err
		}
		next := applyOptionPatch(current, cmd.Patch)
		if next.ParentKey != current.ParentKey {
			if err := AdmitParent(ctx, s.fields, next.Side, next.ParentKey); err != nil {
				return err
			}
		}
		updated, err = s.options.Update(ctx, next)
		return err
	})
	if err != nil {
		return FieldOption{}, fieldRegistryErrors.translate(err)
	}
	s.logger(ctx, "option.updated", map[string]any{"side": string(updated.Side), "optionKey": updated.Key, "parentKey": updated.ParentKey})
	return updated, nil
}

func (s *fieldRegistryService) DeleteOption(ctx context.Context, side domain.Side, id int64) error {
	if !side.Valid() || id <= 0 {
		return ErrFieldInvalidInput
	}
	if err := s.options.Delete(ctx, side, id); err != nil {
		return fieldRegistryErrors.translate(err)
	}
	s.logger(ctx, "option.deleted", map[string]any{"side": string(side), "id": id})
	return nil
}

func applyFieldPatch(field Field, patch domain.FieldPatch) Field {
	if patch.Name != nil {
		field.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Key != nil {
		field.Key = strings.TrimSpace(*patch.Key)
	}
	if patch.DataType != nil {
		field.DataType = strings.TrimSpace(*patch.DataType)
	}
	if patch.Kind != nil {
		field.Kind = *patch.Kind
	}
	return field
}

func applyOptionPatch(option FieldOption, patch domain.FieldOptionPatch) FieldOption {
	if patch.Label != nil {
		option.Label = strings.TrimSpace(*patch.Label)
	}
	if patch.Key != nil {
		option.Key = strings.TrimSpace(*patch.Key)
	}
	if patch.ParentKey != nil {
		option.ParentKey = strings.TrimSpace(*patch.ParentKey)
	}
	return option
}
