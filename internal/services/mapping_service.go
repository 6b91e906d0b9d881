package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "finitefield.org/usermapping/internal/domain"
	"finitefield.org/usermapping/internal/repositories"
)

var (
	// ErrMappingInvalidInput indicates the caller supplied an invalid mapping.
	ErrMappingInvalidInput = errors.New("mapping: invalid input")
	// ErrMappingNotFound indicates the requested mapping does not exist.
	ErrMappingNotFound = errors.New("mapping: not found")
	// ErrMappingConflict indicates the write collided with existing state.
	ErrMappingConflict = errors.New("mapping: conflict")
	// ErrMappingUnavailable indicates the mapping store could not serve the request.
	ErrMappingUnavailable = errors.New("mapping: service unavailable")
)

var mappingErrors = repoErrorMapping{
	invalid:     ErrMappingInvalidInput,
	notFound:    ErrMappingNotFound,
	conflict:    ErrMappingConflict,
	unavailable: ErrMappingUnavailable,
}

const mappingMeterName = "finitefield.org/usermapping/internal/services"

// MappingServiceDeps wires the mapping store, the field registry it is guarded by and the unit of work
// both run in.
type MappingServiceDeps struct {
	Fields         repositories.FieldRepository
	FieldMappings  repositories.FieldMappingRepository
	OptionMappings repositories.OptionMappingRepository
	UnitOfWork     repositories.UnitOfWork
	Logger         func(context.Context, string, map[string]any)
	Meter          metric.Meter
}

type mappingService struct {
	fields         repositories.FieldRepository
	fieldMappings  repositories.FieldMappingRepository
	optionMappings repositories.OptionMappingRepository
	uow            repositories.UnitOfWork
	logger         func(context.Context, string, map[string]any)
	compiles       metric.Int64Counter
}

var _ MappingService = (*mappingService)(nil)

// NewMappingService constructs the mapping service.
func NewMappingService(deps MappingServiceDeps) (MappingService, error) {
	if deps.Fields == nil {
		return nil, errors.New("mapping service: field repository is required")
	}
	if deps.FieldMappings == nil || deps.OptionMappings == nil {
		return nil, errors.New("mapping service: mapping repositories are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(mappingMeterName)
	}
	compiles, err := meter.Int64Counter("mapping.compile.runs",
		metric.WithDescription("Count of translation document compilations"),
	)
	if err != nil {
		return nil, fmt.Errorf("mapping service: register metrics: %w", err)
	}
	return &mappingService{
		fields:         deps.Fields,
		fieldMappings:  deps.FieldMappings,
		optionMappings: deps.OptionMappings,
		uow:            deps.UnitOfWork,
		logger:         logger,
		compiles:       compiles,
	}, nil
}

func (s *mappingService) CreateFieldMapping(ctx context.Context, cmd CreateFieldMappingCommand) (FieldMapping, error) {
	mapping := FieldMapping{
		SourceFieldKey: strings.TrimSpace(cmd.SourceFieldKey),
		TargetFieldKey: strings.TrimSpace(cmd.TargetFieldKey),
	}
	if mapping.SourceFieldKey == "" || mapping.TargetFieldKey == "" {
		return FieldMapping{}, fmt.Errorf("%w: src_field_key and trg_field_key are required", ErrMappingInvalidInput)
	}
	created, err := s.fieldMappings.Insert(ctx, mapping)
	if err != nil {
		return FieldMapping{}, mappingErrors.translate(err)
	}
	s.logger(ctx, "field_mapping.created", map[string]any{"id": created.ID, "src": created.SourceFieldKey, "trg": created.TargetFieldKey})
	return created, nil
}

func (s *mappingService) GetFieldMapping(ctx context.Context, id int64) (FieldMapping, error) {
	if id <= 0 {
		return FieldMapping{}, ErrMappingInvalidInput
	}
	mapping, err := s.fieldMappings.Get(ctx, id)
	if err != nil {
		return FieldMapping{}, mappingErrors.translate(err)
	}
	return mapping, nil
}

func (s *mappingService) ListFieldMappings(ctx context.Context, filter ListFilter) (domain.CursorPage[FieldMapping], error) {
	page, err := s.fieldMappings.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[FieldMapping]{}, mappingErrors.translate(err)
	}
	return page, nil
}

func (s *mappingService) UpdateFieldMapping(ctx context.Context, cmd UpdateFieldMappingCommand) (FieldMapping, error) {
	if cmd.ID <= 0 {
		return FieldMapping{}, ErrMappingInvalidInput
	}
	if cmd.Patch.Empty() {
		return FieldMapping{}, fmt.Errorf("%w: no attributes to update", ErrMappingInvalidInput)
	}

	var updated FieldMapping
	err := runInTx(ctx, s.uow, func(ctx context.Context) error {
		current, err := s.fieldMappings.Get(ctx, cmd.ID)
		if err != nil {
			return err
		}
		if cmd.Patch.SourceFieldKey != nil {
			current.SourceFieldKey = strings.TrimSpace(*cmd.Patch.SourceFieldKey)
		}
		if cmd.Patch.TargetFieldKey != nil {
			current.TargetFieldKey = strings.TrimSpace(*cmd.Patch.TargetFieldKey)
		}
		if current.SourceFieldKey == "" || current.TargetFieldKey == "" {
			return fmt.Errorf("%w: src_field_key and trg_field_key are required", ErrMappingInvalidInput)
		}
		updated, err = s.fieldMappings.Update(ctx, current)
		return err
	})
	if err != nil {
		return FieldMapping{}, mappingErrors.translate(err)
	}
	s.logger(ctx, "field_mapping.updated", map[string]any{"id": updated.ID, "src": updated.SourceFieldKey, "trg": updated.TargetFieldKey})
	return updated, nil
}

func (s *mappingService) DeleteFieldMapping(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrMappingInvalidInput
	}
	if err := s.fieldMappings.Delete(ctx, id); err != nil {
		return mappingErrors.translate(err)
	}
	s.logger(ctx, "field_mapping.deleted", map[string]any{"id": id})
	return nil
}

// CreateOptionMapping admits and stores the mapping in one transaction so a parent field cannot
// disappear between the check and the insert.
func (s *mappingService) CreateOptionMapping(ctx context.Context, cmd CreateOptionMappingCommand) (OptionMapping, error) {
	candidate := OptionMapping{
		SourceValueKey: strings.TrimSpace(cmd.SourceValueKey),
		TargetValueKey: strings.TrimSpace(cmd.TargetValueKey),
		SourceField:    strings.TrimSpace(cmd.SourceField),
		TargetField:    strings.TrimSpace(cmd.TargetField),
	}
	if candidate.SourceValueKey == "" || candidate.TargetValueKey == "" {
		return OptionMapping{}, fmt.Errorf("%w: src_value_key and trg_value_key are required", ErrMappingInvalidInput)
	}

	var created OptionMapping
	err := runInTx(ctx, s.uow, func(ctx context.Context) error {
		if err := AdmitOptionMapping(ctx, s.fields, candidate); err != nil {
			return err
		}
		var err error
		created, err = s.optionMappings.Insert(ctx, candidate)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrUnknownParent) {
			s.logger(ctx, "option_mapping.rejected", map[string]any{"srcField": candidate.SourceField, "trgField": candidate.TargetField, "error": err.Error()})
		}
		return OptionMapping{}, mappingErrors.translate(err)
	}
	s.logger(ctx, "option_mapping.created", map[string]any{"id": created.ID, "srcField": created.SourceField, "trgField": created.TargetField})
	return created, nil
}

func (s *mappingService) GetOptionMapping(ctx context.Context, id int64) (OptionMapping, error) {
	if id <= 0 {
		return OptionMapping{}, ErrMappingInvalidInput
	}
	mapping, err := s.optionMappings.Get(ctx, id)
	if err != nil {
		return OptionMapping{}, mappingErrors.translate(err)
	}
	return mapping, nil
}

func (s *mappingService) ListOptionMappings(ctx context.Context, filter ListFilter) (domain.CursorPage[OptionMapping], error) {
	page, err := s.optionMappings.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[OptionMapping]{}, mappingErrors.translate(err)
	}
	return page, nil
}

func (s *mappingService) UpdateOptionMapping(ctx context.Context, cmd UpdateOptionMappingCommand) (OptionMapping, error) {
	if cmd.ID <= 0 {
		return OptionMapping{}, ErrMappingInvalidInput
	}
	if cmd.Patch.Empty() {
		return OptionMapping{}, fmt.Errorf("%w: no attributes to update", ErrMappingInvalidInput)
	}
	patch := trimOptionMappingPatch(cmd.Patch)

	var updated OptionMapping
	err := runInTx(ctx, s.uow, func(ctx context.Context) error {
		current, err := s.optionMappings.Get(ctx, cmd.ID)
		if err != nil {
			return err
		}
		next := patch.Apply(current)
		if next.SourceValueKey == "" || next.TargetValueKey == "" {
			return fmt.Errorf("%w: src_value_key and trg_value_key are required", ErrMappingInvalidInput)
		}
		if next.SourceField != current.SourceField || next.TargetField != current.TargetField {
			if err := AdmitOptionMapping(ctx, s.fields, next); err != nil {
				return err
			}
		}
		updated, err = s.optionMappings.Update(ctx, next)
		return err
	})
	if err != nil {
		return OptionMapping{}, mappingErrors.translate(err)
	}
	s.logger(ctx, "option_mapping.updated", map[string]any{"id": updated.ID, "srcField": updated.SourceField, "trgField": updated.TargetField})
	return updated, nil
}

func (s *mappingService) DeleteOptionMapping(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrMappingInvalidInput
	}
	if err := s.optionMappings.Delete(ctx, id); err != nil {
		return mappingErrors.translate(err)
	}
	s.logger(ctx, "option_mapping.deleted", map[string]any{"id": id})
	return nil
}

func (s *mappingService) CompileDocument(ctx context.Context) (CompileResult, error) {
	var snapshot domain.MappingSnapshot
	err := runInReadTx(ctx, s.uow, func(ctx context.Context) error {
		var err error
		snapshot, err = s.readSnapshot(ctx)
		return err
	})
	if err != nil {
		return CompileResult{}, mappingErrors.translate(err)
	}
	return s.compile(ctx, snapshot), nil
}

func (s *mappingService) MappingSheet(ctx context.Context) ([]MappingSheetRow, error) {
	rows, err := s.fieldMappings.SheetRows(ctx)
	if err != nil {
		return nil, mappingErrors.translate(err)
	}
	return rows, nil
}

func (s *mappingService) ExportSnapshot(ctx context.Context) (MappingExport, error) {
	var (
		snapshot domain.MappingSnapshot
		rows     []MappingSheetRow
	)
	err := runInReadTx(ctx, s.uow, func(ctx context.Context) error {
		var err error
		if snapshot, err = s.readSnapshot(ctx); err != nil {
			return err
		}
		rows, err = s.fieldMappings.SheetRows(ctx)
		return err
	})
	if err != nil {
		return MappingExport{}, mappingErrors.translate(err)
	}
	return MappingExport{
		Result:         s.compile(ctx, snapshot),
		Rows:           rows,
		FieldMappings:  len(snapshot.FieldMappings),
		OptionMappings: len(snapshot.OptionMappings),
	}, nil
}

func (s *mappingService) readSnapshot(ctx context.Context) (domain.MappingSnapshot, error) {
	fieldMappings, err := s.fieldMappings.ListAll(ctx)
	if err != nil {
		return domain.MappingSnapshot{}, err
	}
	optionMappings, err := s.optionMappings.ListAll(ctx)
	if err != nil {
		return domain.MappingSnapshot{}, err
	}
	sourceFields, err := s.fields.ListAll(ctx, domain.SideSource)
	if err != nil {
		return domain.MappingSnapshot{}, err
	}
	return domain.MappingSnapshot{
		FieldMappings:  fieldMappings,
		OptionMappings: optionMappings,
		SourceFields:   sourceFields,
	}, nil
}

func (s *mappingService) compile(ctx context.Context, snapshot domain.MappingSnapshot) CompileResult {
	result := CompileMappings(snapshot)
	s.compiles.Add(ctx, 1, metric.WithAttributes(attribute.Bool("unresolved", len(result.Unresolved) > 0)))
	if len(result.Unresolved) > 0 {
		s.logger(ctx, "mapping.compile.unresolved_source_fields", map[string]any{"fieldKeys": result.Unresolved})
	}
	if len(result.Shadowed) > 0 {
		ids := make([]int64, 0, len(result.Shadowed))
		for _, mapping := range result.Shadowed {
			ids = append(ids, mapping.ID)
		}
		s.logger(ctx, "mapping.compile.shadowed_option_mappings", map[string]any{"ids": ids})
	}
	return result
}

func trimOptionMappingPatch(patch domain.OptionMappingPatch) domain.OptionMappingPatch {
	trim := func(value *string) *string {
		if value == nil {
			return nil
		}
		trimmed := strings.TrimSpace(*value)
		return &trimmed
	}
	return domain.OptionMappingPatch{
		SourceValueKey: trim(patch.SourceValueKey),
		TargetValueKey: trim(patch.TargetValueKey),
		SourceField:    trim(patch.SourceField),
		TargetField:    trim(patch.TargetField),
	}
}
