package services

import (
	"context"
	"encoding/json"
	"time"

	domain "finitefield.org/usermapping/internal/domain"
	"finitefield.org/usermapping/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Field              = domain.Field
	FieldOption        = domain.FieldOption
	FieldMapping       = domain.FieldMapping
	OptionMapping      = domain.OptionMapping
	MappingSheetRow    = domain.MappingSheetRow
	IngestionRun       = domain.IngestionRun
	ExportReceipt      = domain.ExportReceipt
	SystemHealthReport = domain.SystemHealthReport
	ListFilter         = repositories.ListFilter
)

// FieldRegistryService manages the field and option registries of both sides.
type FieldRegistryService interface {
	CreateField(ctx context.Context, cmd CreateFieldCommand) (Field, error)
	GetField(ctx context.Context, side domain.Side, id int64) (Field, error)
	ListFields(ctx context.Context, side domain.Side, filter ListFilter) (domain.CursorPage[Field], error)
	UpdateField(ctx context.Context, cmd UpdateFieldCommand) (Field, error)
	DeleteField(ctx context.Context, side domain.Side, id int64) error

	CreateOption(ctx context.Context, cmd CreateOptionCommand) (FieldOption, error)
	GetOption(ctx context.Context, side domain.Side, id int64) (FieldOption, error)
	ListOptions(ctx context.Context, side domain.Side, filter ListFilter) (domain.CursorPage[FieldOption], error)
	UpdateOption(ctx context.Context, cmd UpdateOptionCommand) (FieldOption, error)
	DeleteOption(ctx context.Context, side domain.Side, id int64) error
}

// MappingService manages both mapping relations and compiles them into the translation document.
type MappingService interface {
	CreateFieldMapping(ctx context.Context, cmd CreateFieldMappingCommand) (FieldMapping, error)
	GetFieldMapping(ctx context.Context, id int64) (FieldMapping, error)
	ListFieldMappings(ctx context.Context, filter ListFilter) (domain.CursorPage[FieldMapping], error)
	UpdateFieldMapping(ctx context.Context, cmd UpdateFieldMappingCommand) (FieldMapping, error)
	DeleteFieldMapping(ctx context.Context, id int64) error

	CreateOptionMapping(ctx context.Context, cmd CreateOptionMappingCommand) (OptionMapping, error)
	GetOptionMapping(ctx context.Context, id int64) (OptionMapping, error)
	ListOptionMappings(ctx context.Context, filter ListFilter) (domain.CursorPage[OptionMapping], error)
	UpdateOptionMapping(ctx context.Context, cmd UpdateOptionMappingCommand) (OptionMapping, error)
	DeleteOptionMapping(ctx context.Context, id int64) error

	// CompileDocument reads a consistent snapshot and folds it into the translation document.
	CompileDocument(ctx context.Context) (CompileResult, error)
	// MappingSheet returns the flattened rows of the tabular export in mapping id order.
	MappingSheet(ctx context.Context) ([]MappingSheetRow, error)
	// ExportSnapshot compiles the document and reads the sheet rows from the same snapshot.
	ExportSnapshot(ctx context.Context) (MappingExport, error)
}

// IngestionService pulls field definitions from the remote profile systems into the registries.
type IngestionService interface {
	Ingest(ctx context.Context, cmd IngestCommand) (IngestionRun, error)
}

// ExportService renders and delivers the compiled document.
type ExportService interface {
	// RenderWorkbook builds the spreadsheet rendition of the field mappings.
	RenderWorkbook(ctx context.Context) (ExportFile, error)
	// PublishExport archives and publishes a compiled snapshot to the configured sinks.
	PublishExport(ctx context.Context, cmd PublishExportCommand) (ExportReceipt, error)
}

// SystemService exposes operational health information.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CreateFieldCommand carries a new registry field. Kind is parsed case-insensitively and
// defaults to system when blank.
type CreateFieldCommand struct {
	Side     domain.Side
	Name     string
	Key      string
	DataType string
	Kind     string
}

// UpdateFieldCommand applies a partial update to a registry field.
type UpdateFieldCommand struct {
	Side  domain.Side
	ID    int64
	Patch domain.FieldPatch
}

// CreateOptionCommand carries a new option value. ParentKey must name a field on the same side.
type CreateOptionCommand struct {
	Side      domain.Side
	Label     string
	Key       string
	ParentKey string
}

// UpdateOptionCommand applies a partial update to an option value.
type UpdateOptionCommand struct {
	Side  domain.Side
	ID    int64
	Patch domain.FieldOptionPatch
}

// CreateFieldMappingCommand links a source field to a target field.
type CreateFieldMappingCommand struct {
	SourceFieldKey string
	TargetFieldKey string
}

// UpdateFieldMappingCommand applies a partial update to a field mapping.
type UpdateFieldMappingCommand struct {
	ID    int64
	Patch domain.FieldMappingPatch
}

// CreateOptionMappingCommand links a source option value to a target option value.
type CreateOptionMappingCommand struct {
	SourceValueKey string
	TargetValueKey string
	SourceField    string
	TargetField    string
}

// UpdateOptionMappingCommand applies a partial update to an option mapping.
type UpdateOptionMappingCommand struct {
	ID    int64
	Patch domain.OptionMappingPatch
}

// MappingExport is everything an export needs, read under one snapshot.
type MappingExport struct {
	Result         CompileResult
	Rows           []MappingSheetRow
	FieldMappings  int
	OptionMappings int
}

// IngestCommand selects the sides to ingest; empty means every configured side.
type IngestCommand struct {
	Sides []domain.Side
}

// PublishExportCommand requests a compiled export delivery.
type PublishExportCommand struct {
	IdempotencyKey string
	RequestedBy    string
}

// ProfileListing is one side's remote field catalogue converted to registry records.
type ProfileListing struct {
	Fields  []domain.Field
	Options []domain.FieldOption
	Pages   int
}

// ProfileSource lists the user fields of one remote profile system.
type ProfileSource interface {
	Side() domain.Side
	ListUserFields(ctx context.Context) (ProfileListing, error)
}

// ExportFile is one rendered export artefact.
type ExportFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// ExportArchiver stores export files under an export id.
type ExportArchiver interface {
	ArchiveExport(ctx context.Context, exportID string, files []ExportFile) ([]domain.ExportObject, error)
}

// ExportMessage is the payload published for downstream sync jobs.
type ExportMessage struct {
	ExportID       string          `json:"exportId"`
	GeneratedAt    time.Time       `json:"generatedAt"`
	FieldMappings  int             `json:"fieldMappings"`
	OptionMappings int             `json:"optionMappings"`
	Document       json.RawMessage `json:"document"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// ExportPublisher delivers export messages and returns the broker message id.
type ExportPublisher interface {
	PublishExport(ctx context.Context, message ExportMessage) (string, error)
}

// SheetRenderer renders the flattened field mapping rows as a workbook.
type SheetRenderer interface {
	ContentType() string
	RenderMappingSheet(rows []MappingSheetRow) ([]byte, error)
}
