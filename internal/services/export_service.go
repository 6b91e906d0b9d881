package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrExportUnavailable indicates neither an archive nor a publisher is configured.
	ErrExportUnavailable = errors.New("export: no delivery sink configured")
	// ErrExportFailed indicates the archive or the publisher rejected the export.
	ErrExportFailed = errors.New("export: failed")
	// ErrExportRender indicates the document or workbook could not be produced locally.
	ErrExportRender = errors.New("export: render failed")
)

const (
	// DocumentFileName is the archived name of the compiled JSON document.
	DocumentFileName = "mapping.json"
	// WorkbookFileName is the archived and downloaded name of the spreadsheet.
	WorkbookFileName = "mapping.xlsx"

	documentContentType = "application/json"
	exportIDPrefix      = "exp_"
)

// ExportServiceDeps wires the renderers and delivery sinks. Archive and Publisher are optional.
type ExportServiceDeps struct {
	Mappings    MappingService
	Renderer    SheetRenderer
	Archive     ExportArchiver
	Publisher   ExportPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type exportService struct {
	mappings  MappingService
	renderer  SheetRenderer
	archive   ExportArchiver
	publisher ExportPublisher
	now       func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

var _ ExportService = (*exportService)(nil)

// NewExportService constructs the export service.
func NewExportService(deps ExportServiceDeps) (ExportService, error) {
	if deps.Mappings == nil {
		return nil, errors.New("export service: mapping service is required")
	}
	if deps.Renderer == nil {
		return nil, errors.New("export service: sheet renderer is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &exportService{
		mappings:  deps.Mappings,
		renderer:  deps.Renderer,
		archive:   deps.Archive,
		publisher: deps.Publisher,
		now:       func() time.Time { return clock().UTC() },
		newID:     func() string { return exportIDPrefix + strings.ToLower(idGen()) },
		logger:    logger,
	}, nil
}

func (s *exportService) RenderWorkbook(ctx context.Context) (ExportFile, error) {
	rows, err := s.mappings.MappingSheet(ctx)
	if err != nil {
		return ExportFile{}, err
	}
	return s.workbook(rows)
}

func (s *exportService) workbook(rows []MappingSheetRow) (ExportFile, error) {
	data, err := s.renderer.RenderMappingSheet(rows)
	if err != nil {
		return ExportFile{}, fmt.Errorf("%w: workbook: %v", ErrExportRender, err)
	}
	return ExportFile{Name: WorkbookFileName, ContentType: s.renderer.ContentType(), Data: data}, nil
}

// PublishExport compiles one snapshot, archives both renditions and then publishes the document.
// Nothing is published unless archiving succeeded.
func (s *exportService) PublishExport(ctx context.Context, cmd PublishExportCommand) (ExportReceipt, error) {
	if s.archive == nil && s.publisher == nil {
		return ExportReceipt{}, ErrExportUnavailable
	}

	snapshot, err := s.mappings.ExportSnapshot(ctx)
	if err != nil {
		return ExportReceipt{}, err
	}
	document, err := json.Marshal(snapshot.Result.Document)
	if err != nil {
		return ExportReceipt{}, fmt.Errorf("%w: encode document: %v", ErrExportRender, err)
	}

	receipt := ExportReceipt{
		ExportID:       s.newID(),
		GeneratedAt:    s.now(),
		FieldMappings:  snapshot.FieldMappings,
		OptionMappings: snapshot.OptionMappings,
	}

	if s.archive != nil {
		workbook, err := s.workbook(snapshot.Rows)
		if err != nil {
			return ExportReceipt{}, err
		}
		files := []ExportFile{
			{Name: DocumentFileName, ContentType: documentContentType, Data: document},
			workbook,
		}
		objects, err := s.archive.ArchiveExport(ctx, receipt.ExportID, files)
		if err != nil {
			s.logger(ctx, "export.archive_failed", map[string]any{"exportId": receipt.ExportID, "error": err.Error()})
			return ExportReceipt{}, fmt.Errorf("%w: archive: %v", ErrExportFailed, err)
		}
		receipt.Objects = objects
	}

	if s.publisher != nil {
		messageID, err := s.publisher.PublishExport(ctx, ExportMessage{
			ExportID:       receipt.ExportID,
			GeneratedAt:    receipt.GeneratedAt,
			FieldMappings:  receipt.FieldMappings,
			OptionMappings: receipt.OptionMappings,
			Document:       document,
			IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
		})
		if err != nil {
			s.logger(ctx, "export.publish_failed", map[string]any{"exportId": receipt.ExportID, "error": err.Error()})
			return ExportReceipt{}, fmt.Errorf("%w: publish: %v", ErrExportFailed, err)
		}
		receipt.MessageID = messageID
	}

	s.logger(ctx, "export.published", map[string]any{
		"exportId":       receipt.ExportID,
		"requestedBy":    strings.TrimSpace(cmd.RequestedBy),
		"fieldMappings":  receipt.FieldMappings,
		"optionMappings": receipt.OptionMappings,
		"objects":        len(receipt.Objects),
		"messageId":      receipt.MessageID,
	})
	return receipt, nil
}
