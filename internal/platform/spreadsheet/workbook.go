package spreadsheet

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	domain "finitefield.org/usermapping/internal/domain"
)

const (
	// SheetName is the single worksheet in the mapping workbook.
	SheetName = "user mapping"
	// ContentType is the MIME type of the rendered workbook.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	// FileName is the suggested download name.
	FileName = "mapping.xlsx"
)

// Header lists the column titles in order.
var Header = []string{"src_field_key", "src_name", "src_data_type", "trg_field_key", "trg_name", "trg_data_type"}

// Renderer writes field mapping rows into an XLSX workbook.
type Renderer struct{}

// NewRenderer constructs a workbook renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// ContentType implements services.SheetRenderer.
func (r *Renderer) ContentType() string {
	return ContentType
}

// RenderMappingSheet returns the workbook bytes for rows, one row per field mapping after the header.
func (r *Renderer) RenderMappingSheet(rows []domain.MappingSheetRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	// NewFile starts with "Sheet1"; rename it rather than adding a second sheet.
	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return nil, fmt.Errorf("spreadsheet: rename sheet: %w", err)
	}

	header := make([]any, len(Header))
	for i, title := range Header {
		header[i] = title
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("spreadsheet: write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("spreadsheet: header style: %w", err)
	}
	if err := f.SetRowStyle(SheetName, 1, 1, bold); err != nil {
		return nil, fmt.Errorf("spreadsheet: apply header style: %w", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		values := []any{row.SourceFieldKey, row.SourceName, row.SourceDataType, row.TargetFieldKey, row.TargetName, row.TargetDataType}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return nil, fmt.Errorf("spreadsheet: write row %d: %w", i+2, err)
		}
	}
	if err := f.SetColWidth(SheetName, "A", "F", 24); err != nil {
		return nil, fmt.Errorf("spreadsheet: column width: %w", err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("spreadsheet: encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}
