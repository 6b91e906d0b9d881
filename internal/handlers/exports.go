package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"finitefield.org/usermapping/internal/platform/httpx"
	"finitefield.org/usermapping/internal/services"
)

// ExportHandlers serves the compiled translation document and the tabular workbook.
type ExportHandlers struct {
	mappings services.MappingService
	exports  services.ExportService
}

// NewExportHandlers constructs the export handler set. Either service may be nil.
func NewExportHandlers(mappings services.MappingService, exports services.ExportService) *ExportHandlers {
	return &ExportHandlers{mappings: mappings, exports: exports}
}

// Routes registers /export/json, /export/xlsx and the legacy /mapping alias.
func (h *ExportHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/export/json", h.document)
	r.Get("/mapping", h.document)
	r.Get("/export/xlsx", h.workbook)
}

func (h *ExportHandlers) document(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.mappings == nil {
		serviceUnavailable(w, r, "mapping")
		return
	}
	result, err := h.mappings.CompileDocument(ctx)
	if err != nil {
		writeMappingError(ctx, w, err)
		return
	}
	data, err := json.Marshal(result.Document)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("export_error", "failed to encode document", http.StatusInternalServerError))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *ExportHandlers) workbook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.exports == nil {
		serviceUnavailable(w, r, "export")
		return
	}
	file, err := h.exports.RenderWorkbook(ctx)
	if err != nil {
		writeExportError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Data)
}

func writeExportError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrExportUnavailable), errors.Is(err, services.ErrMappingUnavailable):
		httpx.WriteError(ctx, w, httpx.Unavailable("export sinks not available"))
	case errors.Is(err, services.ErrExportRender):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeRenderFailed, err.Error(), http.StatusInternalServerError))
	case errors.Is(err, services.ErrExportFailed):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeExportFailed, err.Error(), http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("export_error", "failed to export mappings", http.StatusInternalServerError))
	}
}
