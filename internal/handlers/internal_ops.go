package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "finitefield.org/usermapping/internal/domain"
	"finitefield.org/usermapping/internal/platform/auth"
	"finitefield.org/usermapping/internal/platform/httpx"
	"finitefield.org/usermapping/internal/services"
)

const idempotencyHeader = "Idempotency-Key"

// InternalHandlers exposes operational endpoints for schedulers and other services.
type InternalHandlers struct {
	ingestion services.IngestionService
	exports   services.ExportService
	publishMW []func(http.Handler) http.Handler
}

// InternalOption customises the internal handler set.
type InternalOption func(*InternalHandlers)

// WithPublishMiddlewares wraps only the export publish route, e.g. with idempotency replay.
func WithPublishMiddlewares(mw ...func(http.Handler) http.Handler) InternalOption {
	return func(h *InternalHandlers) {
		for _, m := range mw {
			if m != nil {
				h.publishMW = append(h.publishMW, m)
			}
		}
	}
}

// NewInternalHandlers constructs the internal handler set. Either service may be nil.
func NewInternalHandlers(ingestion services.IngestionService, exports services.ExportService, opts ...InternalOption) *InternalHandlers {
	h := &InternalHandlers{ingestion: ingestion, exports: exports}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the internal endpoints. The router mounts them beneath /internal.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/ingestions", h.ingest)
	r.With(h.publishMW...).Post("/exports:publish", h.publishExport)
}

type ingestionSidePayload struct {
	Side            string `json:"side"`
	Pages           int    `json:"pages"`
	FieldsSeen      int    `json:"fields_seen"`
	FieldsInserted  int    `json:"fields_inserted"`
	OptionsSeen     int    `json:"options_seen"`
	OptionsInserted int    `json:"options_inserted"`
	Error           string `json:"error,omitempty"`
}

type ingestionRunPayload struct {
	ID          string                 `json:"id"`
	StartedAt   string                 `json:"started_at"`
	CompletedAt string                 `json:"completed_at,omitempty"`
	Sides       []ingestionSidePayload `json:"sides"`
}

type exportObjectPayload struct {
	Path         string `json:"path"`
	DownloadURL  string `json:"download_url,omitempty"`
	URLExpiresAt string `json:"url_expires_at,omitempty"`
}

type exportReceiptPayload struct {
	ExportID       string                `json:"export_id"`
	GeneratedAt    string                `json:"generated_at"`
	FieldMappings  int                   `json:"field_mappings"`
	OptionMappings int                   `json:"option_mappings"`
	MessageID      string                `json:"message_id,omitempty"`
	Objects        []exportObjectPayload `json:"objects"`
}

func buildIngestionRunPayload(run services.IngestionRun) ingestionRunPayload {
	payload := ingestionRunPayload{
		ID:          run.ID,
		StartedAt:   formatTime(run.StartedAt),
		CompletedAt: formatTime(run.CompletedAt),
		Sides:       make([]ingestionSidePayload, 0, len(run.Sides)),
	}
	for _, side := range run.Sides {
		payload.Sides = append(payload.Sides, ingestionSidePayload{
			Side:            string(side.Side),
			Pages:           side.Pages,
			FieldsSeen:      side.FieldsSeen,
			FieldsInserted:  side.FieldsInserted,
			OptionsSeen:     side.OptionsSeen,
			OptionsInserted: side.OptionsInserted,
			Error:           side.Error,
		})
	}
	return payload
}

func buildExportReceiptPayload(receipt services.ExportReceipt) exportReceiptPayload {
	payload := exportReceiptPayload{
		ExportID:       receipt.ExportID,
		GeneratedAt:    formatTime(receipt.GeneratedAt),
		FieldMappings:  receipt.FieldMappings,
		OptionMappings: receipt.OptionMappings,
		MessageID:      receipt.MessageID,
		Objects:        make([]exportObjectPayload, 0, len(receipt.Objects)),
	}
	for _, obj := range receipt.Objects {
		payload.Objects = append(payload.Objects, exportObjectPayload{
			Path:         obj.Path,
			DownloadURL:  obj.DownloadURL,
			URLExpiresAt: formatTime(obj.URLExpiresAt),
		})
	}
	return payload
}

func (h *InternalHandlers) ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ingestion == nil {
		serviceUnavailable(w, r, "ingestion")
		return
	}

	var cmd services.IngestCommand
	if raw := strings.TrimSpace(r.URL.Query().Get("side")); raw != "" {
		side, ok := domain.ParseSide(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.BadRequest("side must be src or trg"))
			return
		}
		cmd.Sides = []domain.Side{side}
	}

	run, err := h.ingestion.Ingest(ctx, cmd)
	if err != nil {
		if errors.Is(err, services.ErrIngestionFailed) && run.ID != "" {
			httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeIngestionFailed, err.Error(), http.StatusBadGateway).WithDetails(map[string]any{
				"run": buildIngestionRunPayload(run),
			}))
			return
		}
		writeIngestionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildIngestionRunPayload(run))
}

func (h *InternalHandlers) publishExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.exports == nil {
		serviceUnavailable(w, r, "export")
		return
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key == "" {
		httpx.WriteError(ctx, w, httpx.BadRequest("Idempotency-Key header is required"))
		return
	}
	cmd := services.PublishExportCommand{IdempotencyKey: key}
	if identity, ok := auth.ServiceIdentityFromContext(ctx); ok {
		cmd.RequestedBy = identity.Caller()
	}

	receipt, err := h.exports.PublishExport(ctx, cmd)
	if err != nil {
		writeExportError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, buildExportReceiptPayload(receipt))
}

func writeIngestionError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrIngestionInvalidInput):
		httpx.WriteError(ctx, w, httpx.BadRequest(err.Error()))
	case errors.Is(err, services.ErrIngestionUnavailable):
		httpx.WriteError(ctx, w, httpx.Unavailable(err.Error()))
	case errors.Is(err, services.ErrIngestionFailed):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeIngestionFailed, err.Error(), http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("ingestion_error", "failed to ingest user fields", http.StatusInternalServerError))
	}
}
