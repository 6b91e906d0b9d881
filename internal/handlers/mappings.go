package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "finitefield.org/usermapping/internal/domain"
	"finitefield.org/usermapping/internal/platform/httpx"
	"finitefield.org/usermapping/internal/services"
)

// MappingHandlers exposes CRUD endpoints for field mappings and option mappings.
type MappingHandlers struct {
	mappings services.MappingService
}

// NewMappingHandlers constructs the mapping handler set.
func NewMappingHandlers(svc services.MappingService) *MappingHandlers {
	return &MappingHandlers{mappings: svc}
}

// Routes registers /mapping_user_fields and /mapping_user_fields_options.
func (h *MappingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/mapping_user_fields", func(fr chi.Router) {
		fr.Get("/", h.listFieldMappings)
		fr.Post("/", h.createFieldMapping)
		fr.Get("/{id}", h.getFieldMapping)
		fr.Put("/{id}", h.updateFieldMapping)
		fr.Patch("/{id}", h.updateFieldMapping)
		fr.Delete("/{id}", h.deleteFieldMapping)
	})
	r.Route("/mapping_user_fields_options", func(or chi.Router) {
		or.Get("/", h.listOptionMappings)
		or.Post("/", h.createOptionMapping)
		or.Get("/{id}", h.getOptionMapping)
		or.Put("/{id}", h.updateOptionMapping)
		or.Patch("/{id}", h.updateOptionMapping)
		or.Delete("/{id}", h.deleteOptionMapping)
	})
}

type fieldMappingPayload struct {
	ID             int64  `json:"id"`
	SourceFieldKey string `json:"src_field_key"`
	TargetFieldKey string `json:"trg_field_key"`
}

type fieldMappingRequest struct {
	SourceFieldKey *string `json:"src_field_key"`
	TargetFieldKey *string `json:"trg_field_key"`
}

type optionMappingPayload struct {
	ID             int64  `json:"id"`
	SourceValueKey string `json:"src_value_key"`
	TargetValueKey string `json:"trg_value_key"`
	SourceField    string `json:"src_field"`
	TargetField    string `json:"trg_field"`
}

type optionMappingRequest struct {
	SourceValueKey *string `json:"src_value_key"`
	TargetValueKey *string `json:"trg_value_key"`
	SourceField    *string `json:"src_field"`
	TargetField    *string `json:"trg_field"`
}

func buildFieldMappingPayload(m services.FieldMapping) fieldMappingPayload {
	return fieldMappingPayload{ID: m.ID, SourceFieldKey: m.SourceFieldKey, TargetFieldKey: m.TargetFieldKey}
}

func buildOptionMappingPayload(m services.OptionMapping) optionMappingPayload {
	return optionMappingPayload{
		ID:             m.ID,
		SourceValueKey: m.SourceValueKey,
		TargetValueKey: m.TargetValueKey,
		SourceField:    m.SourceField,
		TargetField:    m.TargetField,
	}
}

func (h *MappingHandlers) listFieldMappings(w http.ResponseWriter, r *http.Request) {
	if h.mappings == nil {
		serviceUnavailable(w, r, "mapping")
		return
	}
	filter, ok := listFilter(w, r, "src_field_key", "trg_field_key")
	if !ok {
		return
	}
	page, err := h.mappings.ListFieldMappings(r.Context(), filter)
	if err != nil {
		writeMappingError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newListResponse(page.Items, page.NextPageToken, buildFieldMappingPayload))
}

func (h *MappingHandlers) createFieldMapping(w http.ResponseWriter, r *http.Request) {
	if h.mappings == nil {
		serviceUnavailable(w, r, "mapping")
		return
	}
	var req fieldMappingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := h.mappings.CreateFieldMapping(r.Context(), services.CreateFieldMappingCommand{
		SourceFieldKey: deref(req.SourceFieldKey),
		TargetFieldKey: deref(req.TargetFieldKey),
	})
	if err != nil {
		writeMappingError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildFieldMappingPayload(created))
}

func (h *MappingHandlers) getFieldMapping(w http.ResponseWriter, r *http.Request) {
	if h.mappings == nil {
		serviceUnavailable(w, r, "mapping")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	mapping, err := h.mappings.GetFieldMapping(r.Context(), id)
	if err != nil {
		writeMappingError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildFieldMappingPayload(mapping))
}

func (h *MappingHandlers) updateFieldMapping(w http.ResponseWriter, r *http.Request) {
	if h.mappings == nil {
		serviceUnavailable(w, r, "mapping")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req fieldMappingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	updated, err := h.mappings.UpdateFieldMapping(r.Context(), services.UpdateFieldMappingCommand{
		ID: id,
		Patch: domain.FieldMappingPatch{
			SourceFieldKey: trimmedPointer(req.SourceFieldKey),
			TargetFieldKey: trimmedPointer(req.TargetFieldKey),
		},
	})
	if err != nil {
		writeMappingError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildFieldMappingPayload(updated))
}

func (h *MappingHandlers) deleteFieldMapping(w http.ResponseWriter, r *http.Request) {
	if h.mappings == nil {
		serviceUnavailable(w, r, "mapping")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.mappings.DeleteFieldMapping(r.Context(), id); err != nil {
		writeMappingError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MappingHandlers) listOptionMappings(w http.ResponseWriter, r *http.Request) {
	if h.mappings == nil {
		serviceUnavailable(w, r, "mapping")
		return
	}
	filter, ok := listFilter(w, r, "src_field", "trg_field", "src_value_key")
	if !ok {
		return
	}
	page, err := h.mappings.ListOptionMappings(r.Context(), filter)
	if err != nil {
		writeMappingError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newListResponse(page.Items, page.NextPageToken, buildOptionMappingPayload))
}

func (h *MappingHandlers) createOptionMapping(w http.ResponseWriter, r *http.Request) {
	if h.mappings == nil {
		serviceUnavailable(w, r, "mapping")
		return
	}
	var req optionMappingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := h.mappings.CreateOptionMapping(r.Context(), services.CreateOptionMappingCommand{
		SourceValueKey: deref(req.SourceValueKey),
		TargetValueKey: deref(req.TargetValueKey),
		SourceField:    deref(req.SourceField),
		TargetField:    deref(req.TargetField),
	})
	if err != nil {
		writeMappingError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildOptionMappingPayload(created))
}

func (h *MappingHandlers) getOptionMapping(w http.ResponseWriter, r *http.Request) {
	if h.mappings == nil {
		serviceUnavailable(w, r, "mapping")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	mapping, err := h.mappings.GetOptionMapping(r.Context(), id)
	if err != nil {
		writeMappingError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOptionMappingPayload(mapping))
}

func (h *MappingHandlers) updateOptionMapping(w http.ResponseWriter, r *http.Request) {
	if h.mappings == nil {
		serviceUnavailable(w, r, "mapping")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req optionMappingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	updated, err := h.mappings.UpdateOptionMapping(r.Context(), services.UpdateOptionMappingCommand{
		ID: id,
		Patch: domain.OptionMappingPatch{
			SourceValueKey: trimmedPointer(req.SourceValueKey),
			TargetValueKey: trimmedPointer(req.TargetValueKey),
			SourceField:    trimmedPointer(req.SourceField),
			TargetField:    trimmedPointer(req.TargetField),
		},
	})
	if err != nil {
		writeMappingError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOptionMappingPayload(updated))
}

func (h *MappingHandlers) deleteOptionMapping(w http.ResponseWriter, r *http.Request) {
	if h.mappings == nil {
		serviceUnavailable(w, r, "mapping")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.mappings.DeleteOptionMapping(r.Context(), id); err != nil {
		writeMappingError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeMappingError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var integrityErr *services.IntegrityError
	switch {
	case errors.As(err, &integrityErr) && errors.Is(err, services.ErrUnknownParent):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnknownParent, err.Error(), http.StatusBadRequest).WithDetails(map[string]any{
			"side":       string(integrityErr.Side),
			"parent_key": integrityErr.ParentKey,
		}))
	case errors.Is(err, services.ErrUnknownParent):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnknownParent, err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrMappingInvalidInput):
		httpx.WriteError(ctx, w, httpx.BadRequest(err.Error()))
	case errors.Is(err, services.ErrMappingNotFound):
		httpx.WriteError(ctx, w, httpx.NotFound(err.Error()))
	case errors.Is(err, services.ErrMappingConflict):
		httpx.WriteError(ctx, w, httpx.Conflict(err.Error()))
	case errors.Is(err, services.ErrMappingUnavailable):
		httpx.WriteError(ctx, w, httpx.Unavailable("mapping store temporarily unavailable"))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("mapping_error", "failed to process mapping request", http.StatusInternalServerError))
	}
}
