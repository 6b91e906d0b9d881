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

// RegistryHandlers exposes CRUD endpoints for the field and option registries of both sides.
type RegistryHandlers struct {
	registry services.FieldRegistryService
}

// NewRegistryHandlers constructs the registry handler set.
func NewRegistryHandlers(svc services.FieldRegistryService) *RegistryHandlers {
	return &RegistryHandlers{registry: svc}
}

// Routes registers /{src,trg}_user_fields and /{src,trg}_user_options.
func (h *RegistryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	for _, side := range []domain.Side{domain.SideSource, domain.SideTarget} {
		side := side
		r.Route("/"+string(side)+"_user_fields", func(fr chi.Router) {
			fr.Get("/", h.listFields(side))
			fr.Post("/", h.createField(side))
			fr.Get("/{id}", h.getField(side))
			fr.Put("/{id}", h.updateField(side))
			fr.Patch("/{id}", h.updateField(side))
			fr.Delete("/{id}", h.deleteField(side))
		})
		r.Route("/"+string(side)+"_user_options", func(or chi.Router) {
			or.Get("/", h.listOptions(side))
			or.Post("/", h.createOption(side))
			or.Get("/{id}", h.getOption(side))
			or.Put("/{id}", h.updateOption(side))
			or.Patch("/{id}", h.updateOption(side))
			or.Delete("/{id}", h.deleteOption(side))
		})
	}
}

type fieldPayload struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Key      string `json:"field_key"`
	DataType string `json:"data_type"`
	Kind     string `json:"field_type"`
}

type fieldRequest struct {
	Name     *string `json:"name"`
	Key      *string `json:"field_key"`
	DataType *string `json:"data_type"`
	Kind     *string `json:"field_type"`
}

type optionPayload struct {
	ID        int64  `json:"id"`
	Label     string `json:"option_values"`
	Key       string `json:"option_key"`
	ParentKey string `json:"parent_key"`
}

type optionRequest struct {
	Label     *string `json:"option_values"`
	Key       *string `json:"option_key"`
	ParentKey *string `json:"parent_key"`
}

func buildFieldPayload(field services.Field) fieldPayload {
	return fieldPayload{
		ID:       field.ID,
		Name:     field.Name,
		Key:      field.Key,
		DataType: field.DataType,
		Kind:     string(field.Kind),
	}
}

func buildOptionPayload(option services.FieldOption) optionPayload {
	return optionPayload{
		ID:        option.ID,
		Label:     option.Label,
		Key:       option.Key,
		ParentKey: option.ParentKey,
	}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func (h *RegistryHandlers) listFields(side domain.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.registry == nil {
			serviceUnavailable(w, r, "field registry")
			return
		}
		filter, ok := listFilter(w, r, "field_key", "field_type", "data_type")
		if !ok {
			return
		}
		page, err := h.registry.ListFields(r.Context(), side, filter)
		if err != nil {
			writeRegistryError(r.Context(), w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, newListResponse(page.Items, page.NextPageToken, buildFieldPayload))
	}
}

func (h *RegistryHandlers) createField(side domain.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.registry == nil {
			serviceUnavailable(w, r, "field registry")
			return
		}
		var req fieldRequest
		if !decodeBody(w, r, &req) {
			return
		}
		field, err := h.registry.CreateField(r.Context(), services.CreateFieldCommand{
			Side:     side,
			Name:     deref(req.Name),
			Key:      deref(req.Key),
			DataType: deref(req.DataType),
			Kind:     deref(req.Kind),
		})
		if err != nil {
			writeRegistryError(r.Context(), w, err)
			return
		}
		writeJSONResponse(w, http.StatusCreated, buildFieldPayload(field))
	}
}

func (h *RegistryHandlers) getField(side domain.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.registry == nil {
			serviceUnavailable(w, r, "field registry")
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		field, err := h.registry.GetField(r.Context(), side, id)
		if err != nil {
			writeRegistryError(r.Context(), w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, buildFieldPayload(field))
	}
}

func (h *RegistryHandlers) updateField(side domain.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.registry == nil {
			serviceUnavailable(w, r, "field registry")
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req fieldRequest
		if !decodeBody(w, r, &req) {
			return
		}
		patch := domain.FieldPatch{
			Name:     trimmedPointer(req.Name),
			Key:      trimmedPointer(req.Key),
			DataType: trimmedPointer(req.DataType),
		}
		if req.Kind != nil {
			kind := domain.FieldKind(*req.Kind)
			patch.Kind = &kind
		}
		field, err := h.registry.UpdateField(r.Context(), services.UpdateFieldCommand{Side: side, ID: id, Patch: patch})
		if err != nil {
			writeRegistryError(r.Context(), w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, buildFieldPayload(field))
	}
}

func (h *RegistryHandlers) deleteField(side domain.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.registry == nil {
			serviceUnavailable(w, r, "field registry")
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := h.registry.DeleteField(r.Context(), side, id); err != nil {
			writeRegistryError(r.Context(), w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *RegistryHandlers) listOptions(side domain.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.registry == nil {
			serviceUnavailable(w, r, "field registry")
			return
		}
		filter, ok := listFilter(w, r, "option_key", "parent_key")
		if !ok {
			return
		}
		page, err := h.registry.ListOptions(r.Context(), side, filter)
		if err != nil {
			writeRegistryError(r.Context(), w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, newListResponse(page.Items, page.NextPageToken, buildOptionPayload))
	}
}

func (h *RegistryHandlers) createOption(side domain.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.registry == nil {
			serviceUnavailable(w, r, "field registry")
			return
		}
		var req optionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		option, err := h.registry.CreateOption(r.Context(), services.CreateOptionCommand{
			Side:      side,
			Label:     deref(req.Label),
			Key:       deref(req.Key),
			ParentKey: deref(req.ParentKey),
		})
		if err != nil {
			writeRegistryError(r.Context(), w, err)
			return
		}
		writeJSONResponse(w, http.StatusCreated, buildOptionPayload(option))
	}
}

func (h *RegistryHandlers) getOption(side domain.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.registry == nil {
			serviceUnavailable(w, r, "field registry")
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		option, err := h.registry.GetOption(r.Context(), side, id)
		if err != nil {
			writeRegistryError(r.Context(), w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, buildOptionPayload(option))
	}
}

func (h *RegistryHandlers) updateOption(side domain.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.registry == nil {
			serviceUnavailable(w, r, "field registry")
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req optionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		option, err := h.registry.UpdateOption(r.Context(), services.UpdateOptionCommand{
			Side: side,
			ID:   id,
			Patch: domain.FieldOptionPatch{
				Label:     trimmedPointer(req.Label),
				Key:       trimmedPointer(req.Key),
				ParentKey: trimmedPointer(req.ParentKey),
			},
		})
		if err != nil {
			writeRegistryError(r.Context(), w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, buildOptionPayload(option))
	}
}

func (h *RegistryHandlers) deleteOption(side domain.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.registry == nil {
			serviceUnavailable(w, r, "field registry")
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := h.registry.DeleteOption(r.Context(), side, id); err != nil {
			writeRegistryError(r.Context(), w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeRegistryError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrUnknownParent):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnknownParent, err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrFieldInvalidInput):
		httpx.WriteError(ctx, w, httpx.BadRequest(err.Error()))
	case errors.Is(err, services.ErrFieldNotFound):
		httpx.WriteError(ctx, w, httpx.NotFound(err.Error()))
	case errors.Is(err, services.ErrFieldConflict):
		httpx.WriteError(ctx, w, httpx.Conflict(err.Error()))
	case errors.Is(err, services.ErrFieldUnavailable):
		httpx.WriteError(ctx, w, httpx.Unavailable("field registry temporarily unavailable"))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("registry_error", "failed to process registry request", http.StatusInternalServerError))
	}
}
