package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"finitefield.org/usermapping/internal/platform/httpx"
	"finitefield.org/usermapping/internal/platform/pagination"
	"finitefield.org/usermapping/internal/services"
)

const maxBodyBytes = 64 << 10

// decodeBody reads one JSON object into dst, rejecting unknown fields and bodies over 64 KiB.
// On failure it has already written the error response.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	if r.Body == nil || r.Body == http.NoBody {
		httpx.WriteError(ctx, w, httpx.BadRequest("request body is required"))
		return false
	}
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	err := decoder.Decode(dst)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return true
	case errors.As(err, &tooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge))
	case errors.Is(err, io.EOF):
		httpx.WriteError(ctx, w, httpx.BadRequest("request body is required"))
	default:
		httpx.WriteError(ctx, w, httpx.BadRequest(fmt.Sprintf("invalid JSON payload: %v", err)))
	}
	return false
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(r.Context(), w, httpx.BadRequest(fmt.Sprintf("invalid id %q", raw)))
		return 0, false
	}
	return id, true
}

// listFilter parses pageSize, pageToken and filter=column==value into a repository filter.
func listFilter(w http.ResponseWriter, r *http.Request, allowed ...string) (services.ListFilter, bool) {
	params, err := pagination.FromRequest(r, pagination.Options{AllowedFilterFields: allowed})
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.BadRequest(err.Error()))
		return services.ListFilter{}, false
	}
	return services.ListFilter{
		PageSize: params.PageSize,
		AfterID:  params.Cursor.AfterID,
		Equals:   params.FilterMap(),
	}, true
}

func serviceUnavailable(w http.ResponseWriter, r *http.Request, name string) {
	httpx.WriteError(r.Context(), w, httpx.Unavailable(name+" service not available"))
}

type listResponse[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

func newListResponse[T, P any](items []T, next string, convert func(T) P) listResponse[P] {
	out := make([]P, 0, len(items))
	for _, item := range items {
		out = append(out, convert(item))
	}
	return listResponse[P]{Items: out, NextPageToken: next}
}

// trimmedPointer returns nil for absent values so patches only touch what the client sent.
func trimmedPointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
