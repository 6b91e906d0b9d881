package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"finitefield.org/usermapping/internal/platform/requestctx"
)

// Error codes shared by every handler. Clients switch on these, so they never change meaning.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeUnknownParent      = "unknown_parent"
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeUnauthenticated    = "unauthenticated"
	CodeRateLimited        = "rate_limited"
	CodeServiceUnavailable = "service_unavailable"
	CodeNotImplemented     = "not_implemented"
	CodeInternal           = "internal_server_error"
	CodeExportFailed       = "export_failed"
	CodeRenderFailed       = "render_failed"
	CodeIngestionFailed    = "ingestion_failed"
)

const (
	maxCodeLength    = 80
	maxMessageLength = 512
	maxIDLength      = 80
)

// Error is the JSON error envelope: {"error", "message", "status"} plus request and trace ids.
// Details are merged into the top level of the body.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// NewError builds an envelope. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clean(code, maxCodeLength),
		Message: clean(message, maxMessageLength),
		Status:  status,
	}
}

func BadRequest(message string) Error {
	return NewError(CodeInvalidRequest, message, http.StatusBadRequest)
}

func NotFound(message string) Error {
	return NewError(CodeNotFound, message, http.StatusNotFound)
}

func Conflict(message string) Error {
	return NewError(CodeConflict, message, http.StatusConflict)
}

func Unavailable(message string) Error {
	return NewError(CodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

func (e Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func (e Error) WithRequestID(id string) Error {
	e.RequestID = clean(id, maxIDLength)
	return e
}

func (e Error) WithTraceID(id string) Error {
	e.TraceID = clean(id, maxIDLength)
	return e
}

// WithDetails merges extra fields into the body. Reserved keys cannot be overridden.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

func (e Error) body(ctx context.Context) map[string]any {
	payload := make(map[string]any, len(e.Details)+5)
	for k, v := range e.Details {
		payload[k] = v
	}
	payload["error"] = e.Code
	payload["message"] = e.Message
	payload["status"] = e.Status

	requestID := e.RequestID
	if requestID == "" {
		requestID = clean(middleware.GetReqID(ctx), maxIDLength)
	}
	if requestID != "" {
		payload["request_id"] = requestID
	}
	traceID := e.TraceID
	if traceID == "" {
		traceID = clean(requestctx.TraceID(ctx), maxIDLength)
	}
	if traceID != "" {
		payload["trace_id"] = traceID
	}
	return payload
}

// WriteError writes err as JSON. The code is recorded on the request annotations and
// server-side failures are logged through the request logger.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	requestctx.Annotate(ctx, "error_code", err.Code)
	if err.Status >= http.StatusInternalServerError {
		requestctx.Logger(ctx).Warn("request failed",
			zap.String("code", err.Code),
			zap.Int("status", err.Status),
			zap.String("message", err.Message),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(err.body(ctx))
}

func clean(value string, limit int) string {
	value = strings.Join(strings.Fields(strings.ReplaceAll(value, "\r", "\n")), " ")
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
