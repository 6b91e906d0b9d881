package observability

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"finitefield.org/usermapping/internal/platform/httpx"
	"finitefield.org/usermapping/internal/platform/requestctx"
)

// Surface names the part of the API a request hit. It is attached to every access log line
// so registry edits, mapping edits, exports and internal jobs can be filtered apart.
type Surface string

const (
	SurfaceRegistry Surface = "registry"
	SurfaceMapping  Surface = "mapping"
	SurfaceExport   Surface = "export"
	SurfaceInternal Surface = "internal"
	SurfaceDocs     Surface = "docs"
	SurfaceHealth   Surface = "health"
	SurfaceOther    Surface = "other"
)

// SurfaceOf classifies a route pattern or path.
func SurfaceOf(route string) Surface {
	path := strings.TrimPrefix(route, "/api/v1")
	switch {
	case strings.HasPrefix(path, "/internal"):
		return SurfaceInternal
	case strings.HasPrefix(path, "/mapping_"):
		return SurfaceMapping
	case strings.HasPrefix(path, "/export"), strings.HasPrefix(path, "/mapping"):
		return SurfaceExport
	case strings.HasPrefix(path, "/src_"), strings.HasPrefix(path, "/trg_"):
		return SurfaceRegistry
	case strings.HasPrefix(route, "/api-docs"):
		return SurfaceDocs
	case route == "/healthz", route == "/readyz":
		return SurfaceHealth
	default:
		return SurfaceOther
	}
}

// InjectLoggerMiddleware makes logger the request logger for everything downstream.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

// RequestLoggerMiddleware writes one access log line per request, tagged with the Cloud Logging
// trace resource for projectID. Handlers add fields through requestctx.Annotate.
func RequestLoggerMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			info, _ := requestctx.Trace(ctx)
			if info.ProjectID == "" {
				info.ProjectID = projectID
			}

			fields := []zap.Field{
				zap.String("request_id", middleware.GetReqID(ctx)),
				zap.String("method", SanitizeMethod(r.Method)),
				zap.String("path", SanitizeRoute(r.URL.Path)),
				zap.String("trace_id", info.TraceID),
			}
			if resource := traceResource(info); resource != "" {
				fields = append(fields, zap.String("logging.googleapis.com/trace", resource))
			}
			if ip := clientIP(r); ip != "" {
				fields = append(fields, zap.String("remote_ip", ip))
			}
			logger := requestctx.Logger(ctx).With(fields...)

			ctx = requestctx.WithLogger(ctx, logger)
			ctx, notes := requestctx.WithAnnotations(ctx)
			r = r.WithContext(ctx)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			completed := false
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				if !completed && status < http.StatusInternalServerError {
					status = http.StatusInternalServerError
				}
				route := routeOf(r)
				markSpan(trace.SpanFromContext(ctx), route, status)

				out := []zap.Field{
					zap.String("route", SanitizeRoute(route)),
					zap.String("surface", string(SurfaceOf(route))),
					zap.Int("status", status),
					zap.Duration("latency", time.Since(start)),
					zap.Int("bytes", ww.BytesWritten()),
				}
				for key, value := range notes.Fields() {
					out = append(out, zap.String(key, printable(value, 128)))
				}
				if ce := logger.Check(levelFor(status), "request completed"); ce != nil {
					ce.Write(out...)
				}
			}()

			next.ServeHTTP(ww, r)
			completed = true
		})
	}
}

func levelFor(status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// RecoveryMiddleware turns a handler panic into a 500 envelope and logs the stack.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ctx := r.Context()
				logger := fallback
				if requestctx.HasLogger(ctx) {
					logger = requestctx.Logger(ctx)
				}
				logger.Error("panic recovered", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInternal, "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func routeOf(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if r.URL.Path != "" {
		return r.URL.Path
	}
	return "/"
}

func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return printable(addr, 64)
}

func traceResource(info requestctx.TraceInfo) string {
	if info.ProjectID == "" || info.TraceID == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/traces/%s", info.ProjectID, info.TraceID)
}

func markSpan(span trace.Span, route string, status int) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(
		semconv.HTTPResponseStatusCode(status),
		semconv.HTTPRoute(SanitizeRoute(route)),
	)
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
		return
	}
	span.SetStatus(codes.Ok, "")
}
