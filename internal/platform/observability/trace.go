package observability

import (
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"finitefield.org/usermapping/internal/platform/requestctx"
)

const (
	cloudTraceHeader = "X-Cloud-Trace-Context"

	formatW3C   = "w3c"
	formatCloud = "cloud"
)

var (
	tracer = otel.Tracer("finitefield.org/usermapping/internal/platform/observability")
	w3c    = propagation.TraceContext{}
)

// TraceMiddleware starts a server span per request. It continues an inbound traceparent header,
// falling back to X-Cloud-Trace-Context, and echoes the trace in the same format it arrived in.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			format := ""
			if parent := trace.SpanContextFromContext(w3c.Extract(ctx, propagation.HeaderCarrier(r.Header))); parent.IsValid() {
				ctx = trace.ContextWithRemoteSpanContext(ctx, parent)
				format = formatW3C
			} else if parent, ok := parseCloudTrace(r.Header.Get(cloudTraceHeader)); ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, parent)
				format = formatCloud
			}

			ctx, span := tracer.Start(ctx, r.Method+" "+string(SurfaceOf(r.URL.Path)),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.UserAgentOriginal(r.UserAgent()),
				),
			)
			defer span.End()

			info := requestctx.TraceInfo{ProjectID: projectID, Format: format}
			if sc := span.SpanContext(); sc.IsValid() {
				info.TraceID = sc.TraceID().String()
				info.SpanID = sc.SpanID().String()
				info.Sampled = sc.IsSampled()
			}
			ctx = requestctx.WithTrace(ctx, info)

			switch format {
			case formatW3C:
				w3c.Inject(ctx, propagation.HeaderCarrier(w.Header()))
			case formatCloud:
				if info.TraceID != "" {
					w.Header().Set(cloudTraceHeader, cloudTraceValue(info))
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// parseCloudTrace reads TRACE_ID/SPAN_ID;o=OPTIONS. Span ids arrive in decimal from Google
// front ends and in hex from some clients; both are accepted.
func parseCloudTrace(header string) (trace.SpanContext, bool) {
	traceHex, rest, ok := strings.Cut(strings.TrimSpace(header), "/")
	if !ok || len(traceHex) != 32 {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanText, options, _ := strings.Cut(rest, ";")
	spanID, ok := parseCloudSpanID(strings.TrimSpace(spanText))
	if !ok {
		return trace.SpanContext{}, false
	}
	var flags trace.TraceFlags
	if strings.TrimSpace(options) == "o=1" {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}), true
}

func parseCloudSpanID(value string) (trace.SpanID, bool) {
	if value == "" {
		return trace.SpanID{}, false
	}
	if len(value) == 16 {
		if id, err := trace.SpanIDFromHex(value); err == nil {
			return id, true
		}
	}
	num, err := strconv.ParseUint(value, 10, 64)
	if err != nil || num == 0 {
		return trace.SpanID{}, false
	}
	var id trace.SpanID
	binary.BigEndian.PutUint64(id[:], num)
	return id, true
}

func cloudTraceValue(info requestctx.TraceInfo) string {
	sampled := 0
	if info.Sampled {
		sampled = 1
	}
	return fmt.Sprintf("%s/%s;o=%d", info.TraceID, info.SpanID, sampled)
}
