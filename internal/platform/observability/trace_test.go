package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"finitefield.org/usermapping/internal/platform/requestctx"
)

func TestParseCloudTrace(t *testing.T) {
	sc, ok := parseCloudTrace("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected cloud trace header to parse")
	}
	if !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("expected sampled remote span context")
	}
	if got := sc.SpanID().String(); got != "0000000000000001" {
		t.Fatalf("unexpected span id %q", got)
	}

	hex, ok := parseCloudTrace("105445aa7843bc8bf206b12000100000/00f067aa0ba902b7")
	if !ok || hex.SpanID().String() != "00f067aa0ba902b7" || hex.IsSampled() {
		t.Fatalf("expected hex span id without sampling, got %v %v", hex, ok)
	}

	for _, header := range []string{
		"",
		"105445aa7843bc8bf206b12000100000",
		"short/1;o=1",
		"105445aa7843bc8bf206b12000100000/0;o=1",
		"105445aa7843bc8bf206b12000100000/notanumber",
	} {
		if _, ok := parseCloudTrace(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestTraceMiddlewareContinuesCloudTrace(t *testing.T) {
	var seen requestctx.TraceInfo
	handler := TraceMiddleware("proj")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/mapping", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen.TraceID != "105445aa7843bc8bf206b12000100000" || seen.Format != formatCloud {
		t.Fatalf("unexpected trace info %+v", seen)
	}
	if got := rr.Header().Get(cloudTraceHeader); got != "105445aa7843bc8bf206b12000100000/0000000000000001;o=1" {
		t.Fatalf("unexpected echoed header %q", got)
	}
	if rr.Header().Get("Traceparent") != "" {
		t.Fatalf("traceparent must not be set for cloud trace requests")
	}
}

func TestTraceMiddlewareWithoutInboundTrace(t *testing.T) {
	var seen requestctx.TraceInfo
	handler := TraceMiddleware("proj")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestctx.Trace(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if seen.Format != "" || seen.ProjectID != "proj" {
		t.Fatalf("unexpected trace info %+v", seen)
	}
}

func TestTraceMiddlewarePrefersTraceParent(t *testing.T) {
	var seen requestctx.TraceInfo
	handler := TraceMiddleware("proj")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected traceparent trace id, got %q", seen.TraceID)
	}
	if seen.ProjectID != "proj" {
		t.Fatalf("expected project id on trace info, got %q", seen.ProjectID)
	}
	if rr.Header().Get("Traceparent") == "" {
		t.Fatalf("expected traceparent echoed on response")
	}
}

func TestSanitizeFieldsMasksCredentials(t *testing.T) {
	got := SanitizeFields(map[string]any{
		"apiToken": "abc",
		"Password": "hunter2",
		"side":     "src\n",
		"count":    3,
	})
	if got["apiToken"] != redactedValue || got["Password"] != redactedValue {
		t.Fatalf("expected credentials masked: %+v", got)
	}
	if got["side"] != "src" {
		t.Fatalf("expected control characters stripped, got %q", got["side"])
	}
	if got["count"] != 3 {
		t.Fatalf("expected non-string values untouched")
	}
}
