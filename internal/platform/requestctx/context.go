// Package requestctx carries per-request logging and tracing state through context.
package requestctx

import (
	"context"
	"maps"
	"sync"

	"go.uber.org/zap"
)

type (
	loggerKey      struct{}
	traceKey       struct{}
	annotationsKey struct{}
)

var nop = zap.NewNop()

// TraceInfo is the trace the request was continued from or started.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
	// Format is the inbound header the trace came from: "cloud", "w3c" or empty.
	Format string
}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = nop
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the request logger, or a no-op logger outside a request.
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
			return logger
		}
	}
	return nop
}

func HasLogger(ctx context.Context) bool {
	return Logger(ctx) != nop
}

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey{}, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// Annotations are string fields that code deep in a request adds to its access log line, such
// as the error code written or the caller that was authenticated.
type Annotations struct {
	mu     sync.Mutex
	fields map[string]string
}

func WithAnnotations(ctx context.Context) (context.Context, *Annotations) {
	if ctx == nil {
		ctx = context.Background()
	}
	notes := &Annotations{fields: map[string]string{}}
	return context.WithValue(ctx, annotationsKey{}, notes), notes
}

// Annotate is a no-op when ctx carries no Annotations.
func Annotate(ctx context.Context, key, value string) {
	if ctx == nil || key == "" {
		return
	}
	if notes, ok := ctx.Value(annotationsKey{}).(*Annotations); ok && notes != nil {
		notes.mu.Lock()
		notes.fields[key] = value
		notes.mu.Unlock()
	}
}

func (a *Annotations) Fields() map[string]string {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.fields)
}
