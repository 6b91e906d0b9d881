package observability

import (
	"context"
	"maps"
	"os"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"finitefield.org/usermapping/internal/platform/requestctx"
)

// NewLogger builds the JSON logger every binary writes to stdout, keyed the way Cloud Logging
// parses structured entries. LOG_LEVEL selects the level; unknown values mean info.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level, err := zapcore.ParseLevel(strings.TrimSpace(os.Getenv("LOG_LEVEL"))); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(level)
	}
	cfg.OutputPaths = []string{"stdout"}
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.LevelKey = "severity"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg.Build()
}

// WithLogger makes logger the one requestctx.Logger returns for ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// PrintfAdapter feeds printf-style loggers, such as the OIDC validator's, into zap.
type PrintfAdapter struct {
	logger *zap.SugaredLogger
}

func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{logger: logger.Sugar()}
}

func (a PrintfAdapter) Printf(format string, args ...any) {
	a.logger.Infof(format, args...)
}

// EventLogger returns the event callback services accept. Entries go to the request logger when
// the context carries one, otherwise to fallback, and an "error" field raises them to warn.
func EventLogger(fallback *zap.Logger, message string) func(ctx context.Context, event string, fields map[string]any) {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := fallback
		if requestctx.HasLogger(ctx) {
			logger = requestctx.Logger(ctx).Named(fallback.Name())
		}
		fields = SanitizeFields(fields)
		out := []zap.Field{zap.String("event", event)}
		for _, k := range slices.Sorted(maps.Keys(fields)) {
			out = append(out, zap.Any(k, fields[k]))
		}
		level := zapcore.InfoLevel
		if _, failed := fields["error"]; failed {
			level = zapcore.WarnLevel
		}
		logger.Log(level, message, out...)
	}
}
