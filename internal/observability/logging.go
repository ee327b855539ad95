package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/cartable/internal/config"
	"github.com/pitabwire/cartable/model"
)

// Log level usage:
//   - error: store failures, panics, 5xx responses
//   - warn:  rejected transitions, publish failures, 4xx responses
//   - info:  workflow starts and transitions, definition saves, request end
//   - debug: inbox queries, seen marks, redacted item data

// ServiceName is attached to every log line and span resource.
const ServiceName = "cartable"

// Log formats.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

type loggerKey struct{}

// NewLogger builds the process logger. Unknown levels fall back to info;
// the console format is meant for local runs.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeDuration = zapcore.MillisDurationEncoder

	encoding := LogFormatJSON
	if cfg.LogFormat == LogFormatConsole {
		encoding = LogFormatConsole
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		EncoderConfig:    encoderCfg,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields:    map[string]any{"service": ServiceName},
	}.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the context logger, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns the context logger tagged with the caller's
// identity and trace ids.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := make([]zap.Field, 0, 5)
	fields = append(fields,
		zap.String("subject_id", rctx.SubjectID),
		zap.String("role", rctx.Role),
		zap.String("correlation_id", rctx.CorrelationID),
	)
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}
	if rctx.SpanID != "" {
		fields = append(fields, zap.String("span_id", rctx.SpanID))
	}
	return logger.With(fields...)
}

// ItemFields identifies an item in a log line.
func ItemFields(item model.CartableItem) []zap.Field {
	fields := []zap.Field{
		zap.String("item_id", item.ID),
		zap.String("module", item.Module),
		zap.String("workflow_id", item.WorkflowID),
		zap.String("step_id", item.CurrentStepID),
		zap.Int64("revision", item.Revision),
	}
	if item.TrackingCode != "" {
		fields = append(fields, zap.String("tracking_code", item.TrackingCode))
	}
	return fields
}

const redacted = "[REDACTED]"

// sensitiveKeys are always masked. Keys compare case-insensitively.
var sensitiveKeys = []string{
	"password", "secret", "token", "access_token", "refresh_token",
	"api_key", "authorization", "national_id", "phone", "mobile",
}

// RedactData returns a copy of item data with sensitive keys masked, at
// any depth. extra adds deployment-specific keys.
func RedactData(data map[string]any, extra []string) map[string]any {
	if data == nil {
		return nil
	}
	keys := make(map[string]struct{}, len(sensitiveKeys)+len(extra))
	for _, k := range sensitiveKeys {
		keys[k] = struct{}{}
	}
	for _, k := range extra {
		keys[strings.ToLower(k)] = struct{}{}
	}
	return redactMap(data, keys)
}

func redactMap(data map[string]any, keys map[string]struct{}) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if _, hit := keys[strings.ToLower(k)]; hit {
			out[k] = redacted
			continue
		}
		out[k] = redactValue(v, keys)
	}
	return out
}

func redactValue(v any, keys map[string]struct{}) any {
	switch t := v.(type) {
	case map[string]any:
		return redactMap(t, keys)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = redactValue(e, keys)
		}
		return out
	default:
		return v
	}
}
