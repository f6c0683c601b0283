package observability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bazaarly/api/internal/platform/requestctx"
)

const defaultLogLevel = "info"

// EventLogger is the structured event hook accepted by service and adapter constructors.
type EventLogger func(ctx context.Context, event string, fields map[string]any)

// NewLogger constructs a zap logger emitting Cloud Logging compatible JSON at the given level.
// An empty or unknown level falls back to info.
func NewLogger(level string) (*zap.Logger, error) {
	atomic := zap.NewAtomicLevel()
	if err := atomic.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil || strings.TrimSpace(level) == "" {
		_ = atomic.UnmarshalText([]byte(defaultLogLevel))
	}

	encoderCfg := zapcore.EncoderConfig{
		MessageKey: "message",
		TimeKey:    "timestamp",
		LevelKey:   "severity",
		NameKey:    "logger",
		EncodeTime: zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(level.String()))
		},
		EncodeDuration: zapcore.MillisDurationEncoder,
		CallerKey:      "caller",
		EncodeCaller:   zapcore.ShortCallerEncoder,
		StacktraceKey:  "stacktrace",
	}

	cfg := zap.Config{
		Level:             atomic,
		Encoding:          "json",
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}

	return cfg.Build()
}

// WithLogger injects the logger into the provided context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// FromContext retrieves the logger from context, defaulting to a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}

// WithRequestFields augments the logger with standard request-scoped fields.
func WithRequestFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(fields...)
}

// NewEventLogger adapts zap to the EventLogger hook. The request-scoped logger on ctx is preferred
// so events carry request and trace ids; fallback is used outside of requests.
//
// Severity follows the event name: ledger_violation is an error, security_event and anything
// ending in .failed or .declined is a warning, the rest is info.
func NewEventLogger(fallback *zap.Logger, component string) EventLogger {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	named := fallback.Named(component)
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = named
		} else {
			logger = logger.Named(component)
		}
		zapFields := make([]zap.Field, 0, len(fields)+1)
		zapFields = append(zapFields, zap.String("event", event))
		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			zapFields = append(zapFields, eventField(key, fields[key]))
		}

		switch {
		case event == "ledger_violation":
			logger.Error(event, zapFields...)
		case event == "security_event", strings.HasSuffix(event, ".failed"), strings.HasSuffix(event, ".declined"), strings.HasSuffix(event, ".rejected"):
			logger.Warn(event, zapFields...)
		default:
			logger.Info(event, zapFields...)
		}
	}
}

func eventField(key string, value any) zap.Field {
	switch v := value.(type) {
	case string:
		return zap.String(key, sanitizeString(v, defaultStringLimit))
	case int64:
		return zap.Int64(key, v)
	case int:
		return zap.Int(key, v)
	case bool:
		return zap.Bool(key, v)
	case time.Time:
		return zap.Time(key, v)
	case time.Duration:
		return zap.Duration(key, v)
	case []string:
		return zap.Strings(key, v)
	case error:
		return zap.String(key, sanitizeString(v.Error(), defaultStringLimit))
	case fmt.Stringer:
		return zap.Stringer(key, v)
	}
	return zap.Any(key, value)
}
