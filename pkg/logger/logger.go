// Package logger provides structured logging for the progression engine.
// It is a thin layer over zap that keeps a small, stable API for the rest of the code:
// leveled methods taking typed fields, child loggers via With, and context propagation.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the severity of a log message.
type Level = zapcore.Level

const (
	// LevelDebug is for detailed debugging information.
	LevelDebug = zapcore.DebugLevel
	// LevelInfo is for general operational information.
	LevelInfo = zapcore.InfoLevel
	// LevelWarn is for warning messages.
	LevelWarn = zapcore.WarnLevel
	// LevelError is for error messages.
	LevelError = zapcore.ErrorLevel
)

// ParseLevel parses a string into a Level. Unknown values map to info.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Field represents a key-value pair for structured logging.
type Field = zap.Field

// Common field constructors for convenience.
func String(key, value string) Field          { return zap.String(key, value) }
func Int(key string, value int) Field         { return zap.Int(key, value) }
func Bool(key string, value bool) Field       { return zap.Bool(key, value) }
func Any(key string, value any) Field         { return zap.Any(key, value) }

// Err creates an error field.
func Err(err error) Field { return zap.Error(err) }

// Duration creates a duration field.
func Duration(key string, value time.Duration) Field { return zap.Duration(key, value) }

// Logger is the main logger struct.
type Logger struct {
	z *zap.Logger
}

// Options configures the logger.
type Options struct {
	Output    io.Writer
	Level     Level
	Format    string // "json" or "console"
	AddCaller bool
}

// New creates a new Logger with the given options.
// A nil Output writes to stdout; any Format other than "console" is JSON.
func New(opts Options) *Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if opts.Format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(opts.Output), zap.NewAtomicLevelAt(opts.Level))

	zopts := []zap.Option{}
	if opts.AddCaller {
		zopts = append(zopts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	return &Logger{z: zap.New(core, zopts...)}
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() *Logger {
	return &Logger{z: zap.NewNop()}
}

// With returns a new Logger with the given fields added.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

// Named returns a child logger with the name appended to the logger name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{z: l.z.Named(name)}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...Field) { l.z.Info(msg, fields...) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...Field) { l.z.Warn(msg, fields...) }

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.z.Sync()
}

// Context key for logger.
type ctxKey struct{}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}

// RequestIDKey is a common field key for request tracing.
const RequestIDKey = "request_id"

// WithRequestID returns a logger with request ID field added.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.With(String(RequestIDKey, requestID))
}

// Progression logging helpers.
func UserID(id string) Field            { return String("user_id", id) }
func XPAmount(xp int) Field             { return Int("xp_amount", xp) }
func LevelNumber(level int) Field       { return Int("level", level) }
func StreakDays(days int) Field         { return Int("streak_days", days) }
func AchievementCode(code string) Field { return String("achievement_code", code) }
func Component(name string) Field       { return String("component", name) }
func Operation(name string) Field       { return String("operation", name) }
func Latency(d time.Duration) Field     { return Duration("latency", d) }
