// Package log provides a structured logging system for oplogd services.
package log

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the severity level of a log message.
type Level int

// Log levels
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func fromZapLevel(l zapcore.Level) Level {
	switch {
	case l <= zapcore.DebugLevel:
		return DebugLevel
	case l == zapcore.InfoLevel:
		return InfoLevel
	case l == zapcore.WarnLevel:
		return WarnLevel
	case l == zapcore.ErrorLevel:
		return ErrorLevel
	default:
		return FatalLevel
	}
}

// Fields is a map of field names to values.
type Fields map[string]interface{}

// Context keys for propagating logging context
const (
	RequestIDKey = "request_id"
	TraceIDKey   = "trace_id"
	SpanIDKey    = "span_id"
	ComponentKey = "component"
	OperationKey = "operation"
)

// Logger defines the core logging interface for oplogd components.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})

	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger

	// With adds multiple fields to the logger.
	With(fields ...Field) Logger

	// WithContext adds request context to the Logger
	WithContext(ctx context.Context) Logger

	// WithComponent tags logs with a component name
	WithComponent(component string) Logger

	// SetLevel sets the minimum log level for this logger and everything derived from it.
	SetLevel(level Level)

	// GetLevel returns the current minimum log level
	GetLevel() Level
}

// LoggerOption is a function that configures a logger.
type LoggerOption func(*options)

// Format selects the zap encoder.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

type options struct {
	level  Level
	format Format
	sink   zapcore.WriteSyncer
	core   zapcore.Core
	fields []Field
}

// BaseLogger implements the Logger interface on top of zap.
type BaseLogger struct {
	zl    *zap.Logger
	level zap.AtomicLevel
}

var _ Logger = (*BaseLogger)(nil)

// ContextExtractor extracts logging context from a context.Context.
func ContextExtractor(ctx context.Context) Fields {
	if ctx == nil {
		return Fields{}
	}
	fields := Fields{}
	for _, key := range []string{RequestIDKey, TraceIDKey, SpanIDKey, ComponentKey, OperationKey} {
		if v := ctx.Value(key); v != nil {
			fields[key] = v
		}
	}
	return fields
}

// NewLogger creates a new logger with the given options. Defaults are info
// level, JSON encoding, and stdout.
func NewLogger(opts ...LoggerOption) Logger {
	o := &options{level: InfoLevel, format: FormatJSON}
	for _, opt := range opts {
		opt(o)
	}
	level := zap.NewAtomicLevelAt(o.level.zapLevel())
	var core zapcore.Core
	if o.core != nil {
		core = leveledCore{Core: o.core, enabler: level}
	} else {
		sink := o.sink
		if sink == nil {
			sink = zapcore.Lock(zapcore.AddSync(stdout()))
		}
		core = zapcore.NewCore(newEncoder(o.format), sink, level)
	}
	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	if len(o.fields) > 0 {
		zl = zl.With(toZap(o.fields)...)
	}
	return &BaseLogger{zl: zl, level: level}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return &BaseLogger{zl: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.FatalLevel)}
}

// WithLevel sets the minimum log level.
func WithLevel(level Level) LoggerOption {
	return func(o *options) { o.level = level }
}

// WithFormat selects JSON or console encoding.
func WithFormat(format Format) LoggerOption {
	return func(o *options) { o.format = format }
}

// WithOutput sets the destination for encoded entries.
func WithOutput(ws zapcore.WriteSyncer) LoggerOption {
	return func(o *options) { o.sink = ws }
}

// WithCore replaces the whole zap core; used by tests with zaptest/observer.
func WithCore(core zapcore.Core) LoggerOption {
	return func(o *options) { o.core = core }
}

// WithInitialFields attaches fields to every entry.
func WithInitialFields(fields ...Field) LoggerOption {
	return func(o *options) { o.fields = append(o.fields, fields...) }
}

func newEncoder(format Format) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if format == FormatConsole {
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(cfg)
}

func (l *BaseLogger) Debug(msg string, fields ...Field) { l.zl.Debug(msg, toZap(fields)...) }
func (l *BaseLogger) Info(msg string, fields ...Field)  { l.zl.Info(msg, toZap(fields)...) }
func (l *BaseLogger) Warn(msg string, fields ...Field)  { l.zl.Warn(msg, toZap(fields)...) }
func (l *BaseLogger) Error(msg string, fields ...Field) { l.zl.Error(msg, toZap(fields)...) }
func (l *BaseLogger) Fatal(msg string, fields ...Field) { l.zl.Fatal(msg, toZap(fields)...) }

func (l *BaseLogger) Debugf(msg string, args ...interface{}) { l.zl.Debug(fmt.Sprintf(msg, args...)) }
func (l *BaseLogger) Infof(msg string, args ...interface{})  { l.zl.Info(fmt.Sprintf(msg, args...)) }
func (l *BaseLogger) Warnf(msg string, args ...interface{})  { l.zl.Warn(fmt.Sprintf(msg, args...)) }
func (l *BaseLogger) Errorf(msg string, args ...interface{}) { l.zl.Error(fmt.Sprintf(msg, args...)) }

func (l *BaseLogger) WithField(key string, value interface{}) Logger {
	return l.With(Any(key, value))
}

func (l *BaseLogger) WithFields(fields Fields) Logger {
	fs := make([]Field, 0, len(fields))
	for k, v := range fields {
		fs = append(fs, Any(k, v))
	}
	return l.With(fs...)
}

func (l *BaseLogger) WithError(err error) Logger { return l.With(Err(err)) }

func (l *BaseLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	return &BaseLogger{zl: l.zl.With(toZap(fields)...), level: l.level}
}

func (l *BaseLogger) WithContext(ctx context.Context) Logger {
	return l.WithFields(ContextExtractor(ctx))
}

func (l *BaseLogger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

func (l *BaseLogger) SetLevel(level Level) { l.level.SetLevel(level.zapLevel()) }

func (l *BaseLogger) GetLevel() Level { return fromZapLevel(l.level.Level()) }

// Zap exposes the underlying zap logger for libraries that want one directly.
func (l *BaseLogger) Zap() *zap.Logger { return l.zl }

// Sync flushes buffered entries.
func (l *BaseLogger) Sync() error { return l.zl.Sync() }

// leveledCore gates an externally supplied core by the logger's atomic level.
type leveledCore struct {
	zapcore.Core
	enabler zapcore.LevelEnabler
}

func (c leveledCore) Enabled(l zapcore.Level) bool {
	return c.enabler.Enabled(l) && c.Core.Enabled(l)
}

func (c leveledCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.enabler.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c leveledCore) With(fields []zapcore.Field) zapcore.Core {
	return leveledCore{Core: c.Core.With(fields), enabler: c.enabler}
}
