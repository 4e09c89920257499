package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the declarative logger configuration.
type Config struct {
	// Level sets the minimum log level ("debug", "info", "warn", "error").
	Level string `json:"level" yaml:"level"`
	// Format is "json" or "console" ("text" is accepted as console).
	Format string `json:"format" yaml:"format"`
	// Output is "stdout", "stderr", "null", or a file path. Defaults to stdout.
	Output string `json:"output" yaml:"output"`
}

// ParseLevel converts a level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// ParseFormat converts a format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return FormatJSON, nil
	case "console", "text":
		return FormatConsole, nil
	}
	return FormatJSON, fmt.Errorf("unknown log format %q", s)
}

// ApplyConfig builds a Logger from cfg.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format, err := ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	sink, err := openSink(cfg.Output)
	if err != nil {
		return nil, err
	}
	return NewLogger(WithLevel(level), WithFormat(format), WithOutput(sink)), nil
}

func openSink(output string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return zapcore.Lock(zapcore.AddSync(stdout())), nil
	case "stderr":
		return zapcore.Lock(zapcore.AddSync(os.Stderr)), nil
	case "null", "none":
		return zapcore.AddSync(io.Discard), nil
	}
	f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", output, err)
	}
	return zapcore.Lock(f), nil
}

func stdout() io.Writer { return os.Stdout }

// RedirectStdLog routes the standard library logger through l at info level.
// The returned func restores the previous behavior.
func RedirectStdLog(l Logger) func() {
	if bl, ok := l.(*BaseLogger); ok {
		return zap.RedirectStdLog(bl.zl)
	}
	return func() {}
}

// PebbleLogger adapts a Logger to the Infof/Errorf/Fatalf interface that
// Pebble uses for its own diagnostics.
type PebbleLogger struct {
	L Logger
}

func (p PebbleLogger) Infof(format string, args ...interface{}) {
	p.L.Debugf("[pebble] "+format, args...)
}

func (p PebbleLogger) Errorf(format string, args ...interface{}) {
	p.L.Errorf("[pebble] "+format, args...)
}

func (p PebbleLogger) Fatalf(format string, args ...interface{}) {
	p.L.Fatal(fmt.Sprintf("[pebble] "+format, args...))
}
