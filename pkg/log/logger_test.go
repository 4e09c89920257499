package log

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved(level Level) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewLogger(WithCore(core), WithLevel(level)), logs
}

func TestFieldsAndComponent(t *testing.T) {
	l, logs := newObserved(DebugLevel)
	l.WithComponent("retention").With(Str("node", "n1")).Info("truncated", Int("entries", 3))

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	require.Equal(t, "retention", ctx[ComponentKey])
	require.Equal(t, "n1", ctx["node"])
	require.EqualValues(t, 3, ctx["entries"])
}

func TestWithErrorUsesErrorKey(t *testing.T) {
	l, logs := newObserved(DebugLevel)
	l.WithError(errors.New("boom")).Warn("tick failed")
	require.Equal(t, "boom", logs.All()[0].ContextMap()["error"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"loud", InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestApplyConfigWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oplogd.log")
	l, err := ApplyConfig(&Config{Level: "warn", Format: "text", Output: path})
	require.NoError(t, err)
	require.Equal(t, WarnLevel, l.GetLevel())

	l.Info("dropped")
	l.Warn("kept")
	require.NoError(t, l.(*BaseLogger).Sync())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), "kept")
	require.NotContains(t, string(b), "dropped")
}

func TestApplyConfigRejectsUnknownFormat(t *testing.T) {
	_, err := ApplyConfig(&Config{Format: "xml"})
	require.Error(t, err)
}

func TestSetLevelAppliesToDerivedLoggers(t *testing.T) {
	l, logs := newObserved(InfoLevel)
	child := l.WithComponent("truncator")
	child.Debug("hidden")
	l.SetLevel(DebugLevel)
	child.Debug("visible")
	require.Equal(t, 1, logs.Len())
	require.Equal(t, "visible", logs.All()[0].Message)
}
