package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" INFO ":  zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"Error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		require.Equal(t, want, ParseLevel(in), in)
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("info", "json", &buf)
	l.Debug("hidden")
	l.Info("journey started", zap.String("journey_id", "j1"))
	require.NoError(t, l.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "INFO", entry["level"])
	require.Equal(t, "journey started", entry["msg"])
	require.Equal(t, "j1", entry["journey_id"])
	require.Contains(t, entry["caller"], "logger_test.go")
}

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("debug", "TEXT", &buf)
	l.Debug("sweep", zap.Int("n", 3))
	require.NoError(t, l.Sync())
	out := buf.String()
	require.Contains(t, out, "sweep")
	require.Contains(t, out, `{"n": 3}`)
	require.False(t, json.Valid([]byte(strings.TrimSpace(out))))
}
