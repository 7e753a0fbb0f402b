package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev := Logger()
	prevLevel := zerolog.GlobalLevel()
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() {
		SetLogger(prev)
		zerolog.SetGlobalLevel(prevLevel)
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":    zerolog.DebugLevel,
		"WARN":     zerolog.WarnLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"":         zerolog.InfoLevel,
		"nonsense": zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestWithLevelFatalDoesNotExit(t *testing.T) {
	buf := capture(t)

	WithLevel(zerolog.FatalLevel).Str("job", "sync-views").Msg("all attempts failed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "fatal", line["level"])
	assert.Equal(t, "sync-views", line["job"])
}

func TestSlogBridge(t *testing.T) {
	buf := capture(t)

	logger := NewSlogLogger().With("service", "scheduler").WithGroup("event")
	logger.Warn("service restarted", "attempt", 2)

	out := buf.String()
	assert.True(t, strings.Contains(out, `"level":"warn"`), out)
	assert.Contains(t, out, `"service":"scheduler"`)
	assert.Contains(t, out, `"event.attempt":2`)
	assert.Contains(t, out, "service restarted")
}

func TestSlogBridgeRespectsLevel(t *testing.T) {
	buf := capture(t)
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	NewSlogLogger().Info("dropped")
	assert.Empty(t, buf.String())

	assert.True(t, NewSlogLogger().Enabled(context.Background(), slog.LevelError))
}
