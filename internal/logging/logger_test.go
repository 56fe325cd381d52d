package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevelString(t *testing.T) {
	testCases := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(42), "UNKNOWN"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
		wantErr  bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelDebug, Format: "json", Output: &buf})

	logger.WithComponent("watcher").With("root", "src").
		Warn(context.Background(), errors.New("boom"), "watch failed", "path", "a.js")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "watch failed", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "watcher", entry["component"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "src", entry["root"])
	assert.Equal(t, "a.js", entry["path"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelWarn, Output: &buf})

	logger.Debug(context.Background(), "hidden debug")
	logger.Info(context.Background(), "hidden info")
	logger.Error(context.Background(), nil, "shown error")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown error")
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	assert.NotPanics(t, func() {
		logger.Error(context.Background(), errors.New("x"), "dropped")
	})
}

func TestReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, false, false)

	r.Step("build", "Cleaning dist...")
	r.File("dist/manifest.json", 1234)
	r.Success("Build completed successfully")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "  [build] Cleaning dist...", lines[0])
	assert.Equal(t, "  "+padRight("dist/manifest.json", 40)+" 1.23 kB", lines[1])
	assert.Equal(t, "  Build completed successfully", lines[2])
}

func TestReporterQuiet(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, false, true).Quiet()

	r.Step("build", "nothing")
	r.NewLine()

	assert.True(t, r.IsQuiet())
	assert.Empty(t, buf.String())
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0 B", FormatSize(0))
	assert.Equal(t, "999 B", FormatSize(999))
	assert.Equal(t, "1 kB", FormatSize(1000))
	assert.Equal(t, "1.5 kB", FormatSize(1500))
	assert.Equal(t, "2.35 MB", FormatSize(2_345_678))
}

func padRight(s string, n int) string {
	return s + strings.Repeat(" ", n-len(s))
}
