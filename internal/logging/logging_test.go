package logging

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpn/hpn-g-relay/internal/config"
)

func TestNew_Toggles(t *testing.T) {
	tests := []struct {
		name      string
		warnings  bool
		errors    bool
		wantWarn  bool
		wantError bool
	}{
		{"both on", true, true, true, true},
		{"warnings off", false, true, false, true},
		{"errors off", true, false, true, false},
		{"both off", false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&buf, config.LoggingConfig{Level: "info", Warnings: tt.warnings, Errors: tt.errors})

			logger.Info("info line")
			logger.Warn("warn line")
			logger.Error("error line")

			out := buf.String()
			assert.Contains(t, out, "info line", "info is never gated")
			assert.Equal(t, tt.wantWarn, strings.Contains(out, "warn line"))
			assert.Equal(t, tt.wantError, strings.Contains(out, "error line"))
		})
	}
}

func TestNew_RedactsAndFormats(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, config.LoggingConfig{Level: "debug", Format: "text", Warnings: true, Errors: true})

	logger.With(slog.String("component", "test")).Debug("using sk-abcdefghijklmnopqrstuvwxyz")

	out := buf.String()
	assert.Contains(t, out, "level=DEBUG")
	assert.Contains(t, out, "component=test")
	assert.NotContains(t, out, "sk-abcdef")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestSetup_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")
	logger, closeFn, err := Setup(config.LoggingConfig{Level: "info", OutputPath: path, Warnings: true, Errors: true})
	require.NoError(t, err)

	logger.Info("to file")
	require.NoError(t, closeFn())
}
