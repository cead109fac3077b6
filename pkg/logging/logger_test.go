package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerDefaults(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("defaults are usable")
}

func TestNewLoggerFormats(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatConsole} {
		cfg := DefaultConfig()
		cfg.Format = format

		logger, err := NewLogger(cfg)
		require.NoError(t, err, string(format))
		assert.NotNil(t, logger)
	}
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Format = Format("xml")

	_, err := NewLogger(cfg)
	assert.Error(t, err)
}

func TestZapLevelMapping(t *testing.T) {
	assert.Equal(t, "debug", zapLevel(LevelDebug).String())
	assert.Equal(t, "info", zapLevel(LevelInfo).String())
	assert.Equal(t, "warn", zapLevel(LevelWarn).String())
	assert.Equal(t, "error", zapLevel(LevelError).String())
	assert.Equal(t, "info", zapLevel(Level("verbose")).String(), "unknown levels fall back to info")
}
