package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewOrReport(t *testing.T) {
	var stderr bytes.Buffer
	_, err := NewOrReport(&stderr, "loud", false)
	require.Error(t, err)
	assert.Contains(t, stderr.String(), `invalid log level "loud"`)

	stderr.Reset()
	logger, err := NewOrReport(&stderr, "info", false)
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.Empty(t, stderr.String())
}

func TestNew(t *testing.T) {
	logger, err := New("debug", false)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = New("", true)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = New("loud", false)
	assert.Error(t, err)
}

func TestToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acet.log")
	logger, err := ToFile(path, "warn")
	require.NoError(t, err)

	logger.Info("Dropped")
	logger.Warn("Failed to reload glossary", zap.String("term", "ion"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Dropped")
	assert.Contains(t, string(data), `"term":"ion"`)
}
