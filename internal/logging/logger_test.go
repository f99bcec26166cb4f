package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "chatdeck.log")

	logger, err := New(Config{Level: "info", File: path})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("session created")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"session created"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestNewDevelopmentDefaultsToDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.log")

	logger, err := New(Config{Development: true, File: path})
	require.NoError(t, err)
	logger.Debug("visible")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "visible")
}

func TestNewWithoutFileIsNop(t *testing.T) {
	logger, err := New(Config{})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestInvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "loud", File: filepath.Join(t.TempDir(), "x.log")})
	assert.Error(t, err)
}
