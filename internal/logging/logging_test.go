package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roomchat.log")

	logger, err := New(path, "debug")
	require.NoError(t, err)
	logger.Debug("hello from test")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
}

func TestNewRespectsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roomchat.log")

	logger, err := New(path, "warn")
	require.NoError(t, err)
	logger.Info("quiet")
	logger.Warn("loud")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "quiet")
	assert.Contains(t, string(data), "loud")
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "x.log"), "chatty")
	assert.Error(t, err)
}
