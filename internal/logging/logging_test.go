package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/HsiangNianian/cumo/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cumo.log")
	require.NoError(t, Setup(config.LogConfig{Level: "debug", File: path}))
	defer func() {
		Close()
		log.SetOutput(os.Stderr)
	}()

	assert.Equal(t, log.DebugLevel, log.GetLevel())
	log.WithField("id", "abc").Info("viewer connected")
	Close()

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "viewer connected")
	assert.Contains(t, string(content), "id=abc")
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Setup(config.LogConfig{Level: "loud"}))
}
