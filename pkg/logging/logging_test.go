package logging

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestSetupLoggerVerbosity(t *testing.T) {
	tests := []struct {
		verbosity int
		level     zerolog.Level
	}{
		{0, zerolog.InfoLevel},
		{1, zerolog.DebugLevel},
		{2, zerolog.TraceLevel},
		{5, zerolog.TraceLevel},
	}

	for _, tt := range tests {
		SetupLogger(tt.verbosity)
		assert.Equal(t, tt.level, zerolog.GlobalLevel())
	}
}

func TestGetLogger(t *testing.T) {
	logger := GetLogger("executor")
	// Component loggers must be usable without further setup.
	logger.Debug().Msg("ping")
}

func TestCommandHelpersLogThroughGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	}()

	LogCommand("spack", []string{"--config-scope", "/conf/spack", "reindex"})
	LogDuration(time.Now(), "spack")

	out := buf.String()
	assert.Contains(t, out, "Executing command")
	assert.Contains(t, out, "reindex")
	assert.Contains(t, out, "Operation completed")
}

func TestSetupLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "buildrules.log")
	f, err := setupLogFile(path)
	assert.NoError(t, err)
	assert.NotNil(t, f)
	assert.NoError(t, f.Close())
	assert.FileExists(t, path)
}
