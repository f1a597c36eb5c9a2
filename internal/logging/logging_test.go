package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInvalidLevel(t *testing.T) {
	_, _, err := New(Config{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")

	logger, closer, err := New(Config{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
	logger.Info().Str("symbol", "EUR_USD").Msg("tick")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"symbol":"EUR_USD"`)
	assert.Contains(t, string(data), `"message":"tick"`)
}
