package log

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureWritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "rtbolt.log")

	closer, err := Configure(Config{Level: "debug", Console: &console, File: path, NoColor: true})
	require.NoError(t, err)

	l := WithComponent("session")
	l.Debug().Str("target", "target1").Msg("waiting for login prompt")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "waiting for login prompt")
	assert.Contains(t, console.String(), "target1")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"session"`)
	assert.Contains(t, string(data), `"level":"debug"`)
}

func TestConfigureLevelFilters(t *testing.T) {
	var console bytes.Buffer
	_, err := Configure(Config{Level: "warn", Console: &console, NoColor: true})
	require.NoError(t, err)

	l := Base()
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")

	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "shown")
}

func TestConfigureInvalidLevel(t *testing.T) {
	_, err := Configure(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestDefaultLoggerIsInfo(t *testing.T) {
	var console bytes.Buffer
	l := defaultLogger(&console)

	assert.Equal(t, zerolog.InfoLevel, l.GetLevel())
	l.Debug().Msg("discarded stale output")
	l.Info().Msg("logged in")

	assert.NotContains(t, console.String(), "discarded stale output")
	assert.Contains(t, console.String(), "logged in")
}
