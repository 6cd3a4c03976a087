package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"trace", zerolog.TraceLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestConsoleJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, closer, err := NewWithConsole(Config{Level: "info", Console: true, JSON: true}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	log.Debug().Msg("hidden")
	log.Info().Str("symbol", "EURUSD").Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"symbol":"EURUSD"`)
	assert.Contains(t, buf.String(), `"message":"shown"`)
}

func TestConsoleText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, _, err := NewWithConsole(Config{Console: true, NoColor: true}, &buf)
	require.NoError(t, err)
	log.Warn().Int("n", 3).Msg("careful")
	assert.Contains(t, buf.String(), "WRN")
	assert.Contains(t, buf.String(), "careful")
	assert.Contains(t, buf.String(), "n=3")
}

func TestFileAndConsole(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "tradehost.log")
	log, closer, err := NewWithConsole(Config{Level: "debug", Console: true, JSON: true, File: path, MaxSize: 1}, &buf)
	require.NoError(t, err)

	log.Debug().Msg("both")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "both")
	assert.Contains(t, buf.String(), "both")
}

func TestNothingConfigured(t *testing.T) {
	t.Parallel()

	log, closer, err := New(Config{})
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
	assert.Equal(t, zerolog.Disabled, log.GetLevel())

	_, _, err = New(Config{Level: "loud", Console: true})
	assert.Error(t, err)
}
