package utils

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, logiface.LevelDebug, level)

	level, err = ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, logiface.LevelWarning, level)

	_, err = ParseLevel("loud")
	assert.ErrorIs(t, err, InvalidLogLevel)
}

func TestNewLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, logiface.LevelInformational)

	logger.Debug().Log("hidden")
	logger.Info().Int("hart", 1).Log("interrupt init ok")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "interrupt init ok")
	assert.Contains(t, out, `"hart"`)
}

func TestNilLoggerDiscards(t *testing.T) {
	var logger *Logger
	assert.NotPanics(t, func() {
		logger.Err().Str("k", "v").Log("nothing")
	})
}

func TestLoadFileKeepsNumbers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"harts": 2}`), 0o644))

	var value map[string]interface{}
	require.NoError(t, LoadFile(path, &value))
	assert.Equal(t, json.Number("2"), value["harts"])

	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))
	assert.Error(t, LoadFile(path, &value))

	assert.Error(t, LoadFile(filepath.Join(t.TempDir(), "missing.json"), &value))
}
