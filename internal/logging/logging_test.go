package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "info", "json")
	require.NoError(t, err)

	log.Debug().Msg("hidden")
	log.Info().Str("run_id", "r1").Msg("run started")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "r1", line["run_id"])
	assert.Equal(t, "run started", line["message"])
	assert.Contains(t, line, "time")
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "DEBUG", "console")
	require.NoError(t, err)

	log.Debug().Int("attempt", 2).Msg("transition")
	out := buf.String()
	assert.Contains(t, out, "| DEBUG|")
	assert.Contains(t, out, "transition")
	assert.Contains(t, out, "attempt=")
}

func TestEmptyLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "", "json")
	require.NoError(t, err)
	log.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
}

func TestUnknownLevel(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "loud", "json")
	assert.Error(t, err)
}
