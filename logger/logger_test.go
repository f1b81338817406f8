package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONWithAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(WithOutput(&buf), WithFormat("json"), WithAttr("service", "bulk-mailer"))
	l.Info("hello", Err(errors.New("boom")))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "bulk-mailer", entry["service"])
	assert.Equal(t, "boom", entry["error"])
}

func TestNew_LevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(WithOutput(&buf), WithLevel("warn"))
	l.Info("hidden")
	l.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_UnknownLevelKeepsInfo(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(WithOutput(&buf), WithLevel("chatty"))
	l.Debug("debug line")
	l.Info("info line")

	assert.NotContains(t, buf.String(), "debug line")
	assert.Contains(t, buf.String(), "info line")
}
