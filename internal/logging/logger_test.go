package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("warn", &buf)

	logger.Info("dropped")
	require.Zero(t, buf.Len(), "below the configured level")

	logger.Warn("webhook rejected", "signature", "abc123", "reference", "ref-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "webhook rejected", line["msg"])
	require.Equal(t, "[redacted]", line["signature"])
	require.Equal(t, "ref-1", line["reference"])
}

func TestNewWithWriterInvalidLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("loud", &buf)

	logger.Debug("hidden")
	logger.Info("shown")

	require.Contains(t, buf.String(), "shown")
	require.NotContains(t, buf.String(), "hidden")
}
