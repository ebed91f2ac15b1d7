package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerJSONCarriesServiceAttributes(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := newLogger(buf, &Config{AppEnv: "staging", LogFormat: "json", LogLevel: "warn"})

	logger.Info("dropped")
	require.Zero(t, buf.Len())

	logger.Warn("delivery failed")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "delivery failed", line["msg"])
	require.Equal(t, "stockledger", line["service"])
	require.Equal(t, "staging", line["env"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, "DEBUG", parseLevel(" Debug ").String())
	require.Equal(t, "WARN", parseLevel("warning").String())
	require.Equal(t, "ERROR", parseLevel("error").String())
	require.Equal(t, "INFO", parseLevel("").String())
}
