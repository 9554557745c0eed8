package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONOutsideDevelopment(t *testing.T) {
	// GIVEN: A production config writing to a buffer
	// WHEN: An info line and a debug line are logged
	// THEN: Only the info line is written, as JSON with the service field

	var buf bytes.Buffer
	logger := Init(Config{Level: LevelInfo, Environment: "production", Output: &buf})
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	logger.Debug().Msg("hidden")
	logger.Info().Str("account_id", "acct-1").Msg("ledger entry committed")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var line map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &line))
	assert.Equal(t, "pos-ledger", line["service"])
	assert.Equal(t, "acct-1", line["account_id"])
	assert.Equal(t, "info", line["level"])
}

func TestInit_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "chatty", Environment: "production", Output: &buf})
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestContext_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).With().Str("request_id", "req-7").Logger()

	ctx := WithContext(context.Background(), logger)
	lg := FromContext(ctx)
	lg.Info().Msg("hello")

	assert.Contains(t, buf.String(), `"request_id":"req-7"`)
}

func TestFromContext_FallsBackToGlobal(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: LevelDebug, Environment: "test", Output: &buf})
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	global := FromContext(context.Background())
	global.Info().Msg("global")
	watch := Component("stockwatch")
	watch.Info().Msg("tagged")

	assert.Contains(t, buf.String(), `"message":"global"`)
	assert.Contains(t, buf.String(), `"component":"stockwatch"`)
}
