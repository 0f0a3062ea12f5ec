package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewInvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestEventHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewWithCore(core)

	l.LogTransition("FLAT", "STAGING", map[string]interface{}{"side": "LONG"})
	l.LogOrder("submit", "42", map[string]interface{}{"price": 100.0})
	l.LogTrade("closed", nil)
	l.LogRisk("halt", nil)
	l.LogError(errors.New("boom"), map[string]interface{}{"action": "entry skipped"})

	require.Equal(t, 5, logs.Len())
	entries := logs.All()

	tr := entries[0]
	assert.Equal(t, "state_transition", tr.Message)
	assert.Equal(t, "FLAT", tr.ContextMap()["from"])
	assert.Equal(t, "STAGING", tr.ContextMap()["to"])
	assert.Equal(t, "LONG", tr.ContextMap()["side"])
	assert.NotEmpty(t, tr.ContextMap()["ts"])

	assert.Equal(t, "order_event", entries[1].Message)
	assert.Equal(t, "42", entries[1].ContextMap()["order_id"])
	assert.Equal(t, "trade_event", entries[2].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[3].Level)

	errEntry := entries[4]
	assert.Equal(t, zapcore.ErrorLevel, errEntry.Level)
	assert.Equal(t, "boom", errEntry.ContextMap()["error"])
	assert.Equal(t, "entry skipped", errEntry.ContextMap()["action"])
}

func TestWithFieldsDoesNotMutateCaller(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewWithCore(core).WithFields(map[string]interface{}{"symbol": "BTCUSDT"})
	fields := map[string]interface{}{"k": 1}
	l.LogTrade("x", fields)
	assert.Len(t, fields, 1)
	assert.Equal(t, "BTCUSDT", logs.All()[0].ContextMap()["symbol"])
}

func TestFileOutputs(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Level:      "info",
		Outputs:    []string{"file"},
		OutputFile: filepath.Join(dir, "engine.log"),
		ErrorFile:  filepath.Join(dir, "error.log"),
		Format:     "json",
	}
	l, err := New(cfg)
	require.NoError(t, err)
	l.LogTransition("OPEN", "EXITING", nil)
	l.LogError(errors.New("bad"), nil)
	_ = l.Close()

	all, err := os.ReadFile(cfg.OutputFile)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(all), "state_transition"))
	errs, err := os.ReadFile(cfg.ErrorFile)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(errs), "error_event"))
	assert.False(t, strings.Contains(string(errs), "state_transition"))
}
