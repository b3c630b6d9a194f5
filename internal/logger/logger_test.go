package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	log := New(Config{Level: "debug", Format: "json", Output: path, MaxSize: 1})

	log.WithScope(Scope{Component: "engine", Session: "s-1", Symbol: "XAUUSD", Ticket: 42}).Info("Позиция открыта.")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(data, &line))
	assert.Equal(t, "engine", line["component"])
	assert.Equal(t, "XAUUSD", line["symbol"])
	assert.Equal(t, "s-1", line["session_id"])
	assert.Equal(t, 42.0, line["ticket"])
	assert.Equal(t, "Позиция открыта.", line["msg"])
	assert.Equal(t, "info", line["level"])
}

func TestLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	log := New(Config{Level: "warn", Format: "json", Output: path})

	log.Info("не должно попасть в файл")
	log.WithComponent("engine").Warn("предупреждение")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "не должно попасть")
	assert.Contains(t, string(data), "предупреждение")
}

func TestScopeOmitsEmptyParts(t *testing.T) {
	entry := Discard().WithScope(Scope{Component: "sizing"})
	assert.Equal(t, "sizing", entry.Data["component"])
	assert.NotContains(t, entry.Data, "symbol")
	assert.NotContains(t, entry.Data, "ticket")
	assert.NotContains(t, entry.Data, "session_id")
}
