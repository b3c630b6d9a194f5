package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	path := writeConfig(t, "engine:\n  symbols: [\"xauusd\"]\n")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"XAUUSD"}, cfg.Engine.Symbols)
	assert.Equal(t, SizingFixed, cfg.Engine.SizingPolicy)
	assert.Equal(t, 0.01, cfg.Engine.LotSize)
	assert.Equal(t, 50.0, cfg.Engine.MaxSpread)
	assert.Equal(t, 500.0, cfg.Engine.MaxDailyLoss)
	assert.Equal(t, 30, cfg.Engine.NewsBufferMinutes)
	assert.Equal(t, int64(123456), cfg.Engine.Magic)
	assert.Equal(t, 500*time.Millisecond, cfg.Runtime.LoopInterval)
	assert.Equal(t, 5, cfg.Runtime.Retry.MaxAttempts)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
}

func TestLoadFileEnvSubstitution(t *testing.T) {
	t.Setenv("SIGNALBOT_TEST_SECRET", "s3cr3t")
	path := writeConfig(t, "broker:\n  secret: \"${SIGNALBOT_TEST_SECRET}\"\n")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", cfg.Broker.Secret)
}

func TestLoadFileStaticEvents(t *testing.T) {
	path := writeConfig(t, `
news:
  events:
    - name: "NFP"
      time: "2026-03-06T13:30:00Z"
      currency: "USD"
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, cfg.News.Events, 1)
	assert.Equal(t, "NFP", cfg.News.Events[0].Name)
	assert.Equal(t, time.Date(2026, 3, 6, 13, 30, 0, 0, time.UTC), cfg.News.Events[0].Time)
}

func TestLoadFileRejectsInvalidEngine(t *testing.T) {
	path := writeConfig(t, "engine:\n  symbols: [\"XAUUSD\", \"XAUUSD\"]\n")

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestApplyPatchKeepsOriginal(t *testing.T) {
	base := EngineConfig{
		Symbols:      []string{"XAUUSD"},
		Timeframe:    "M15",
		SizingPolicy: SizingFixed,
		LotSize:      0.01,
		MaxSpread:    50,
	}
	spread := 30.0
	policy := SizingRisk
	risk := 2.0

	next := base.Apply(EnginePatch{MaxSpread: &spread, SizingPolicy: &policy, RiskPercent: &risk})

	require.NoError(t, next.Validate())
	assert.Equal(t, 30.0, next.MaxSpread)
	assert.Equal(t, SizingRisk, next.SizingPolicy)
	assert.Equal(t, 50.0, base.MaxSpread)
	assert.Equal(t, SizingFixed, base.SizingPolicy)
}

func TestApplySymbolsDoesNotAlias(t *testing.T) {
	base := EngineConfig{Symbols: []string{"XAUUSD"}}
	next := base.Apply(EnginePatch{Symbols: []string{"eurusd, gbpusd"}})

	assert.Equal(t, []string{"EURUSD", "GBPUSD"}, next.Symbols)
	assert.Equal(t, []string{"XAUUSD"}, base.Symbols)
}

func TestValidate(t *testing.T) {
	valid := EngineConfig{Symbols: []string{"XAUUSD"}, Timeframe: "M15", SizingPolicy: SizingFixed, LotSize: 0.01}
	require.NoError(t, valid.Validate())

	cases := map[string]func(c *EngineConfig){
		"no symbols":         func(c *EngineConfig) { c.Symbols = nil },
		"risk without value": func(c *EngineConfig) { c.SizingPolicy = SizingRisk; c.RiskPercent = 0 },
		"unknown policy":     func(c *EngineConfig) { c.SizingPolicy = "kelly" },
		"zero lot":           func(c *EngineConfig) { c.LotSize = 0 },
		"negative spread":    func(c *EngineConfig) { c.MaxSpread = -1 },
		"confidence above 1": func(c *EngineConfig) { c.MinConfidence = 1.5 },
		"trailing no dist":   func(c *EngineConfig) { c.TrailingEnabled = true },
		"partial 100%":       func(c *EngineConfig) { c.PartialCloseEnabled = true; c.PartialTrigger = 50; c.PartialPercent = 100 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid.Clone()
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 5*time.Second, p.Delay(3))
	assert.Equal(t, 5*time.Second, p.Delay(60))
	assert.Equal(t, 1, RetryPolicy{}.Attempts())
}

func TestTrailingActivationFallsBackToDistance(t *testing.T) {
	c := EngineConfig{TrailingDistance: 50}
	assert.Equal(t, 50.0, c.TrailingActivationPoints())
	c.TrailingActivation = 80
	assert.Equal(t, 80.0, c.TrailingActivationPoints())
}
