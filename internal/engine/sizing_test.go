package engine

import (
	"context"
	"signalbot/internal/config"
	"signalbot/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
)

func riskConfig() config.EngineConfig {
	cfg := testEngineConfig()
	cfg.SizingPolicy = config.SizingRisk
	cfg.RiskPercent = 1
	return cfg
}

func TestRiskVolumeReferenceExample(t *testing.T) {
	info := models.SymbolInfo{ContractSize: 100, VolumeMin: 0.01, VolumeMax: 50, VolumeStep: 0.01}
	vol, err := riskVolume(10000, 1, 2005, 2000, info, riskConfig())
	assert.NoError(t, err)
	assert.Equal(t, 0.2, vol)
}

func TestRiskVolumeFractionalStopDistance(t *testing.T) {
	info := models.SymbolInfo{ContractSize: 100, VolumeMin: 0.01, VolumeMax: 50, VolumeStep: 0.01}

	vol, err := riskVolume(10000, 1, 1.1, 1.05, info, riskConfig())
	assert.NoError(t, err)
	assert.Equal(t, 20.0, vol)

	vol, err = riskVolume(1000, 1, 1.0835, 1.0935, info, riskConfig())
	assert.NoError(t, err)
	assert.Equal(t, 10.0, vol)
}

func TestRiskVolumeClampsAndDefaults(t *testing.T) {
	cfg := riskConfig()
	cfg.MaxVolume = 0.15
	info := models.SymbolInfo{VolumeMin: 0.01, VolumeMax: 50, VolumeStep: 0.01}

	vol, err := riskVolume(10000, 1, 2005, 2000, info, cfg)
	assert.NoError(t, err)
	assert.Equal(t, 0.15, vol, "capped by max_volume; contract size defaults to 100")

	cfg.MaxVolume = 0
	cfg.MinVolume = 0.5
	vol, err = riskVolume(10000, 1, 2005, 2000, info, cfg)
	assert.NoError(t, err)
	assert.Equal(t, 0.5, vol)

	_, err = riskVolume(10000, 1, 2000, 2000, info, cfg)
	assert.Error(t, err)
}

func TestSizeUsesAskForLongs(t *testing.T) {
	h := newHarness(t, riskConfig(), nil)
	h.broker.setTick(2004.90, 2005.00)

	vol := h.engine.Size(context.Background(), testSymbol, models.DirectionLong, ptr(2000), riskConfig())
	assert.Equal(t, 0.2, vol)
}

func TestSizeFallsBackToFixedLot(t *testing.T) {
	cfg := riskConfig()
	h := newHarness(t, cfg, nil)
	ctx := context.Background()

	assert.Equal(t, cfg.LotSize, h.engine.Size(ctx, testSymbol, models.DirectionLong, nil, cfg))
	assert.Equal(t, cfg.LotSize, h.engine.Size(ctx, "UNKNOWN", models.DirectionLong, ptr(1.1), cfg))

	h.broker.setTick(2000, 2000)
	assert.Equal(t, cfg.LotSize, h.engine.Size(ctx, testSymbol, models.DirectionLong, ptr(2000), cfg))

	fixed := testEngineConfig()
	assert.Equal(t, fixed.LotSize, h.engine.Size(ctx, testSymbol, models.DirectionLong, ptr(1990), fixed))
}
