package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdmitsSpreadBoundary(t *testing.T) {
	cfg := testEngineConfig()
	cfg.MaxSpread = 20
	h := newHarness(t, cfg, nil)
	ctx := context.Background()

	h.broker.setTick(2000.00, 2000.21)
	assert.False(t, h.engine.Admits(ctx, testSymbol, cfg), "ceiling+1 rejects")
	assert.Equal(t, 1, h.notifier.count())

	h.broker.setTick(2000.00, 2000.19)
	assert.True(t, h.engine.Admits(ctx, testSymbol, cfg), "ceiling-1 admits")

	h.broker.setTick(2000.00, 2000.20)
	assert.True(t, h.engine.Admits(ctx, testSymbol, cfg), "equal to ceiling admits")

	cfg.MaxSpread = 0
	h.broker.setTick(2000.00, 2010.00)
	assert.True(t, h.engine.Admits(ctx, testSymbol, cfg), "zero ceiling disables the check")
}

func TestAdmitsNewsBlackout(t *testing.T) {
	cfg := testEngineConfig()
	cfg.NewsFilterEnabled = true
	h := newHarness(t, cfg, nil)
	ctx := context.Background()

	h.news.allowed = false
	assert.False(t, h.engine.Admits(ctx, testSymbol, cfg))

	cfg.NewsFilterEnabled = false
	assert.True(t, h.engine.Admits(ctx, testSymbol, cfg))
}
