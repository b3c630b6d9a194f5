package engine

import (
	"signalbot/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImprovesStop(t *testing.T) {
	cases := []struct {
		name      string
		dir       models.Direction
		current   float64
		candidate float64
		want      bool
	}{
		{"long without stop", models.DirectionLong, 0, 1990, true},
		{"long higher", models.DirectionLong, 1990, 1995, true},
		{"long equal", models.DirectionLong, 1990, 1990, false},
		{"long lower", models.DirectionLong, 1990, 1985, false},
		{"short without stop", models.DirectionShort, 0, 2010, true},
		{"short lower", models.DirectionShort, 2010, 2005, true},
		{"short higher", models.DirectionShort, 2010, 2015, false},
		{"zero candidate", models.DirectionLong, 1990, 0, false},
		{"flat", models.DirectionFlat, 0, 1990, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, improvesStop(tc.dir, tc.current, tc.candidate))
		})
	}
}

func TestSpreadAndProfitPoints(t *testing.T) {
	tick := models.Tick{Bid: 2000.00, Ask: 2000.20}
	assert.Equal(t, 20.0, spreadPoints(tick, 0.01))
	assert.Equal(t, 0.0, spreadPoints(tick, 0))

	assert.Equal(t, 150.0, profitPoints(models.DirectionLong, 2000, 2001.5, 0.01))
	assert.Equal(t, -150.0, profitPoints(models.DirectionShort, 2000, 2001.5, 0.01))
}

func TestRounding(t *testing.T) {
	info := models.SymbolInfo{Point: 0.01}
	assert.Equal(t, 1999.5, roundToPoint(1999.499999, info))
	assert.Equal(t, 0.2, floorToStep(0.2049, 0.01))
	assert.Equal(t, 0.3, floorToStep(0.3, 0.1))
	assert.Equal(t, 0.05, subtractVolume(0.1, 0.05))
}
