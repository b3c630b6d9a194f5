package engine

import (
	"context"
	"signalbot/internal/config"
	"signalbot/internal/models"
)

// trail follows the running extreme of each position rather than the last
// tick, so one off-market quote cannot pull the stop.
func (e *Engine) trail(ctx context.Context, cfg config.EngineConfig, st *symbolState, info models.SymbolInfo, tick models.Tick, positions []models.Position) {
	live := make(map[int64]bool, len(positions))
	activation := cfg.TrailingActivationPoints()

	for i := range positions {
		p := &positions[i]
		live[p.Ticket] = true

		price := exitPrice(p.Direction, tick)
		extreme, ok := st.extremes[p.Ticket]
		switch {
		case !ok:
			extreme = price
		case p.Direction == models.DirectionLong && price > extreme:
			extreme = price
		case p.Direction == models.DirectionShort && price < extreme:
			extreme = price
		}
		st.extremes[p.Ticket] = extreme

		if profitPoints(p.Direction, p.OpenPrice, price, info.Point) < activation {
			continue
		}

		distance := cfg.TrailingDistance * info.Point
		candidate := extreme - distance
		if p.Direction == models.DirectionShort {
			candidate = extreme + distance
		}
		candidate = roundToPoint(candidate, info)

		if !improvesStop(p.Direction, p.StopLoss, candidate) || !stopOnCorrectSide(p.Direction, candidate, tick) {
			continue
		}
		e.applyStop(ctx, p, candidate, "trailing")
	}

	for ticket := range st.extremes {
		if !live[ticket] {
			delete(st.extremes, ticket)
		}
	}
}
