package engine

import (
	"signalbot/internal/models"

	"github.com/shopspring/decimal"
)

// improvesStop reports whether candidate is strictly better than current for
// a position in dir. A zero current stop means no stop is set.
func improvesStop(dir models.Direction, current, candidate float64) bool {
	if candidate <= 0 {
		return false
	}
	switch dir {
	case models.DirectionLong:
		return current <= 0 || candidate > current
	case models.DirectionShort:
		return current <= 0 || candidate < current
	default:
		return false
	}
}

// stopOnCorrectSide checks that a stop would not trigger immediately.
func stopOnCorrectSide(dir models.Direction, stop float64, tick models.Tick) bool {
	switch dir {
	case models.DirectionLong:
		return stop < tick.Bid
	case models.DirectionShort:
		return stop > tick.Ask
	default:
		return false
	}
}

// exitPrice is the price a position would close at: bid for longs, ask for
// shorts.
func exitPrice(dir models.Direction, tick models.Tick) float64 {
	if dir == models.DirectionShort {
		return tick.Ask
	}
	return tick.Bid
}

func entryPrice(dir models.Direction, tick models.Tick) float64 {
	if dir == models.DirectionShort {
		return tick.Bid
	}
	return tick.Ask
}

func profitPoints(dir models.Direction, openPrice, price, point float64) float64 {
	if point <= 0 {
		return 0
	}
	diff := price - openPrice
	if dir == models.DirectionShort {
		diff = -diff
	}
	return round(diff/point, 6)
}

func spreadPoints(tick models.Tick, point float64) float64 {
	if point <= 0 {
		return 0
	}
	return round((tick.Ask-tick.Bid)/point, 6)
}

func round(value float64, places int32) float64 {
	return decimal.NewFromFloat(value).Round(places).InexactFloat64()
}

// roundToPoint snaps a price to the symbol's price increment.
func roundToPoint(price float64, info models.SymbolInfo) float64 {
	if info.Point <= 0 {
		return price
	}
	step := decimal.NewFromFloat(info.Point)
	return decimal.NewFromFloat(price).Div(step).Round(0).Mul(step).InexactFloat64()
}

// floorToStep rounds a volume down to the broker's lot step.
func floorToStep(value, step float64) float64 {
	return floorDecimalToStep(decimal.NewFromFloat(value), step).InexactFloat64()
}

func floorDecimalToStep(value decimal.Decimal, step float64) decimal.Decimal {
	if step <= 0 {
		return value
	}
	d := decimal.NewFromFloat(step)
	return value.Div(d).Floor().Mul(d)
}

func subtractVolume(volume, closed float64) float64 {
	return decimal.NewFromFloat(volume).Sub(decimal.NewFromFloat(closed)).InexactFloat64()
}
