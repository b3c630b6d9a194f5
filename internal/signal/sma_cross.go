package signal

import (
	"context"
	"fmt"
	"math"
	"signalbot/internal/models"
)

const SMACrossID = "sma_cross"

var _ Provider = (*SMACross)(nil)

// SMACross emits BUY when the fast SMA of closed bars crosses above the slow
// one and SELL on the opposite cross. Stops and targets are ATR multiples.
// With HoldStopLookback set, an open position receives a HOLD carrying the
// extreme of the last closed bars as a suggested stop.
type SMACross struct {
	Fast             int
	Slow             int
	ATRPeriod        int
	StopATR          float64
	TakeATR          float64
	HoldStopLookback int
}

func NewSMACrossFromParams(params map[string]any) (Provider, error) {
	s := &SMACross{}
	var err error
	if s.Fast, err = intParam(params, "fast", 10); err != nil {
		return nil, err
	}
	if s.Slow, err = intParam(params, "slow", 30); err != nil {
		return nil, err
	}
	if s.ATRPeriod, err = intParam(params, "atr_period", 14); err != nil {
		return nil, err
	}
	if s.StopATR, err = floatParam(params, "sl_atr", 1.5); err != nil {
		return nil, err
	}
	if s.TakeATR, err = floatParam(params, "tp_atr", 3.0); err != nil {
		return nil, err
	}
	if s.HoldStopLookback, err = intParam(params, "hold_stop_lookback", 0); err != nil {
		return nil, err
	}
	if s.Fast <= 0 || s.Slow <= s.Fast {
		return nil, fmt.Errorf("некорректные периоды fast=%d slow=%d", s.Fast, s.Slow)
	}
	if s.ATRPeriod <= 0 {
		return nil, fmt.Errorf("некорректный atr_period=%d", s.ATRPeriod)
	}
	return s, nil
}

func (s *SMACross) Name() string {
	return SMACrossID
}

func (s *SMACross) Decide(_ context.Context, mc models.MarketContext) (models.Signal, error) {
	closed := closedBars(mc.Candles)
	need := s.Slow + 1
	if s.ATRPeriod+1 > need {
		need = s.ATRPeriod + 1
	}
	if len(closed) < need {
		return models.HoldSignal(), nil
	}

	n := len(closed)
	fastNow := sma(closed[n-s.Fast:])
	slowNow := sma(closed[n-s.Slow:])
	fastPrev := sma(closed[n-1-s.Fast : n-1])
	slowPrev := sma(closed[n-1-s.Slow : n-1])
	atr := averageTrueRange(closed[n-s.ATRPeriod-1:])
	last := closed[n-1].Close

	confidence := 0.0
	if atr > 0 {
		confidence = math.Min(1, math.Abs(fastNow-slowNow)/atr)
	}

	switch {
	case fastPrev <= slowPrev && fastNow > slowNow:
		return s.entry(models.ActionBuy, last, atr, confidence), nil
	case fastPrev >= slowPrev && fastNow < slowNow:
		return s.entry(models.ActionSell, last, atr, confidence), nil
	}

	sig := models.HoldSignal()
	if s.HoldStopLookback > 0 && mc.Direction != models.DirectionFlat && mc.Direction != "" && n >= s.HoldStopLookback {
		window := closed[n-s.HoldStopLookback:]
		var stop float64
		if mc.Direction == models.DirectionLong {
			stop = lowest(window)
		} else {
			stop = highest(window)
		}
		sig.StopLoss = &stop
		sig.Tag = "swing_stop"
	}
	return sig, nil
}

func (s *SMACross) entry(action models.Action, price, atr, confidence float64) models.Signal {
	sig := models.Signal{Action: action, Confidence: confidence, Tag: "sma_cross"}
	if atr <= 0 {
		return sig
	}
	var sl, tp float64
	if action == models.ActionBuy {
		sl = price - s.StopATR*atr
		tp = price + s.TakeATR*atr
	} else {
		sl = price + s.StopATR*atr
		tp = price - s.TakeATR*atr
	}
	if s.StopATR > 0 {
		sig.StopLoss = &sl
	}
	if s.TakeATR > 0 {
		sig.TakeProfit = &tp
	}
	return sig
}

// closedBars drops the still forming last bar.
func closedBars(candles []models.Candle) []models.Candle {
	if len(candles) == 0 {
		return nil
	}
	return candles[:len(candles)-1]
}

func sma(bars []models.Candle) float64 {
	if len(bars) == 0 {
		return 0
	}
	sum := 0.0
	for _, b := range bars {
		sum += b.Close
	}
	return sum / float64(len(bars))
}

func averageTrueRange(bars []models.Candle) float64 {
	if len(bars) < 2 {
		return 0
	}
	sum := 0.0
	for i := 1; i < len(bars); i++ {
		prevClose := bars[i-1].Close
		tr := math.Max(bars[i].High-bars[i].Low, math.Max(math.Abs(bars[i].High-prevClose), math.Abs(bars[i].Low-prevClose)))
		sum += tr
	}
	return sum / float64(len(bars)-1)
}

func lowest(bars []models.Candle) float64 {
	low := bars[0].Low
	for _, b := range bars[1:] {
		low = math.Min(low, b.Low)
	}
	return low
}

func highest(bars []models.Candle) float64 {
	high := bars[0].High
	for _, b := range bars[1:] {
		high = math.Max(high, b.High)
	}
	return high
}
