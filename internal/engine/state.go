package engine

import (
	"signalbot/internal/models"
	"time"
)

type State string

const (
	StateStarting     State = "STARTING"
	StateRunning      State = "RUNNING"
	StateReconnecting State = "RECONNECTING"
	StateStopped      State = "STOPPED"
	StateHalted       State = "HALTED"
)

// symbolState is owned by the loop goroutine and never shared.
type symbolState struct {
	// running peak (long) or trough (short) per ticket while a position is open
	extremes map[int64]float64
	known    map[int64]bool
	tracked  bool

	lastBar    time.Time
	price      float64
	lastSignal models.Signal
}

func newSymbolState() *symbolState {
	return &symbolState{
		extremes: map[int64]float64{},
		known:    map[int64]bool{},
	}
}

func (s *symbolState) clearTrailing() {
	if len(s.extremes) > 0 {
		s.extremes = map[int64]float64{}
	}
}

// drifted reports whether the broker's ticket set differs from the one the
// engine last observed.
func (s *symbolState) drifted(positions []models.Position) bool {
	if len(positions) != len(s.known) {
		return true
	}
	for _, p := range positions {
		if !s.known[p.Ticket] {
			return true
		}
	}
	return false
}

func (s *symbolState) remember(positions []models.Position) {
	s.known = make(map[int64]bool, len(positions))
	for _, p := range positions {
		s.known[p.Ticket] = true
	}
	s.tracked = true
}

// observeBar records the open time of the forming bar. A change means the
// previous bar has closed.
func (s *symbolState) observeBar(candles []models.Candle) bool {
	if len(candles) == 0 {
		return false
	}
	current := candles[len(candles)-1].Time
	if !s.lastBar.IsZero() && !current.After(s.lastBar) {
		return false
	}
	s.lastBar = current
	return true
}

type cycleInfo struct {
	account   models.Account
	risk      RiskState
	positions []models.Position
}
