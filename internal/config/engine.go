package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrInvalid = errors.New("некорректная конфигурация")

type SizingPolicy string

const (
	SizingFixed SizingPolicy = "fixed"
	SizingRisk  SizingPolicy = "risk"
)

// EngineConfig is treated as an immutable snapshot. Hot reload builds a new
// value with Apply and swaps it in whole.
type EngineConfig struct {
	Symbols             []string     `json:"symbols"`
	Timeframe           string       `json:"timeframe"`
	SizingPolicy        SizingPolicy `json:"sizing_policy"`
	LotSize             float64      `json:"lot_size"`
	RiskPercent         float64      `json:"risk_percent"`
	MinVolume           float64      `json:"min_volume"`
	MaxVolume           float64      `json:"max_volume"`
	MaxSpread           float64      `json:"max_spread"`
	MaxDailyLoss        float64      `json:"max_daily_loss"`
	MinEquity           float64      `json:"min_equity"`
	MinConfidence       float64      `json:"min_confidence"`
	NewsFilterEnabled   bool         `json:"news_filter"`
	NewsBufferMinutes   int          `json:"news_buffer"`
	TrailingEnabled     bool         `json:"trailing_enabled"`
	TrailingDistance    float64      `json:"trailing_distance"`
	TrailingActivation  float64      `json:"trailing_activation"`
	PartialCloseEnabled bool         `json:"partial_close_enabled"`
	PartialTrigger      float64      `json:"tp1_distance"`
	PartialPercent      float64      `json:"partial_close_percent"`
	Magic               int64        `json:"magic"`
	Deviation           int          `json:"deviation"`
}

type EnginePatch struct {
	Symbols             []string      `json:"symbols,omitempty"`
	Timeframe           *string       `json:"timeframe,omitempty"`
	SizingPolicy        *SizingPolicy `json:"sizing_policy,omitempty"`
	LotSize             *float64      `json:"lot_size,omitempty"`
	RiskPercent         *float64      `json:"risk_percent,omitempty"`
	MinVolume           *float64      `json:"min_volume,omitempty"`
	MaxVolume           *float64      `json:"max_volume,omitempty"`
	MaxSpread           *float64      `json:"max_spread,omitempty"`
	MaxDailyLoss        *float64      `json:"max_daily_loss,omitempty"`
	MinEquity           *float64      `json:"min_equity,omitempty"`
	MinConfidence       *float64      `json:"min_confidence,omitempty"`
	NewsFilterEnabled   *bool         `json:"news_filter,omitempty"`
	NewsBufferMinutes   *int          `json:"news_buffer,omitempty"`
	TrailingEnabled     *bool         `json:"trailing_enabled,omitempty"`
	TrailingDistance    *float64      `json:"trailing_distance,omitempty"`
	TrailingActivation  *float64      `json:"trailing_activation,omitempty"`
	PartialCloseEnabled *bool         `json:"partial_close_enabled,omitempty"`
	PartialTrigger      *float64      `json:"tp1_distance,omitempty"`
	PartialPercent      *float64      `json:"partial_close_percent,omitempty"`
	Magic               *int64        `json:"magic,omitempty"`
	Deviation           *int          `json:"deviation,omitempty"`
}

func (c EngineConfig) Clone() EngineConfig {
	out := c
	out.Symbols = append([]string(nil), c.Symbols...)
	return out
}

func (c EngineConfig) Apply(p EnginePatch) EngineConfig {
	out := c.Clone()
	if p.Symbols != nil {
		out.Symbols = normalizeSymbols(p.Symbols)
	}
	setIf(&out.Timeframe, p.Timeframe)
	if p.SizingPolicy != nil {
		out.SizingPolicy = SizingPolicy(strings.ToLower(string(*p.SizingPolicy)))
	}
	setIf(&out.LotSize, p.LotSize)
	setIf(&out.RiskPercent, p.RiskPercent)
	setIf(&out.MinVolume, p.MinVolume)
	setIf(&out.MaxVolume, p.MaxVolume)
	setIf(&out.MaxSpread, p.MaxSpread)
	setIf(&out.MaxDailyLoss, p.MaxDailyLoss)
	setIf(&out.MinEquity, p.MinEquity)
	setIf(&out.MinConfidence, p.MinConfidence)
	setIf(&out.NewsFilterEnabled, p.NewsFilterEnabled)
	setIf(&out.NewsBufferMinutes, p.NewsBufferMinutes)
	setIf(&out.TrailingEnabled, p.TrailingEnabled)
	setIf(&out.TrailingDistance, p.TrailingDistance)
	setIf(&out.TrailingActivation, p.TrailingActivation)
	setIf(&out.PartialCloseEnabled, p.PartialCloseEnabled)
	setIf(&out.PartialTrigger, p.PartialTrigger)
	setIf(&out.PartialPercent, p.PartialPercent)
	setIf(&out.Magic, p.Magic)
	setIf(&out.Deviation, p.Deviation)
	return out
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func (c EngineConfig) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("%w: список символов пуст", ErrInvalid)
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if s == "" {
			return fmt.Errorf("%w: пустой символ", ErrInvalid)
		}
		if seen[s] {
			return fmt.Errorf("%w: символ %s указан дважды", ErrInvalid, s)
		}
		seen[s] = true
	}
	if c.Timeframe == "" {
		return fmt.Errorf("%w: не указан таймфрейм", ErrInvalid)
	}
	switch c.SizingPolicy {
	case SizingFixed:
	case SizingRisk:
		if c.RiskPercent <= 0 || c.RiskPercent > 100 {
			return fmt.Errorf("%w: risk_percent=%v вне диапазона (0, 100]", ErrInvalid, c.RiskPercent)
		}
	default:
		return fmt.Errorf("%w: неизвестная политика объёма %q", ErrInvalid, c.SizingPolicy)
	}
	if c.LotSize <= 0 {
		return fmt.Errorf("%w: lot_size должен быть больше нуля", ErrInvalid)
	}
	if c.MinVolume < 0 || (c.MaxVolume > 0 && c.MaxVolume < c.MinVolume) {
		return fmt.Errorf("%w: min_volume=%v max_volume=%v", ErrInvalid, c.MinVolume, c.MaxVolume)
	}
	if c.MaxSpread < 0 || c.MaxDailyLoss < 0 || c.MinEquity < 0 {
		return fmt.Errorf("%w: лимиты риска не могут быть отрицательными", ErrInvalid)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("%w: min_confidence=%v вне диапазона [0, 1]", ErrInvalid, c.MinConfidence)
	}
	if c.NewsBufferMinutes < 0 {
		return fmt.Errorf("%w: news_buffer не может быть отрицательным", ErrInvalid)
	}
	if c.TrailingEnabled && c.TrailingDistance <= 0 {
		return fmt.Errorf("%w: trailing_distance должен быть больше нуля", ErrInvalid)
	}
	if c.TrailingActivation < 0 {
		return fmt.Errorf("%w: trailing_activation не может быть отрицательным", ErrInvalid)
	}
	if c.PartialCloseEnabled {
		if c.PartialTrigger <= 0 {
			return fmt.Errorf("%w: tp1_distance должен быть больше нуля", ErrInvalid)
		}
		if c.PartialPercent <= 0 || c.PartialPercent >= 100 {
			return fmt.Errorf("%w: partial_close_percent=%v вне диапазона (0, 100)", ErrInvalid, c.PartialPercent)
		}
	}
	return nil
}

func (c EngineConfig) NewsBuffer() time.Duration {
	return time.Duration(c.NewsBufferMinutes) * time.Minute
}

func (c EngineConfig) TrailingActivationPoints() float64 {
	if c.TrailingActivation > 0 {
		return c.TrailingActivation
	}
	return c.TrailingDistance
}

func FullPatch(c EngineConfig) EnginePatch {
	c = c.Clone()
	return EnginePatch{
		Symbols:             c.Symbols,
		Timeframe:           &c.Timeframe,
		SizingPolicy:        &c.SizingPolicy,
		LotSize:             &c.LotSize,
		RiskPercent:         &c.RiskPercent,
		MinVolume:           &c.MinVolume,
		MaxVolume:           &c.MaxVolume,
		MaxSpread:           &c.MaxSpread,
		MaxDailyLoss:        &c.MaxDailyLoss,
		MinEquity:           &c.MinEquity,
		MinConfidence:       &c.MinConfidence,
		NewsFilterEnabled:   &c.NewsFilterEnabled,
		NewsBufferMinutes:   &c.NewsBufferMinutes,
		TrailingEnabled:     &c.TrailingEnabled,
		TrailingDistance:    &c.TrailingDistance,
		TrailingActivation:  &c.TrailingActivation,
		PartialCloseEnabled: &c.PartialCloseEnabled,
		PartialTrigger:      &c.PartialTrigger,
		PartialPercent:      &c.PartialPercent,
		Magic:               &c.Magic,
		Deviation:           &c.Deviation,
	}
}

// Delay returns the wait before retry number attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	wait := float64(base) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && wait > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if wait > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(wait)
}

func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
