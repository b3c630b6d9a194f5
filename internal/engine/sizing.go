package engine

import (
	"context"
	"fmt"
	"math"
	"signalbot/internal/config"
	"signalbot/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const defaultContractSize = 100

// Size converts the configured sizing policy into an order volume. It never
// fails: anything that prevents risk sizing falls back to the fixed lot.
func (e *Engine) Size(ctx context.Context, symbol string, dir models.Direction, stop *float64, cfg config.EngineConfig) float64 {
	if cfg.SizingPolicy != config.SizingRisk {
		return cfg.LotSize
	}
	entry := e.componentEntry("sizing", symbol)
	if stop == nil || *stop <= 0 {
		entry.Warn("Нет стопа для расчёта риска, используется фиксированный лот.")
		return cfg.LotSize
	}

	acc, err := e.broker.AccountInfo(ctx)
	if err != nil {
		entry.WithError(err).Warn("Нет данных счёта, используется фиксированный лот.")
		return cfg.LotSize
	}
	info, err := e.broker.SymbolInfo(ctx, symbol)
	if err != nil {
		entry.WithError(err).Warn("Нет параметров символа, используется фиксированный лот.")
		return cfg.LotSize
	}
	tick, err := e.broker.Tick(ctx, symbol)
	if err != nil {
		entry.WithError(err).Warn("Нет котировки, используется фиксированный лот.")
		return cfg.LotSize
	}

	volume, err := riskVolume(acc.Equity, cfg.RiskPercent, entryPrice(dir, tick), *stop, info, cfg)
	if err != nil {
		entry.WithError(err).Warn("Расчёт объёма по риску не удался, используется фиксированный лот.")
		return cfg.LotSize
	}
	entry.WithFields(logrus.Fields{
		"equity": acc.Equity,
		"risk":   cfg.RiskPercent,
		"stop":   *stop,
		"volume": volume,
	}).Debug("Объём рассчитан по риску.")
	return volume
}

func riskVolume(equity, riskPercent, entry, stop float64, info models.SymbolInfo, cfg config.EngineConfig) (float64, error) {
	distance := decimal.NewFromFloat(entry).Sub(decimal.NewFromFloat(stop)).Abs()
	if distance.IsZero() {
		return 0, fmt.Errorf("нулевое расстояние до стопа")
	}
	if equity <= 0 {
		return 0, fmt.Errorf("эквити %v", equity)
	}
	contract := info.ContractSize
	if contract <= 0 {
		contract = defaultContractSize
	}

	risk := decimal.NewFromFloat(equity).Mul(decimal.NewFromFloat(riskPercent)).Div(decimal.NewFromInt(100))
	exact := risk.Div(decimal.NewFromFloat(contract).Mul(distance))

	lower := math.Max(cfg.MinVolume, info.VolumeMin)
	upper := info.VolumeMax
	if cfg.MaxVolume > 0 && (upper <= 0 || cfg.MaxVolume < upper) {
		upper = cfg.MaxVolume
	}
	if upper > 0 && exact.GreaterThan(decimal.NewFromFloat(upper)) {
		exact = decimal.NewFromFloat(upper)
	}
	volume := floorDecimalToStep(exact, info.VolumeStep).InexactFloat64()
	if volume < lower {
		volume = lower
	}
	if volume <= 0 {
		return 0, fmt.Errorf("объём %v после округления", volume)
	}
	return volume, nil
}
