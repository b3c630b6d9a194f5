package bridge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"signalbot/internal/models"
	"strconv"
)

func (c *Client) SymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	if info, ok := c.cachedSymbol(symbol); ok {
		return info, nil
	}

	params := url.Values{}
	params.Set("symbol", symbol)

	var resp bridgeResponse[symbolInfo]
	if err := c.doRequest(ctx, http.MethodGet, "/v1/symbol", params, nil, &resp); err != nil {
		return models.SymbolInfo{}, err
	}
	if resp.Result.Symbol == "" {
		return models.SymbolInfo{}, fmt.Errorf("Символ не найден: %s", symbol)
	}

	point := parseFloatOrZero(resp.Result.Point)
	if point <= 0 {
		return models.SymbolInfo{}, fmt.Errorf("Некорректное значение point=%q для %s", resp.Result.Point, symbol)
	}
	step := parseFloatOrZero(resp.Result.VolumeStep)
	if step <= 0 {
		return models.SymbolInfo{}, fmt.Errorf("Некорректное значение volumeStep=%q для %s", resp.Result.VolumeStep, symbol)
	}

	info := models.SymbolInfo{
		Symbol:       resp.Result.Symbol,
		Point:        point,
		Digits:       resp.Result.Digits,
		ContractSize: parseFloatOrZero(resp.Result.ContractSize),
		VolumeMin:    parseFloatOrZero(resp.Result.VolumeMin),
		VolumeMax:    parseFloatOrZero(resp.Result.VolumeMax),
		VolumeStep:   step,
	}
	c.storeSymbol(info)
	return info, nil
}

func (c *Client) Tick(ctx context.Context, symbol string) (models.Tick, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp bridgeResponse[tickInfo]
	if err := c.doRequest(ctx, http.MethodGet, "/v1/tick", params, nil, &resp); err != nil {
		return models.Tick{}, err
	}

	tick := models.Tick{
		Symbol: symbol,
		Bid:    parseFloatOrZero(resp.Result.Bid),
		Ask:    parseFloatOrZero(resp.Result.Ask),
		Last:   parseFloatOrZero(resp.Result.Last),
		Time:   parseMillis(resp.Result.Time),
	}
	if tick.Bid <= 0 || tick.Ask <= 0 {
		return models.Tick{}, fmt.Errorf("Нет котировки для %s", symbol)
	}
	return tick, nil
}

func (c *Client) Candles(ctx context.Context, symbol, timeframe string, count int) ([]models.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("timeframe", timeframe)
	params.Set("count", strconv.Itoa(count))

	var resp bridgeResponse[struct {
		List []candleItem `json:"list"`
	}]
	if err := c.doRequest(ctx, http.MethodGet, "/v1/candles", params, nil, &resp); err != nil {
		return nil, err
	}

	candles := make([]models.Candle, 0, len(resp.Result.List))
	for _, item := range resp.Result.List {
		candles = append(candles, models.Candle{
			Time:   parseMillis(item.Time),
			Open:   parseFloatOrZero(item.Open),
			High:   parseFloatOrZero(item.High),
			Low:    parseFloatOrZero(item.Low),
			Close:  parseFloatOrZero(item.Close),
			Volume: parseFloatOrZero(item.Volume),
		})
	}
	return candles, nil
}
