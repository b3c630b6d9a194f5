package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"signalbot/internal/broker"
	"signalbot/internal/models"
	"strconv"
	"strings"
	"time"
)

func (c *Client) OpenPositions(ctx context.Context, symbol string) ([]models.Position, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	var resp bridgeResponse[struct {
		List []positionItem `json:"list"`
	}]
	if err := c.doRequest(ctx, http.MethodGet, "/v1/positions", params, nil, &resp); err != nil {
		return nil, err
	}

	positions := make([]models.Position, 0, len(resp.Result.List))
	for _, item := range resp.Result.List {
		positions = append(positions, models.Position{
			Ticket:       item.Ticket,
			Symbol:       item.Symbol,
			Direction:    directionFromSide(item.Type),
			Volume:       parseFloatOrZero(item.Volume),
			OpenPrice:    parseFloatOrZero(item.PriceOpen),
			CurrentPrice: parseFloatOrZero(item.PriceCurrent),
			StopLoss:     parseFloatOrZero(item.SL),
			TakeProfit:   parseFloatOrZero(item.TP),
			Profit:       parseFloatOrZero(item.Profit),
			Swap:         parseFloatOrZero(item.Swap),
			OpenTime:     parseMillis(item.Time),
			Magic:        item.Magic,
			Comment:      item.Comment,
		})
	}
	return positions, nil
}

func (c *Client) ClosedTrades(ctx context.Context, from, to time.Time, symbol string) ([]models.Deal, error) {
	params := url.Values{}
	params.Set("from", strconv.FormatInt(from.UnixMilli(), 10))
	params.Set("to", strconv.FormatInt(to.UnixMilli(), 10))
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	var resp bridgeResponse[struct {
		List []dealItem `json:"list"`
	}]
	if err := c.doRequest(ctx, http.MethodGet, "/v1/deals", params, nil, &resp); err != nil {
		return nil, err
	}

	deals := make([]models.Deal, 0, len(resp.Result.List))
	for _, item := range resp.Result.List {
		deals = append(deals, models.Deal{
			Ticket:         item.Ticket,
			PositionTicket: item.PositionID,
			Symbol:         item.Symbol,
			Direction:      directionFromSide(item.Type),
			Entry:          models.DealEntry(strings.ToUpper(item.Entry)),
			Volume:         parseFloatOrZero(item.Volume),
			Price:          parseFloatOrZero(item.Price),
			Profit:         parseFloatOrZero(item.Profit),
			Commission:     parseFloatOrZero(item.Commission),
			Swap:           parseFloatOrZero(item.Swap),
			Time:           parseMillis(item.Time),
			Reason:         models.DealReason(strings.ToUpper(item.Reason)),
			Comment:        item.Comment,
		})
	}
	return deals, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	side, err := sideFromDirection(req.Direction)
	if err != nil {
		return broker.OrderResult{}, err
	}

	volume := strconv.FormatFloat(req.Volume, 'f', -1, 64)
	digits := 0
	if info, ok := c.cachedSymbol(req.Symbol); ok {
		volume = formatWithStep(req.Volume, info.VolumeStep)
		digits = info.Digits
	}

	body := map[string]any{
		"symbol":    req.Symbol,
		"side":      side,
		"type":      "MARKET",
		"volume":    volume,
		"deviation": req.Deviation,
		"magic":     req.Magic,
		"comment":   req.Comment,
		"clientId":  req.ClientID,
	}
	if req.StopLoss > 0 {
		body["sl"] = formatPrice(req.StopLoss, digits)
	}
	if req.TakeProfit > 0 {
		body["tp"] = formatPrice(req.TakeProfit, digits)
	}

	var resp bridgeResponse[orderResult]
	if err := c.doRequest(ctx, http.MethodPost, "/v1/order", nil, body, &resp); err != nil {
		return broker.OrderResult{}, err
	}
	if resp.Result.Ticket == 0 {
		return broker.OrderResult{}, fmt.Errorf("Терминал не вернул тикет для ордера %s", req.ClientID)
	}

	return broker.OrderResult{
		Ticket:    resp.Result.Ticket,
		FillPrice: parseFloatOrZero(resp.Result.Price),
		Volume:    parseFloatOrZero(resp.Result.Volume),
	}, nil
}

func (c *Client) ClosePosition(ctx context.Context, ticket int64, volume float64, comment string) error {
	body := map[string]any{
		"ticket":  ticket,
		"comment": comment,
	}
	if volume > 0 {
		body["volume"] = strconv.FormatFloat(volume, 'f', -1, 64)
	}

	var resp bridgeResponse[struct{}]
	err := c.doRequest(ctx, http.MethodPost, "/v1/position/close", nil, body, &resp)
	return mapPositionError(err, ticket)
}

func (c *Client) ModifyStopLoss(ctx context.Context, ticket int64, stop float64) error {
	body := map[string]any{
		"ticket": ticket,
		"sl":     strconv.FormatFloat(stop, 'f', -1, 64),
	}

	var resp bridgeResponse[struct{}]
	err := c.doRequest(ctx, http.MethodPost, "/v1/position/modify", nil, body, &resp)
	return mapPositionError(err, ticket)
}

func mapPositionError(err error, ticket int64) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == codeNoPosition {
		return fmt.Errorf("%w: %d", broker.ErrPositionNotFound, ticket)
	}
	return err
}

func directionFromSide(side string) models.Direction {
	switch strings.ToUpper(strings.TrimSpace(side)) {
	case "BUY":
		return models.DirectionLong
	case "SELL":
		return models.DirectionShort
	default:
		return models.DirectionFlat
	}
}

func sideFromDirection(dir models.Direction) (string, error) {
	switch dir {
	case models.DirectionLong:
		return "BUY", nil
	case models.DirectionShort:
		return "SELL", nil
	default:
		return "", fmt.Errorf("Некорректное направление: %s", dir)
	}
}
