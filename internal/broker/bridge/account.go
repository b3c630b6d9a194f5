package bridge

import (
	"context"
	"net/http"
	"signalbot/internal/models"
)

func (c *Client) Connect(ctx context.Context) error {
	var resp bridgeResponse[struct {
		Connected bool `json:"connected"`
	}]
	if err := c.doRequest(ctx, http.MethodPost, "/v1/connect", nil, map[string]any{}, &resp); err != nil {
		c.connected.Store(false)
		return err
	}
	c.connected.Store(resp.Result.Connected)
	if !resp.Result.Connected {
		return &APIError{Code: codeNotConnected, Message: "терминал не подключён"}
	}
	c.logEntry().Info("Подключение к терминалу установлено.")
	return nil
}

func (c *Client) IsConnected(ctx context.Context) bool {
	if !c.connected.Load() {
		return false
	}
	var resp bridgeResponse[struct {
		Connected bool `json:"connected"`
	}]
	if err := c.doRequest(ctx, http.MethodGet, "/v1/status", nil, nil, &resp); err != nil {
		c.logEntry().WithError(err).Warn("Проверка соединения с терминалом не прошла.")
		c.connected.Store(false)
		return false
	}
	c.connected.Store(resp.Result.Connected)
	return resp.Result.Connected
}

func (c *Client) AccountInfo(ctx context.Context) (models.Account, error) {
	var resp bridgeResponse[accountInfo]
	if err := c.doRequest(ctx, http.MethodGet, "/v1/account", nil, nil, &resp); err != nil {
		return models.Account{}, err
	}
	return models.Account{
		Login:    resp.Result.Login,
		Currency: resp.Result.Currency,
		Balance:  parseFloatOrZero(resp.Result.Balance),
		Equity:   parseFloatOrZero(resp.Result.Equity),
		Margin:   parseFloatOrZero(resp.Result.Margin),
	}, nil
}
