package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"signalbot/internal/models"
	"strings"
	"time"
)

const HTTPProviderID = "http"

var _ Provider = (*HTTPProvider)(nil)

// HTTPProvider delegates decisions to an external model service. The service
// receives the market context as JSON and answers with a signal.
type HTTPProvider struct {
	url    string
	client *http.Client
}

func NewHTTPProvider(url string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProvider{url: url, client: &http.Client{Timeout: timeout}}
}

func NewHTTPProviderFromParams(params map[string]any) (Provider, error) {
	url := stringParam(params, "url", "")
	if url == "" {
		return nil, fmt.Errorf("не указан url модели")
	}
	seconds, err := floatParam(params, "timeout_seconds", 5)
	if err != nil {
		return nil, err
	}
	return NewHTTPProvider(url, time.Duration(seconds*float64(time.Second))), nil
}

func (p *HTTPProvider) Name() string {
	return HTTPProviderID
}

func (p *HTTPProvider) Decide(ctx context.Context, mc models.MarketContext) (models.Signal, error) {
	payload, err := json.Marshal(mc)
	if err != nil {
		return models.Signal{}, fmt.Errorf("Не удалось подготовить контекст: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return models.Signal{}, fmt.Errorf("Не удалось создать запрос к модели: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return models.Signal{}, fmt.Errorf("Ошибка запроса к модели: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Signal{}, fmt.Errorf("Не удалось прочитать ответ модели: %w", err)
	}
	if resp.StatusCode >= 400 {
		return models.Signal{}, fmt.Errorf("Модель вернула статус %s", resp.Status)
	}

	var sig models.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return models.Signal{}, fmt.Errorf("Не удалось разобрать сигнал: %w", err)
	}
	sig.Action = models.Action(strings.ToUpper(string(sig.Action)))
	switch sig.Action {
	case models.ActionBuy, models.ActionSell, models.ActionHold:
	case "":
		sig.Action = models.ActionHold
	default:
		return models.Signal{}, fmt.Errorf("Неизвестное действие сигнала: %s", sig.Action)
	}
	return sig, nil
}
