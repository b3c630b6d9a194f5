package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const fmpTimeLayout = "2006-01-02 15:04:05"

type FMPSource struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewFMPSource(baseURL, apiKey string) *FMPSource {
	return &FMPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *FMPSource) Name() string {
	return "fmp"
}

type fmpEvent struct {
	Event    string `json:"event"`
	Date     string `json:"date"`
	Country  string `json:"country"`
	Currency string `json:"currency"`
	Impact   string `json:"impact"`
}

func (s *FMPSource) Fetch(ctx context.Context, from, to time.Time) ([]Event, error) {
	params := url.Values{}
	params.Set("from", from.UTC().Format("2006-01-02"))
	params.Set("to", to.UTC().Format("2006-01-02"))
	params.Set("apikey", s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/v4/economic-calendar?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("Не удалось создать запрос к FMP: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Ошибка запроса к FMP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("FMP вернул статус: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("Не удалось прочитать ответ FMP: %w", err)
	}

	var items []fmpEvent
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("Не удалось разобрать ответ FMP: %w", err)
	}

	var events []Event
	for _, item := range items {
		if !strings.EqualFold(item.Impact, "High") {
			continue
		}
		at, err := time.ParseInLocation(fmpTimeLayout, item.Date, time.UTC)
		if err != nil {
			continue
		}
		if at.Before(from) || !at.Before(to) {
			continue
		}
		events = append(events, Event{
			Name:     item.Event,
			Time:     at,
			Country:  item.Country,
			Currency: item.Currency,
			Impact:   "High",
			Source:   "FMP",
		})
	}
	return events, nil
}
