package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"signalbot/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candlesFromCloses(closes ...float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = models.Candle{
			Time:  start.Add(time.Duration(i) * 15 * time.Minute),
			Open:  c,
			High:  c + 1,
			Low:   c - 1,
			Close: c,
		}
	}
	return out
}

func newCross(t *testing.T, params map[string]any) *SMACross {
	t.Helper()
	p, err := NewSMACrossFromParams(params)
	require.NoError(t, err)
	return p.(*SMACross)
}

func TestRegistryBuildAndList(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{HTTPProviderID, SMACrossID}, r.List())

	p, err := r.Build(SMACrossID, map[string]any{"fast": 2, "slow": 3})
	require.NoError(t, err)
	assert.Equal(t, SMACrossID, p.Name())

	_, err = r.Build("lstm", nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = r.Build(SMACrossID, map[string]any{"fast": 5, "slow": 3})
	assert.Error(t, err)

	_, err = r.Build(HTTPProviderID, nil)
	assert.Error(t, err)
}

func TestSMACrossParamsAcceptStrings(t *testing.T) {
	s := newCross(t, map[string]any{"fast": "3", "slow": 7.0, "sl_atr": "2"})
	assert.Equal(t, 3, s.Fast)
	assert.Equal(t, 7, s.Slow)
	assert.Equal(t, 2.0, s.StopATR)
	assert.Equal(t, 14, s.ATRPeriod)
}

func TestSMACrossBuyOnUpwardCross(t *testing.T) {
	s := newCross(t, map[string]any{"fast": 2, "slow": 3, "atr_period": 2, "sl_atr": 1, "tp_atr": 2})
	// last value is the forming bar and must be ignored
	mc := models.MarketContext{Candles: candlesFromCloses(10, 10, 10, 9, 12, 0)}

	sig, err := s.Decide(context.Background(), mc)
	require.NoError(t, err)
	assert.Equal(t, models.ActionBuy, sig.Action)
	require.NotNil(t, sig.StopLoss)
	require.NotNil(t, sig.TakeProfit)
	assert.Less(t, *sig.StopLoss, 12.0)
	assert.Greater(t, *sig.TakeProfit, 12.0)
	assert.Greater(t, sig.Confidence, 0.0)
	assert.LessOrEqual(t, sig.Confidence, 1.0)
}

func TestSMACrossSellOnDownwardCross(t *testing.T) {
	s := newCross(t, map[string]any{"fast": 2, "slow": 3, "atr_period": 2})
	mc := models.MarketContext{Candles: candlesFromCloses(10, 10, 10, 11, 8, 50)}

	sig, err := s.Decide(context.Background(), mc)
	require.NoError(t, err)
	assert.Equal(t, models.ActionSell, sig.Action)
	require.NotNil(t, sig.StopLoss)
	assert.Greater(t, *sig.StopLoss, 8.0)
}

func TestSMACrossHoldsWithoutEnoughHistory(t *testing.T) {
	s := newCross(t, map[string]any{"fast": 2, "slow": 3, "atr_period": 2})
	sig, err := s.Decide(context.Background(), models.MarketContext{Candles: candlesFromCloses(1, 2, 3)})
	require.NoError(t, err)
	assert.Equal(t, models.ActionHold, sig.Action)
	assert.Nil(t, sig.StopLoss)
}

func TestSMACrossHoldSuggestsSwingStop(t *testing.T) {
	s := newCross(t, map[string]any{"fast": 2, "slow": 3, "atr_period": 2, "hold_stop_lookback": 2})
	mc := models.MarketContext{
		Candles:   candlesFromCloses(10, 11, 12, 13, 14, 15),
		Direction: models.DirectionLong,
	}

	sig, err := s.Decide(context.Background(), mc)
	require.NoError(t, err)
	assert.Equal(t, models.ActionHold, sig.Action)
	require.NotNil(t, sig.StopLoss)
	assert.Equal(t, 12.0, *sig.StopLoss)

	mc.Direction = models.DirectionShort
	sig, err = s.Decide(context.Background(), mc)
	require.NoError(t, err)
	require.NotNil(t, sig.StopLoss)
	assert.Equal(t, 15.0, *sig.StopLoss)
}

func TestHTTPProviderRoundTrip(t *testing.T) {
	var got models.MarketContext
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"action":"sell","confidence":0.8,"sl":2360.5}`))
	}))
	defer srv.Close()

	p, err := NewHTTPProviderFromParams(map[string]any{"url": srv.URL, "timeout_seconds": 1})
	require.NoError(t, err)

	sig, err := p.Decide(context.Background(), models.MarketContext{Symbol: "XAUUSD", Price: 2350})
	require.NoError(t, err)
	assert.Equal(t, models.ActionSell, sig.Action)
	assert.Equal(t, 0.8, sig.Confidence)
	require.NotNil(t, sig.StopLoss)
	assert.Equal(t, 2360.5, *sig.StopLoss)
	assert.Equal(t, "XAUUSD", got.Symbol)
}

func TestHTTPProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/down":
			http.Error(w, "boom", http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`{"action":"moon"}`))
		}
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(srv.URL+"/down", time.Second).Decide(context.Background(), models.MarketContext{})
	assert.Error(t, err)

	_, err = NewHTTPProvider(srv.URL+"/odd", time.Second).Decide(context.Background(), models.MarketContext{})
	assert.Error(t, err)
}
