package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"signalbot/internal/config"
	"signalbot/internal/logger"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtectedRoutesRequireToken(t *testing.T) {
	s, ctrl := newTestServer(t, nil)

	routes := []struct{ method, path, body string }{
		{http.MethodGet, "/api/status", ""},
		{http.MethodGet, "/api/config", ""},
		{http.MethodPost, "/api/config", `{"risk_percent": 100, "sizing_policy": "risk"}`},
		{http.MethodPost, "/api/stop", ""},
		{http.MethodGet, "/api/news/next", ""},
		{http.MethodGet, "/ws", ""},
	}
	for _, r := range routes {
		t.Run(r.method+" "+r.path, func(t *testing.T) {
			rec := send(s, r.method, r.path, r.body, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

			rec = send(s, r.method, r.path, r.body, "not-a-token")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	assert.False(t, ctrl.stopped)
	assert.Equal(t, config.SizingFixed, ctrl.Config().SizingPolicy)
	assert.Equal(t, http.StatusOK, send(s, http.MethodGet, "/health", "", "").Code)
}

func TestLoginIssuesUsableToken(t *testing.T) {
	s, ctrl := newTestServer(t, nil)

	rec := send(s, http.MethodPost, "/api/login", `{"password": "wrong"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = send(s, http.MethodPost, "/api/login", `{"password": "`+testPassword+`"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)

	rec = send(s, http.MethodPost, "/api/stop", "", body.Token)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, ctrl.stopped)
}

func TestLoginAttemptsAreLimited(t *testing.T) {
	s, _ := newTestServer(t, nil)

	for i := 0; i < maxLoginAttempts; i++ {
		rec := send(s, http.MethodPost, "/api/login", `{"password": "guess"}`, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := send(s, http.MethodPost, "/api/login", `{"password": "`+testPassword+`"}`, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	s.auth.now = func() time.Time { return time.Now().Add(2 * loginWindow) }
	rec = send(s, http.MethodPost, "/api/login", `{"password": "`+testPassword+`"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	s, _ := newTestServer(t, nil)
	issued := time.Now().Add(-2 * defaultTokenTTL)
	s.auth.now = func() time.Time { return issued }
	token, err := s.auth.issue()
	require.NoError(t, err)
	s.auth.now = time.Now

	assert.ErrorIs(t, s.auth.Validate(token), ErrInvalidToken)
	assert.Equal(t, http.StatusUnauthorized, send(s, http.MethodGet, "/api/status", "", token).Code)
}

func TestTokenFromOtherSecretIsRejected(t *testing.T) {
	s, _ := newTestServer(t, nil)
	cfg := testStatusConfig(t)
	cfg.AuthSecret = "another-secret"
	other := NewServer(cfg, nil, logger.Discard())

	assert.Equal(t, http.StatusUnauthorized, send(s, http.MethodGet, "/api/status", "", testToken(t, other)).Code)
}

func TestWithoutPasswordEverythingButHealthIsClosed(t *testing.T) {
	s := NewServer(config.StatusConfig{}, nil, logger.Discard())

	assert.Equal(t, http.StatusServiceUnavailable, send(s, http.MethodPost, "/api/login", `{"password": ""}`, "").Code)
	assert.Equal(t, http.StatusUnauthorized, send(s, http.MethodPost, "/api/stop", "", "").Code)
	assert.Equal(t, http.StatusOK, send(s, http.MethodGet, "/health", "", "").Code)
}

func TestWebSocketAcceptsQueryToken(t *testing.T) {
	s, _ := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+testToken(t, s), nil)
	require.NoError(t, err)
	conn.Close()
}
