package bridge

import (
	"net/http"
	"signalbot/internal/broker"
	"signalbot/internal/logger"
	"signalbot/internal/models"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type Client struct {
	baseURL    string
	apiKey     string
	secret     string
	httpClient *http.Client
	log        *logger.Logger

	connected atomic.Bool

	mu      sync.Mutex
	symbols map[string]models.SymbolInfo
}

var _ broker.Gateway = (*Client)(nil)

func New(baseURL, apiKey, secret string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		secret:  secret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log:     log,
		symbols: map[string]models.SymbolInfo{},
	}
}

func (c *Client) logEntry() *logrus.Entry {
	return c.log.WithComponent("bridge")
}

func (c *Client) cachedSymbol(symbol string) (models.SymbolInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.symbols[symbol]
	return info, ok
}

func (c *Client) storeSymbol(info models.SymbolInfo) {
	c.mu.Lock()
	c.symbols[info.Symbol] = info
	c.mu.Unlock()
}
