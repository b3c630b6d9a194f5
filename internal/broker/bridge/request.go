package bridge

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const recvWindow = "5000"

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, body any, out envelope) error {
	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("Не удалось подготовить тело запроса: %w", err)
		}
		bodyStr = string(payload)
		bodyReader = bytes.NewReader(payload)
	}

	urlStr := c.baseURL + path
	query := ""
	if len(params) > 0 {
		query = params.Encode()
		urlStr += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, bodyReader)
	if err != nil {
		return fmt.Errorf("Не удалось создать запрос: %w", err)
	}

	if c.apiKey != "" {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		signature := sign(c.secret, timestamp+c.apiKey+recvWindow+query+bodyStr)

		req.Header.Set("X-BRIDGE-API-KEY", c.apiKey)
		req.Header.Set("X-BRIDGE-SIGN", signature)
		req.Header.Set("X-BRIDGE-TIMESTAMP", timestamp)
		req.Header.Set("X-BRIDGE-RECV-WINDOW", recvWindow)
	}

	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.connected.Store(false)
		return fmt.Errorf("Ошибка запроса %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("Не удалось прочитать ответ: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("Превышен лимит запросов. (status=%d)", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("Неуспешный статус: %s", resp.Status)
		}
		return fmt.Errorf("Не удалось разобрать ответ: %w", err)
	}

	if code, msg := out.status(); code != 0 {
		if code == codeNotConnected {
			c.connected.Store(false)
		}
		return &APIError{Code: code, Message: msg}
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("Неуспешный статус: %s", resp.Status)
	}

	return nil
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
