package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"
)

type Telegram struct {
	apiURL string
	token  string
	chatID string
	client *http.Client
}

func NewTelegram(apiURL, token, chatID string, timeout time.Duration) *Telegram {
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Telegram{
		apiURL: strings.TrimRight(apiURL, "/"),
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: timeout},
	}
}

func (t *Telegram) SendAlert(ctx context.Context, message string) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id":    t.chatID,
		"text":       "<b>signalbot</b>\n" + html.EscapeString(message),
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("Не удалось подготовить сообщение Telegram: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("Не удалось создать запрос Telegram: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("Ошибка отправки в Telegram: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("Telegram вернул статус %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
