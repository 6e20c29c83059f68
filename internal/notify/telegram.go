package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/leafcheck/leafcheckd/internal/store"
)

const telegramDefaultHost = "https://api.telegram.org"

// Telegram sends via the Bot API sendMessage method. The endpoint host is
// overridable for relay deployments behind the GFW.
type Telegram struct {
	token  string
	chatID string
	host   string
	http   *http.Client
}

var _ Notifier = (*Telegram)(nil)

// NewTelegram builds the notifier from stored settings.
func NewTelegram(cfg store.TelegramSettings, client *http.Client) *Telegram {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &Telegram{
		token:  cfg.BotToken,
		chatID: cfg.ChatID,
		host:   normalizeHost(cfg.Endpoint, telegramDefaultHost),
		http:   client,
	}
}

// Kind implements Notifier.
func (t *Telegram) Kind() string { return "telegram" }

// Send implements Notifier.
func (t *Telegram) Send(ctx context.Context, msg Message) error {
	payload := map[string]any{
		"chat_id":                  t.chatID,
		"text":                     fmt.Sprintf("📢 %s\n\n%s", msg.Title, msg.Body),
		"disable_web_page_preview": true,
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := postJSON(ctx, t.http, t.host+"/bot"+t.token+"/sendMessage", payload, &result); err != nil {
		return fmt.Errorf("notify: telegram: %w", err)
	}
	if !result.OK {
		return &apiError{kind: "telegram", msg: result.Description}
	}
	return nil
}

// normalizeHost applies the default, prepends https:// when the scheme is
// missing, and strips a trailing slash.
func normalizeHost(host, fallback string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return fallback
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return strings.TrimRight(host, "/")
}

// postJSON sends a JSON body and decodes the JSON response into out.
func postJSON(ctx context.Context, client *http.Client, url string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}
