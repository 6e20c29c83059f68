package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/leafcheck/leafcheckd/internal/store"
)

const wxpusherDefaultEndpoint = "https://wxpusher.zjiecode.com/api/send/message"

// WxPusher sends HTML-formatted messages through the WxPusher push service.
type WxPusher struct {
	appToken string
	uid      string
	endpoint string
	http     *http.Client
}

var _ Notifier = (*WxPusher)(nil)

// NewWxPusher builds the notifier from stored settings.
func NewWxPusher(cfg store.WxPusherSettings, client *http.Client) *WxPusher {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &WxPusher{
		appToken: cfg.AppToken,
		uid:      cfg.UID,
		endpoint: normalizeHost(cfg.Endpoint, wxpusherDefaultEndpoint),
		http:     client,
	}
}

// Kind implements Notifier.
func (w *WxPusher) Kind() string { return "wxpusher" }

// Send implements Notifier.
func (w *WxPusher) Send(ctx context.Context, msg Message) error {
	// Explicit colors keep the card readable in dark-mode clients.
	html := fmt.Sprintf(`<div style="padding: 10px; background-color: #ffffff; color: #2c3e50;">
<h2 style="color: #2c3e50; margin: 0;">%s</h2>
<div style="margin-top: 10px; padding: 10px; background-color: #f8f9fa; border-radius: 5px;">
<pre style="white-space: pre-wrap; word-wrap: break-word; margin: 0; color: #2c3e50; font-family: inherit;">%s</pre>
</div>
<div style="margin-top: 10px; color: #7f8c8d; font-size: 12px;">%s</div>
</div>`, msg.Title, msg.Body, msg.Timestamp.Format("2006-01-02 15:04:05"))

	summary := msg.Title
	if len([]rune(summary)) > 20 {
		summary = string([]rune(summary)[:20])
	}

	payload := map[string]any{
		"appToken":      w.appToken,
		"content":       html,
		"summary":       summary,
		"contentType":   2,
		"uids":          []string{w.uid},
		"verifyPayType": 0,
	}

	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := postJSON(ctx, w.http, w.endpoint, payload, &result); err != nil {
		return fmt.Errorf("notify: wxpusher: %w", err)
	}
	if result.Code != 1000 {
		return &apiError{kind: "wxpusher", msg: fmt.Sprintf("code %d: %s", result.Code, result.Msg)}
	}
	return nil
}
