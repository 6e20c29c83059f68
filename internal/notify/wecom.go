package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/leafcheck/leafcheckd/internal/store"
)

const wecomDefaultEndpoint = "https://qyapi.weixin.qq.com/cgi-bin/webhook/send"

// WeCom sends plain-text messages to a WeChat Work group robot webhook.
type WeCom struct {
	key      string
	endpoint string
	http     *http.Client
}

var _ Notifier = (*WeCom)(nil)

// NewWeCom builds the notifier from stored settings.
func NewWeCom(cfg store.WeComSettings, client *http.Client) *WeCom {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &WeCom{
		key:      cfg.WebhookKey,
		endpoint: normalizeHost(cfg.Endpoint, wecomDefaultEndpoint),
		http:     client,
	}
}

// Kind implements Notifier.
func (w *WeCom) Kind() string { return "wecom" }

// Send implements Notifier.
func (w *WeCom) Send(ctx context.Context, msg Message) error {
	payload := map[string]any{
		"msgtype": "text",
		"text": map[string]string{
			"content": fmt.Sprintf("【%s】\n\n%s", msg.Title, msg.Body),
		},
	}

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	target := w.endpoint + "?key=" + url.QueryEscape(w.key)
	if err := postJSON(ctx, w.http, target, payload, &result); err != nil {
		return fmt.Errorf("notify: wecom: %w", err)
	}
	if result.ErrCode != 0 {
		return &apiError{kind: "wecom", msg: fmt.Sprintf("errcode %d: %s", result.ErrCode, result.ErrMsg)}
	}
	return nil
}
