package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/leafcheck/leafcheckd/internal/store"
)

const dingtalkDefaultEndpoint = "https://oapi.dingtalk.com/robot/send"

// DingTalk sends text messages to a DingTalk robot. Requests carry the
// timestamp+secret HMAC-SHA256 signature the robot security setting
// requires.
type DingTalk struct {
	accessToken string
	secret      string
	endpoint    string
	http        *http.Client

	// now is swapped out by tests to pin the signature timestamp.
	now func() time.Time
}

var _ Notifier = (*DingTalk)(nil)

// NewDingTalk builds the notifier from stored settings.
func NewDingTalk(cfg store.DingTalkSettings, client *http.Client) *DingTalk {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &DingTalk{
		accessToken: cfg.AccessToken,
		secret:      cfg.Secret,
		endpoint:    normalizeHost(cfg.Endpoint, dingtalkDefaultEndpoint),
		http:        client,
		now:         time.Now,
	}
}

// Kind implements Notifier.
func (d *DingTalk) Kind() string { return "dingtalk" }

// Send implements Notifier.
func (d *DingTalk) Send(ctx context.Context, msg Message) error {
	timestamp := strconv.FormatInt(d.now().UnixMilli(), 10)
	sign := signDingTalk(timestamp, d.secret)

	target := fmt.Sprintf("%s?access_token=%s&timestamp=%s&sign=%s",
		d.endpoint, url.QueryEscape(d.accessToken), timestamp, sign)

	payload := map[string]any{
		"msgtype": "text",
		"text": map[string]string{
			"content": fmt.Sprintf("【%s】\n%s", msg.Title, msg.Body),
		},
		"at": map[string]any{"isAtAll": false},
	}

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := postJSON(ctx, d.http, target, payload, &result); err != nil {
		return fmt.Errorf("notify: dingtalk: %w", err)
	}
	if result.ErrCode != 0 {
		return &apiError{kind: "dingtalk", msg: fmt.Sprintf("errcode %d: %s", result.ErrCode, result.ErrMsg)}
	}
	return nil
}

// signDingTalk computes the robot signature: HMAC-SHA256 of
// "timestamp\nsecret" keyed by the secret, base64- then URL-encoded.
func signDingTalk(timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "\n" + secret))
	return url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}
