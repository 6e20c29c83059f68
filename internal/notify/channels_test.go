package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leafcheck/leafcheckd/internal/store"
)

func TestTelegram_Send(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["chat_id"] != "42" {
			t.Errorf("chat_id = %v", payload["chat_id"])
		}
		if text, _ := payload["text"].(string); !strings.Contains(text, "hello") {
			t.Errorf("text = %q", text)
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	n := NewTelegram(store.TelegramSettings{BotToken: "TOKEN", ChatID: "42", Endpoint: srv.URL}, srv.Client())
	if err := n.Send(context.Background(), Message{Title: "hello", Body: "world"}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestTelegram_APIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"ok":false,"description":"chat not found"}`)
	}))
	defer srv.Close()

	n := NewTelegram(store.TelegramSettings{BotToken: "TOKEN", ChatID: "42", Endpoint: srv.URL}, srv.Client())
	err := n.Send(context.Background(), Message{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("error = %v, want API description", err)
	}
}

func TestNormalizeHost(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in, want string
	}{
		{"", "https://api.telegram.org"},
		{"relay.example.com", "https://relay.example.com"},
		{"http://10.0.0.1:8080/", "http://10.0.0.1:8080"},
		{"https://tg.example.com/", "https://tg.example.com"},
	}
	for _, tc := range cases {
		if got := normalizeHost(tc.in, "https://api.telegram.org"); got != tc.want {
			t.Errorf("normalizeHost(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWeCom_Send(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "webhook-key" {
			t.Errorf("key = %q", r.URL.Query().Get("key"))
		}
		_, _ = io.WriteString(w, `{"errcode":0,"errmsg":"ok"}`)
	}))
	defer srv.Close()

	n := NewWeCom(store.WeComSettings{WebhookKey: "webhook-key", Endpoint: srv.URL}, srv.Client())
	if err := n.Send(context.Background(), Message{Title: "t", Body: "b"}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestWeCom_APIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"errcode":93000,"errmsg":"invalid webhook url"}`)
	}))
	defer srv.Close()

	n := NewWeCom(store.WeComSettings{WebhookKey: "k", Endpoint: srv.URL}, srv.Client())
	err := n.Send(context.Background(), Message{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "93000") {
		t.Errorf("error = %v, want errcode", err)
	}
}

func TestWxPusher_Send(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			AppToken    string   `json:"appToken"`
			Summary     string   `json:"summary"`
			ContentType int      `json:"contentType"`
			UIDs        []string `json:"uids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload.AppToken != "AT" || len(payload.UIDs) != 1 || payload.UIDs[0] != "UID_1" {
			t.Errorf("payload = %+v", payload)
		}
		if payload.ContentType != 2 {
			t.Errorf("contentType = %d, want 2 (HTML)", payload.ContentType)
		}
		_, _ = io.WriteString(w, `{"code":1000,"msg":"ok"}`)
	}))
	defer srv.Close()

	n := NewWxPusher(store.WxPusherSettings{AppToken: "AT", UID: "UID_1", Endpoint: srv.URL}, srv.Client())
	if err := n.Send(context.Background(), Message{Title: "t", Body: "b", Timestamp: time.Now()}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestWxPusher_SummaryTruncated(t *testing.T) {
	t.Parallel()
	var summary string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Summary string `json:"summary"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		summary = payload.Summary
		_, _ = io.WriteString(w, `{"code":1000}`)
	}))
	defer srv.Close()

	n := NewWxPusher(store.WxPusherSettings{AppToken: "AT", UID: "u", Endpoint: srv.URL}, srv.Client())
	title := strings.Repeat("签", 30)
	if err := n.Send(context.Background(), Message{Title: title}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := len([]rune(summary)); got != 20 {
		t.Errorf("summary runes = %d, want 20", got)
	}
}

func TestWxPusher_APIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"code":1001,"msg":"appToken invalid"}`)
	}))
	defer srv.Close()

	n := NewWxPusher(store.WxPusherSettings{AppToken: "AT", UID: "u", Endpoint: srv.URL}, srv.Client())
	err := n.Send(context.Background(), Message{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "1001") {
		t.Errorf("error = %v, want code 1001", err)
	}
}

func TestDingTalk_SignedRequest(t *testing.T) {
	t.Parallel()
	fixed := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	wantTimestamp := strconv.FormatInt(fixed.UnixMilli(), 10)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("access_token") != "AT" {
			t.Errorf("access_token = %q", q.Get("access_token"))
		}
		if q.Get("timestamp") != wantTimestamp {
			t.Errorf("timestamp = %q, want %q", q.Get("timestamp"), wantTimestamp)
		}
		// The signature must be reproducible from the query timestamp.
		if got, want := r.URL.RawQuery, "sign="+signDingTalk(q.Get("timestamp"), "SECRET"); !strings.Contains(got, want) {
			t.Errorf("query %q missing %q", got, want)
		}
		_, _ = io.WriteString(w, `{"errcode":0,"errmsg":"ok"}`)
	}))
	defer srv.Close()

	n := NewDingTalk(store.DingTalkSettings{AccessToken: "AT", Secret: "SECRET", Endpoint: srv.URL}, srv.Client())
	n.now = func() time.Time { return fixed }
	if err := n.Send(context.Background(), Message{Title: "t", Body: "b"}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestDingTalk_APIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"errcode":310000,"errmsg":"sign not match"}`)
	}))
	defer srv.Close()

	n := NewDingTalk(store.DingTalkSettings{AccessToken: "AT", Secret: "S", Endpoint: srv.URL}, srv.Client())
	err := n.Send(context.Background(), Message{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "310000") {
		t.Errorf("error = %v, want errcode", err)
	}
}

func TestSignDingTalk_Deterministic(t *testing.T) {
	t.Parallel()
	a := signDingTalk("1700000000000", "secret")
	b := signDingTalk("1700000000000", "secret")
	if a != b {
		t.Error("signature not deterministic")
	}
	if a == signDingTalk("1700000000001", "secret") {
		t.Error("signature should vary with timestamp")
	}
	if a == signDingTalk("1700000000000", "other") {
		t.Error("signature should vary with secret")
	}
}
