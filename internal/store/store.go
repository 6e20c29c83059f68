// Package store defines the persistence contract shared by the SQLite and
// Postgres backends and the data model for accounts, check-in history, and
// notification settings.
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by every backend. The resilient wrapper treats
// these as permanent: they are surfaced immediately, never retried.
var (
	ErrNotFound      = errors.New("store: not found")
	ErrDuplicateName = errors.New("store: duplicate account name")
)

// Outcome classifies the result of one check-in attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeAuth    Outcome = "auth_failed"
	OutcomeNetwork Outcome = "network_failed"
	OutcomeFailed  Outcome = "failed"
)

// Credentials holds the opaque session material for one account: the cookie
// jar captured from a logged-in browser session plus any extra headers the
// site expects. Stored as a JSON blob; the executor never interprets the
// values beyond attaching them to outbound requests.
type Credentials struct {
	Cookies map[string]string `json:"cookies,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Account is a managed identity with its own session credentials and
// check-in schedule. CheckinTime is a minute-granularity "HH:MM" local time
// in the scheduler's configured timezone.
type Account struct {
	ID              int64
	Name            string
	Credentials     Credentials
	Enabled         bool
	NeedsAttention  bool
	CheckinTime     string
	RetryCount      int
	LastCheckinDate string
	LastRunAt       time.Time
	LastOutcome     Outcome
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CheckinRecord is one append-only history row. Date is the calendar day
// ("2006-01-02") in the scheduler's timezone, used for the once-per-day
// dedup window.
type CheckinRecord struct {
	ID          int64     `json:"id"`
	AccountID   int64     `json:"account_id"`
	AccountName string    `json:"account_name"`
	Outcome     Outcome   `json:"outcome"`
	Detail      string    `json:"detail"`
	Response    string    `json:"response,omitempty"`
	Date        string    `json:"date"`
	Retries     int       `json:"retries"`
	CreatedAt   time.Time `json:"created_at"`
}

// Settings is the singleton notification configuration. Each channel block
// carries its own credentials and an optional endpoint override; an empty
// Endpoint falls back to the channel's built-in default.
type Settings struct {
	Enabled  bool             `json:"enabled"`
	Telegram TelegramSettings `json:"telegram"`
	WeCom    WeComSettings    `json:"wecom"`
	WxPusher WxPusherSettings `json:"wxpusher"`
	DingTalk DingTalkSettings `json:"dingtalk"`
}

// TelegramSettings configures the Telegram Bot API channel.
type TelegramSettings struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
	Endpoint string `json:"endpoint,omitempty"`
}

// WeComSettings configures the WeCom (WeChat Work) group-robot webhook.
type WeComSettings struct {
	Enabled    bool   `json:"enabled"`
	WebhookKey string `json:"webhook_key"`
	Endpoint   string `json:"endpoint,omitempty"`
}

// WxPusherSettings configures the WxPusher push service.
type WxPusherSettings struct {
	Enabled  bool   `json:"enabled"`
	AppToken string `json:"app_token"`
	UID      string `json:"uid"`
	Endpoint string `json:"endpoint,omitempty"`
}

// DingTalkSettings configures the DingTalk robot with HMAC request signing.
type DingTalkSettings struct {
	Enabled     bool   `json:"enabled"`
	AccessToken string `json:"access_token"`
	Secret      string `json:"secret"`
	Endpoint    string `json:"endpoint,omitempty"`
}

// Store is the uniform persistence contract. Both backends implement it;
// backend choice is purely a deployment concern. All methods return
// ErrNotFound / ErrDuplicateName for the corresponding conditions and plain
// driver errors for connectivity problems, which the resilient wrapper
// classifies and retries.
type Store interface {
	// Ping verifies the backing store is reachable. Used by the resilient
	// wrapper as its reconnection probe.
	Ping(ctx context.Context) error

	ListAccounts(ctx context.Context) ([]Account, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
	CreateAccount(ctx context.Context, a Account) (Account, error)
	UpdateAccount(ctx context.Context, a Account) error
	DeleteAccount(ctx context.Context, id int64) error

	// AppendRecord adds one immutable history row.
	AppendRecord(ctx context.Context, r CheckinRecord) (CheckinRecord, error)

	// Records returns history rows newest-first. accountID 0 means all
	// accounts; limit <= 0 applies a backend default.
	Records(ctx context.Context, accountID int64, limit int) ([]CheckinRecord, error)

	// HasSuccess reports whether a success record exists for the account on
	// the given calendar day. Drives the dedup/cool-down window.
	HasSuccess(ctx context.Context, accountID int64, date string) (bool, error)

	Settings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error

	Close() error
}
