// Package notify delivers check-in summaries to the configured channels.
// Each channel kind implements Notifier; the Dispatcher fans a message out
// to every enabled channel independently, with a small bounded retry per
// send. A channel failure never affects other channels or check-in state.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrChannelNotConfigured is returned by test sends for a channel whose
// credentials are missing or disabled.
var ErrChannelNotConfigured = errors.New("notify: channel not configured")

// Message is the channel-independent payload.
type Message struct {
	Title     string
	Body      string
	Timestamp time.Time
}

// Notifier sends a rendered message to one channel kind.
type Notifier interface {
	// Kind returns the channel identifier ("telegram", "wecom", ...).
	Kind() string

	// Send delivers the message. Implementations return an error on any
	// non-success API response.
	Send(ctx context.Context, msg Message) error
}

// Delivery is one channel's fan-out result.
type Delivery struct {
	Kind string
	Err  error
}

// apiError is a non-OK response from a channel API.
type apiError struct {
	kind string
	msg  string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("notify: %s: %s", e.kind, e.msg)
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
