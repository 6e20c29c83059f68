package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/leafcheck/leafcheckd/internal/metrics"
	"github.com/leafcheck/leafcheckd/internal/store"
)

const (
	sendRetries      = 3
	sendInitialDelay = time.Second
)

// Dispatcher reads the notification settings on every dispatch and fans a
// message out to all enabled channels. Sends are independent: one channel's
// failure is logged and counted, never propagated.
type Dispatcher struct {
	st     store.Store
	client *http.Client
	logger *slog.Logger
	mx     *metrics.Metrics

	// build is the notifier factory, replaceable in tests.
	build func(store.Settings, *http.Client) []Notifier
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a Dispatcher reading channel config from st.
func NewDispatcher(st store.Store, logger *slog.Logger, mx *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		st:     st,
		client: defaultHTTPClient(),
		logger: logger,
		mx:     mx,
		build:  buildNotifiers,
		sleep:  sleepCtx,
	}
}

// buildNotifiers instantiates one Notifier per enabled, credentialed
// channel block.
func buildNotifiers(s store.Settings, client *http.Client) []Notifier {
	var out []Notifier
	if s.Telegram.Enabled && s.Telegram.BotToken != "" && s.Telegram.ChatID != "" {
		out = append(out, NewTelegram(s.Telegram, client))
	}
	if s.WeCom.Enabled && s.WeCom.WebhookKey != "" {
		out = append(out, NewWeCom(s.WeCom, client))
	}
	if s.WxPusher.Enabled && s.WxPusher.AppToken != "" && s.WxPusher.UID != "" {
		out = append(out, NewWxPusher(s.WxPusher, client))
	}
	if s.DingTalk.Enabled && s.DingTalk.AccessToken != "" && s.DingTalk.Secret != "" {
		out = append(out, NewDingTalk(s.DingTalk, client))
	}
	return out
}

// Dispatch sends msg to every enabled channel concurrently and returns the
// per-channel results. A nil/empty result means notifications are globally
// disabled or no channel is configured.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) []Delivery {
	settings, err := d.st.Settings(ctx)
	if err != nil {
		d.logger.Error("notify: reading settings failed", "error", err)
		return nil
	}
	if !settings.Enabled {
		return nil
	}

	notifiers := d.build(settings, d.client)
	if len(notifiers) == 0 {
		return nil
	}

	deliveries := make([]Delivery, len(notifiers))
	var wg sync.WaitGroup
	for i, n := range notifiers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := d.sendWithRetry(ctx, n, msg)
			deliveries[i] = Delivery{Kind: n.Kind(), Err: err}
			d.mx.ObserveNotification(n.Kind(), err == nil)
			if err != nil {
				d.logger.Error("notify: channel send failed", "channel", n.Kind(), "error", err)
			} else {
				d.logger.Info("notify: sent", "channel", n.Kind())
			}
		}()
	}
	wg.Wait()
	return deliveries
}

// Test sends a synthetic payload through one channel kind using the stored
// credentials. Used by the control plane's test-send button; no history
// record is involved.
func (d *Dispatcher) Test(ctx context.Context, kind string) error {
	settings, err := d.st.Settings(ctx)
	if err != nil {
		return fmt.Errorf("notify: reading settings: %w", err)
	}

	for _, n := range d.build(settings, d.client) {
		if n.Kind() != kind {
			continue
		}
		return n.Send(ctx, Message{
			Title:     "Leafcheck test notification",
			Body:      "Notification channel is configured correctly.",
			Timestamp: time.Now(),
		})
	}
	return fmt.Errorf("%w: %s", ErrChannelNotConfigured, kind)
}

// sendWithRetry attempts one channel send with doubling delays. After the
// budget is spent the last error is returned and the message is dropped.
func (d *Dispatcher) sendWithRetry(ctx context.Context, n Notifier, msg Message) error {
	delay := sendInitialDelay
	var err error
	for attempt := 1; attempt <= sendRetries; attempt++ {
		err = n.Send(ctx, msg)
		if err == nil {
			return nil
		}
		if attempt == sendRetries {
			break
		}
		d.logger.Warn("notify: send failed, retrying",
			"channel", n.Kind(),
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if serr := d.sleep(ctx, delay); serr != nil {
			return serr
		}
		delay *= 2
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
