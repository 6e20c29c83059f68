// Package checkin performs one check-in attempt against the external
// endpoint using an account's stored session credentials and classifies the
// outcome.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/leafcheck/leafcheckd/internal/metrics"
	"github.com/leafcheck/leafcheckd/internal/store"
)

const (
	// DateLayout is the calendar-day key used for the dedup window.
	DateLayout = "2006-01-02"

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	maxBodyBytes = 2 << 20

	// retryPause separates in-run attempts after a retriable failure.
	retryPause = 5 * time.Second
)

// Config holds the executor's endpoint settings.
type Config struct {
	// CheckinURL is the check-in endpoint base.
	CheckinURL string
	// SiteURL is the main site base, used for the session probe.
	SiteURL string
	// Timeout bounds each outbound request.
	Timeout time.Duration
	// UserAgent overrides the default browser UA string.
	UserAgent string
}

func (c *Config) defaults() {
	if c.CheckinURL == "" {
		c.CheckinURL = "https://checkin.leaflow.net"
	}
	if c.SiteURL == "" {
		c.SiteURL = "https://leaflow.net"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
}

// Executor performs check-in attempts. Safe for concurrent use; all mutable
// per-run state lives on the stack.
type Executor struct {
	st     store.Store
	cfg    Config
	client *http.Client
	loc    *time.Location
	logger *slog.Logger
	mx     *metrics.Metrics

	// Injection points for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Executor. loc fixes the calendar-day boundary for the
// dedup window; it must match the scheduler's timezone.
func New(st store.Store, cfg Config, loc *time.Location, logger *slog.Logger, mx *metrics.Metrics) *Executor {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Executor{
		st:  st,
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			// Redirects are classified, not followed: a bounce to the
			// login page is the auth-expired signal.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		loc:    loc,
		logger: logger,
		mx:     mx,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// attemptResult carries one attempt's classification before it becomes a
// history record.
type attemptResult struct {
	outcome  store.Outcome
	detail   string
	response string
}

// Run executes one check-in for the account: dedup check, bounded in-run
// retries, exactly one appended history record per non-skipped run, and the
// account's last-run bookkeeping. The returned record reflects the final
// outcome even when a storage write fails (the error reports that).
func (e *Executor) Run(ctx context.Context, acct store.Account) (store.CheckinRecord, error) {
	started := e.now()
	today := started.In(e.loc).Format(DateLayout)

	done, err := e.st.HasSuccess(ctx, acct.ID, today)
	if err != nil {
		return store.CheckinRecord{}, fmt.Errorf("checkin: dedup check for %q: %w", acct.Name, err)
	}
	if done {
		e.logger.Info("checkin: already succeeded today, skipping", "account", acct.Name, "date", today)
		e.mx.ObserveCheckin(string(store.OutcomeSkipped), e.now().Sub(started))
		return store.CheckinRecord{
			AccountID:   acct.ID,
			AccountName: acct.Name,
			Outcome:     store.OutcomeSkipped,
			Detail:      "already checked in today",
			Date:        today,
		}, nil
	}

	var res attemptResult
	retries := 0
	for attempt := 0; ; attempt++ {
		res = e.attempt(ctx, acct)
		retries = attempt
		if res.outcome == store.OutcomeSuccess || res.outcome == store.OutcomeAuth {
			break
		}
		if attempt >= acct.RetryCount {
			break
		}
		e.logger.Info("checkin: attempt failed, retrying",
			"account", acct.Name,
			"attempt", attempt+1,
			"max", acct.RetryCount,
			"detail", res.detail,
		)
		if err := e.sleep(ctx, retryPause); err != nil {
			res = attemptResult{outcome: store.OutcomeNetwork, detail: "cancelled: " + err.Error()}
			break
		}
	}

	record := store.CheckinRecord{
		AccountID:   acct.ID,
		AccountName: acct.Name,
		Outcome:     res.outcome,
		Detail:      res.detail,
		Response:    res.response,
		Date:        today,
		Retries:     retries,
	}

	e.logger.Info("checkin: finished",
		"account", acct.Name,
		"outcome", record.Outcome,
		"detail", record.Detail,
		"retries", retries,
	)
	e.mx.ObserveCheckin(string(record.Outcome), e.now().Sub(started))

	appended, err := e.st.AppendRecord(ctx, record)
	if err != nil {
		return record, fmt.Errorf("checkin: record attempt for %q: %w", acct.Name, err)
	}

	if err := e.updateAccount(ctx, acct, record, started); err != nil {
		return appended, err
	}
	return appended, nil
}

// updateAccount writes the last-run fields. On auth failure the account is
// flagged needs-attention but stays enabled so the schedule remains visible
// in the control plane.
func (e *Executor) updateAccount(ctx context.Context, acct store.Account, record store.CheckinRecord, at time.Time) error {
	fresh, err := e.st.GetAccount(ctx, acct.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Deleted mid-run; the history row is already gone with it.
			return nil
		}
		return fmt.Errorf("checkin: reload account %q: %w", acct.Name, err)
	}

	fresh.LastRunAt = at
	fresh.LastOutcome = record.Outcome
	switch record.Outcome {
	case store.OutcomeSuccess:
		fresh.LastCheckinDate = record.Date
		fresh.NeedsAttention = false
	case store.OutcomeAuth:
		fresh.NeedsAttention = true
	}

	if err := e.st.UpdateAccount(ctx, fresh); err != nil {
		return fmt.Errorf("checkin: update account %q: %w", acct.Name, err)
	}
	return nil
}

// attempt performs one full probe-and-check-in pass.
func (e *Executor) attempt(ctx context.Context, acct store.Account) attemptResult {
	if out, ok := e.verifySession(ctx, acct); !ok {
		return out
	}
	return e.performCheckin(ctx, acct)
}

// verifySession probes the main site with the stored session. A login
// redirect or an unauthenticated page means the credentials expired.
func (e *Executor) verifySession(ctx context.Context, acct store.Account) (attemptResult, bool) {
	status, location, body, err := e.get(ctx, acct, e.cfg.SiteURL+"/dashboard")
	if err != nil {
		return e.classifyTransportError(acct, err), false
	}

	switch {
	case status == http.StatusOK && looksAuthenticated(body):
		return attemptResult{}, true
	case status >= 300 && status < 400:
		if strings.Contains(strings.ToLower(location), "login") {
			return attemptResult{
				outcome: store.OutcomeAuth,
				detail:  "session expired: redirected to login",
			}, false
		}
		// Redirect elsewhere still implies a live session.
		return attemptResult{}, true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return attemptResult{
			outcome: store.OutcomeAuth,
			detail:  fmt.Sprintf("session rejected with status %d", status),
		}, false
	default:
		return attemptResult{
			outcome:  store.OutcomeAuth,
			detail:   "no authenticated page found",
			response: summarize(body),
		}, false
	}
}

// performCheckin loads the check-in page, handles the already-done case,
// posts the form, and falls back to the known API endpoints.
func (e *Executor) performCheckin(ctx context.Context, acct store.Account) attemptResult {
	status, _, body, err := e.get(ctx, acct, e.cfg.CheckinURL)
	if err != nil {
		return e.classifyTransportError(acct, err)
	}

	if status == http.StatusOK {
		if alreadyCheckedIn(body) {
			return attemptResult{
				outcome:  store.OutcomeSuccess,
				detail:   "already checked in today",
				response: summarize(body),
			}
		}
		if isCheckinPage(body) {
			if out, ok := e.submitForm(ctx, acct, e.cfg.CheckinURL, body); ok {
				return out
			}
		}
	}

	// Fallbacks the site has shipped over time.
	endpoints := []string{
		e.cfg.CheckinURL + "/api/checkin",
		e.cfg.CheckinURL + "/checkin",
		e.cfg.SiteURL + "/api/checkin",
		e.cfg.SiteURL + "/checkin",
	}
	for _, endpoint := range endpoints {
		if status, _, body, err := e.get(ctx, acct, endpoint); err == nil && status == http.StatusOK {
			if ok, msg := classifyResponse(body); ok {
				return attemptResult{outcome: store.OutcomeSuccess, detail: msg, response: summarize(body)}
			}
		}
		if status, body, err := e.postForm(ctx, acct, endpoint, url.Values{"checkin": {"1"}}); err == nil && status == http.StatusOK {
			if ok, msg := classifyResponse(body); ok {
				return attemptResult{outcome: store.OutcomeSuccess, detail: msg, response: summarize(body)}
			}
		}
	}

	return attemptResult{
		outcome:  store.OutcomeFailed,
		detail:   "all check-in methods failed",
		response: summarize(body),
	}
}

// submitForm posts the check-in form with the page's CSRF token. Returns
// ok=false when the response could not be classified as success, letting
// the caller try the fallback endpoints.
func (e *Executor) submitForm(ctx context.Context, acct store.Account, pageURL, page string) (attemptResult, bool) {
	form := url.Values{
		"checkin": {"1"},
		"action":  {"checkin"},
		"daily":   {"1"},
	}
	if token := extractCSRFToken(page); token != "" {
		form.Set("_token", token)
		form.Set("csrf_token", token)
	}

	status, body, err := e.postForm(ctx, acct, pageURL, form)
	if err != nil {
		return e.classifyTransportError(acct, err), true
	}
	if status == http.StatusOK {
		if ok, msg := classifyResponse(body); ok {
			return attemptResult{outcome: store.OutcomeSuccess, detail: msg, response: summarize(body)}, true
		}
	}
	return attemptResult{}, false
}

// classifyTransportError maps request failures to the network outcome.
func (e *Executor) classifyTransportError(acct store.Account, err error) attemptResult {
	detail := "request failed"
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		detail = "request timed out"
	}
	e.logger.Warn("checkin: transport error", "account", acct.Name, "error", err)
	return attemptResult{
		outcome: store.OutcomeNetwork,
		detail:  fmt.Sprintf("%s: %v", detail, err),
	}
}

func (e *Executor) get(ctx context.Context, acct store.Account, target string) (status int, location, body string, err error) {
	req, err := e.newRequest(ctx, acct, http.MethodGet, target, "")
	if err != nil {
		return 0, "", "", err
	}
	return e.send(req)
}

func (e *Executor) postForm(ctx context.Context, acct store.Account, target string, form url.Values) (status int, body string, err error) {
	req, err := e.newRequest(ctx, acct, http.MethodPost, target, form.Encode())
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	st, _, b, err := e.send(req)
	return st, b, err
}

// newRequest builds a browser-like request carrying the account's session
// cookies and extra headers.
func (e *Executor) newRequest(ctx context.Context, acct store.Account, method, target, body string) (*http.Request, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("checkin: build request: %w", err)
	}

	req.Header.Set("User-Agent", e.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")

	for name, value := range acct.Credentials.Headers {
		req.Header.Set(name, value)
	}
	for name, value := range acct.Credentials.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return req, nil
}

func (e *Executor) send(req *http.Request) (status int, location, body string, err error) {
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, "", "", err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, "", "", fmt.Errorf("checkin: read response: %w", err)
	}
	return resp.StatusCode, resp.Header.Get("Location"), string(raw), nil
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
