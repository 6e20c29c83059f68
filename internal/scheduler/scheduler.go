// Package scheduler drives the periodic check-in sweep: it decides which
// accounts are due each minute tick, serialises executions per account with
// non-blocking locks, and bounds overall concurrency with a worker
// semaphore.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/leafcheck/leafcheckd/internal/checkin"
	"github.com/leafcheck/leafcheckd/internal/notify"
	"github.com/leafcheck/leafcheckd/internal/store"
)

// ErrBusy is returned by TriggerManual when a run for the account is
// already in flight. Callers report it to the operator; it is not an error
// state of the account.
var ErrBusy = errors.New("scheduler: check-in already in progress")

// tickSpec fires the sweep once per minute, matching the minute-granularity
// schedule configuration.
const tickSpec = "* * * * *"

// Config tunes the scheduler.
type Config struct {
	// Workers caps simultaneous check-in executions. Default 4.
	Workers int64

	// Location fixes the timezone for the time-of-day match and the
	// calendar-day dedup window. Default time.Local.
	Location *time.Location
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

// Scheduler owns the execution-lock lifecycle for every account. Locks are
// acquired with TryLock so a busy account never stalls the tick loop or
// other accounts.
type Scheduler struct {
	st     store.Store
	exec   *checkin.Executor
	disp   *notify.Dispatcher
	cfg    Config
	logger *slog.Logger

	cron   *cron.Cron
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	locks map[int64]*sync.Mutex

	// now is swapped out by tests.
	now func() time.Time
}

// New creates a Scheduler. Start() must be called to begin ticking.
func New(st store.Store, exec *checkin.Executor, disp *notify.Dispatcher, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		st:     st,
		exec:   exec,
		disp:   disp,
		cfg:    cfg,
		logger: logger,
		sem:    semaphore.NewWeighted(cfg.Workers),
		ctx:    ctx,
		cancel: cancel,
		locks:  make(map[int64]*sync.Mutex),
		now:    time.Now,
	}
}

// Start begins the minute tick loop.
func (s *Scheduler) Start() error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s.cron = cron.New(cron.WithParser(parser), cron.WithLocation(s.cfg.Location))

	if _, err := s.cron.AddFunc(tickSpec, s.sweep); err != nil {
		return fmt.Errorf("scheduler: register tick: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler: started", "workers", s.cfg.Workers, "timezone", s.cfg.Location.String())
	return nil
}

// Stop shuts the tick loop down and waits for in-flight executions so their
// history records are not lost. ctx bounds the wait.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("scheduler: shutdown timed out: %w", ctx.Err())
	}
	s.cancel()
	s.logger.Info("scheduler: stopped")
	return nil
}

// sweep runs one scheduling cycle. Any single account's failure is logged
// and never aborts the loop.
func (s *Scheduler) sweep() {
	now := s.now().In(s.cfg.Location)

	accounts, err := s.st.ListAccounts(s.ctx)
	if err != nil {
		s.logger.Error("scheduler: listing accounts failed, skipping tick", "error", err)
		return
	}

	today := now.Format(checkin.DateLayout)
	for _, acct := range accounts {
		if !s.due(acct, now, today) {
			continue
		}
		s.launch(acct, false)
	}
}

// due applies the scheduling predicate: enabled, inside the [configured
// time, +1 min) window, and not already succeeded today.
func (s *Scheduler) due(acct store.Account, now time.Time, today string) bool {
	if !acct.Enabled {
		return false
	}
	if acct.LastCheckinDate == today {
		return false
	}

	scheduled, err := minuteOfDay(acct.CheckinTime)
	if err != nil {
		s.logger.Warn("scheduler: invalid check-in time", "account", acct.Name, "value", acct.CheckinTime)
		return false
	}
	return now.Hour()*60+now.Minute() == scheduled
}

// launch acquires the account's execution lock non-blockingly and runs the
// check-in on a worker slot. A held lock means a run is already in
// progress; that is a no-op, not an error.
func (s *Scheduler) launch(acct store.Account, manual bool) bool {
	lock := s.lockFor(acct.ID)
	if !lock.TryLock() {
		s.logger.Debug("scheduler: run already in progress, skipping", "account", acct.Name)
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer lock.Unlock()
		s.run(s.ctx, acct, manual)
	}()
	return true
}

// run executes one check-in inside a bounded worker slot and fans out the
// result notification.
func (s *Scheduler) run(ctx context.Context, acct store.Account, manual bool) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.logger.Warn("scheduler: worker slot unavailable", "account", acct.Name, "error", err)
		return
	}
	defer s.sem.Release(1)

	record, err := s.exec.Run(ctx, acct)
	if err != nil {
		s.logger.Error("scheduler: check-in failed", "account", acct.Name, "manual", manual, "error", err)
	}
	if record.Outcome != "" && record.Outcome != store.OutcomeSkipped {
		s.notifyResult(ctx, record)
	}
}

// TriggerManual runs a check-in for one account outside the schedule. The
// due predicate and daily guard are bypassed, but the per-account lock and
// the executor's dedup window still apply. Fails fast with ErrBusy instead
// of queuing behind an in-flight run.
func (s *Scheduler) TriggerManual(ctx context.Context, accountID int64) (store.CheckinRecord, error) {
	acct, err := s.st.GetAccount(ctx, accountID)
	if err != nil {
		return store.CheckinRecord{}, err
	}

	lock := s.lockFor(acct.ID)
	if !lock.TryLock() {
		return store.CheckinRecord{}, ErrBusy
	}
	defer lock.Unlock()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return store.CheckinRecord{}, fmt.Errorf("scheduler: acquire worker slot: %w", err)
	}
	defer s.sem.Release(1)

	s.logger.Info("scheduler: manual trigger", "account", acct.Name)
	record, err := s.exec.Run(ctx, acct)
	if err != nil {
		return record, err
	}
	if record.Outcome != store.OutcomeSkipped {
		s.notifyResult(ctx, record)
	}
	return record, nil
}

// notifyResult renders the outcome summary and fans it out to all enabled
// channels. Channel failures are handled inside the dispatcher.
func (s *Scheduler) notifyResult(ctx context.Context, record store.CheckinRecord) {
	if s.disp == nil {
		return
	}

	status := "❌ failed"
	if record.Outcome == store.OutcomeSuccess {
		status = "✅ success"
	}
	s.disp.Dispatch(ctx, notify.Message{
		Title: "Leaflow check-in result - " + record.AccountName,
		Body: fmt.Sprintf("Status: %s\nDetail: %s\nRetries: %d",
			status, record.Detail, record.Retries),
		Timestamp: s.now().In(s.cfg.Location),
	})
}

// lockFor returns the account's execution lock, creating it on first use.
// Locks are never removed; the map is bounded by the account count.
func (s *Scheduler) lockFor(id int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

// minuteOfDay parses "HH:MM" into minutes since midnight.
func minuteOfDay(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
