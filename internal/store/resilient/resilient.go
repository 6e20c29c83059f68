// Package resilient decorates a store backend with reconnection and retry
// logic so transient connectivity failures never leak to callers. All
// callers share one reconnection state machine per backing store: when the
// backend drops, a single recovery cycle runs exponential-backoff probes
// while concurrent callers wait on it instead of retrying independently.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leafcheck/leafcheckd/internal/metrics"
	"github.com/leafcheck/leafcheckd/internal/store"
)

// ErrStorageFatal is returned once the retry budget for a recovery cycle is
// exhausted. The state machine parks in StateFailed, but the next operation
// starts a fresh cycle — failed is not terminal for the process.
var ErrStorageFatal = errors.New("resilient: storage retry budget exhausted")

// State is the shared reconnection state.
type State int32

const (
	StateConnected State = iota
	StateReconnecting
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config tunes the retry behaviour. Zero values get defaults matching the
// deployment knobs: 12 attempts, 3 s base delay doubling up to 5 min.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (c *Config) defaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 12
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 3 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Minute
	}
}

// cycle is one in-flight recovery attempt. Waiters block on ch; err holds
// the terminal error (nil on successful reconnect).
type cycle struct {
	ch  chan struct{}
	err error
}

// Store wraps an inner store.Store with the shared retry state machine.
type Store struct {
	inner  store.Store
	cfg    Config
	logger *slog.Logger
	mx     *metrics.Metrics

	// sleep is swapped out by tests to observe delays without waiting.
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	state    State
	attempts int
	inflight *cycle
}

var _ store.Store = (*Store)(nil)

// Wrap builds the resilient decorator around inner.
func Wrap(inner store.Store, cfg Config, logger *slog.Logger, mx *metrics.Metrics) *Store {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		inner:  inner,
		cfg:    cfg,
		logger: logger,
		mx:     mx,
		sleep:  sleepCtx,
	}
}

// State returns the current reconnection state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// isPermanent classifies errors that retrying cannot fix: logical store
// errors and caller cancellation.
func isPermanent(err error) bool {
	return errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrDuplicateName) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// do runs op, absorbing transient failures through the shared recovery
// cycle. Permanent errors surface immediately.
func (s *Store) do(ctx context.Context, opName string, op func() error) error {
	err := op()
	if err == nil {
		s.noteHealthy()
		return nil
	}
	if isPermanent(err) {
		return err
	}

	// One op joins or drives at most MaxAttempts recovery cycles before
	// giving up; in practice a cycle either fixes the backend or fails the
	// whole call.
	for range s.cfg.MaxAttempts {
		joined, werr := s.joinOrDrive(ctx, opName, op, err)
		if werr != nil {
			return werr
		}
		if !joined {
			// We drove the cycle and op already succeeded inside it.
			return nil
		}
		// A concurrent cycle reconnected the backend; retry our op.
		err = op()
		if err == nil {
			s.noteHealthy()
			return nil
		}
		if isPermanent(err) {
			return err
		}
	}
	return fmt.Errorf("resilient: %s: %w", opName, ErrStorageFatal)
}

// joinOrDrive either waits on the in-flight recovery cycle (joined=true) or
// becomes its owner and drives it to completion, retrying op as the probe.
func (s *Store) joinOrDrive(ctx context.Context, opName string, op func() error, cause error) (joined bool, err error) {
	s.mu.Lock()
	if fl := s.inflight; fl != nil {
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-fl.ch:
		}
		if fl.err != nil {
			return true, fmt.Errorf("resilient: %s: %w", opName, fl.err)
		}
		return true, nil
	}

	fl := &cycle{ch: make(chan struct{})}
	s.inflight = fl
	s.setStateLocked(StateReconnecting, cause)
	s.attempts = 0
	s.mu.Unlock()

	return false, s.drive(ctx, opName, op, fl, cause)
}

// drive runs the backoff loop as the owning caller. The operation itself is
// the probe: its first success both reconnects the state machine and
// completes the call.
func (s *Store) drive(ctx context.Context, opName string, op func() error, fl *cycle, cause error) error {
	err := cause
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		delay := backoffDelay(s.cfg.BaseDelay, s.cfg.MaxDelay, attempt)
		s.logger.Warn("store: backend unreachable, retrying",
			"op", opName,
			"attempt", attempt,
			"max_attempts", s.cfg.MaxAttempts,
			"delay", delay,
			"error", err,
		)
		s.mx.StorageRetry()

		if serr := s.sleep(ctx, delay); serr != nil {
			s.finish(fl, StateFailed, serr)
			return serr
		}

		s.mu.Lock()
		s.attempts = attempt
		s.mu.Unlock()

		err = op()
		if err == nil {
			s.logger.Info("store: backend reconnected", "op", opName, "attempts", attempt)
			s.finish(fl, StateConnected, nil)
			return nil
		}
		if isPermanent(err) {
			// Backend answered; the operation itself is invalid. The
			// connection is healthy again.
			s.finish(fl, StateConnected, nil)
			return err
		}
	}

	fatal := fmt.Errorf("%w after %d attempts: %v", ErrStorageFatal, s.cfg.MaxAttempts, err)
	s.logger.Error("store: giving up on backend", "op", opName, "attempts", s.cfg.MaxAttempts, "error", err)
	s.finish(fl, StateFailed, fatal)
	return fmt.Errorf("resilient: %s: %w", opName, fatal)
}

// finish closes the cycle and publishes the terminal state.
func (s *Store) finish(fl *cycle, st State, err error) {
	s.mu.Lock()
	s.inflight = nil
	if st == StateConnected {
		s.attempts = 0
	}
	s.setStateLocked(st, err)
	s.mu.Unlock()

	fl.err = err
	close(fl.ch)
}

// noteHealthy resets the state machine after any successful operation.
func (s *Store) noteHealthy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected && s.inflight == nil {
		s.attempts = 0
		s.setStateLocked(StateConnected, nil)
	}
}

func (s *Store) setStateLocked(st State, cause error) {
	if s.state == st {
		return
	}
	s.state = st
	s.mx.SetStorageState(int(st))
	if st != StateConnected {
		s.logger.Warn("store: state changed", "state", st.String(), "error", cause)
	}
}

// backoffDelay doubles from base per attempt, capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
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
