package resilient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/leafcheck/leafcheckd/internal/store"
)

var errConnRefused = errors.New("dial tcp: connection refused")

// fakeStore fails Ping a scripted number of times, then succeeds. The other
// methods return permanent store errors for classification tests.
type fakeStore struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *fakeStore) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errConnRefused
	}
	return nil
}

func (f *fakeStore) pingCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStore) setFailures(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

func (f *fakeStore) ListAccounts(context.Context) ([]store.Account, error) { return nil, nil }
func (f *fakeStore) GetAccount(context.Context, int64) (store.Account, error) {
	return store.Account{}, store.ErrNotFound
}
func (f *fakeStore) CreateAccount(context.Context, store.Account) (store.Account, error) {
	return store.Account{}, store.ErrDuplicateName
}
func (f *fakeStore) UpdateAccount(context.Context, store.Account) error { return nil }
func (f *fakeStore) DeleteAccount(context.Context, int64) error         { return nil }
func (f *fakeStore) AppendRecord(_ context.Context, r store.CheckinRecord) (store.CheckinRecord, error) {
	return r, nil
}
func (f *fakeStore) Records(context.Context, int64, int) ([]store.CheckinRecord, error) {
	return nil, nil
}
func (f *fakeStore) HasSuccess(context.Context, int64, string) (bool, error) { return false, nil }
func (f *fakeStore) Settings(context.Context) (store.Settings, error)        { return store.Settings{}, nil }
func (f *fakeStore) SaveSettings(context.Context, store.Settings) error      { return nil }
func (f *fakeStore) Close() error                                            { return nil }

// sleepRecorder captures backoff delays without actually waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newTestStore(t *testing.T, inner *fakeStore, cfg Config) (*Store, *sleepRecorder) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := Wrap(inner, cfg, logger, nil)
	rec := &sleepRecorder{}
	s.sleep = rec.sleep
	return s, rec
}

func TestDo_HealthyPassthrough(t *testing.T) {
	t.Parallel()
	inner := &fakeStore{}
	s, rec := newTestStore(t, inner, Config{})

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.State(); got != StateConnected {
		t.Errorf("state = %v, want connected", got)
	}
	if len(rec.recorded()) != 0 {
		t.Errorf("healthy op should not back off, got delays %v", rec.recorded())
	}
}

func TestDo_RecoversAfterTransientFailures(t *testing.T) {
	t.Parallel()
	inner := &fakeStore{failures: 2}
	s, rec := newTestStore(t, inner, Config{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Minute})

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.State(); got != StateConnected {
		t.Errorf("state = %v, want connected", got)
	}
	// Initial call plus two probes.
	if got := inner.pingCalls(); got != 3 {
		t.Errorf("ping calls = %d, want 3", got)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	got := rec.recorded()
	if len(got) != len(want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDo_BackoffMonotonicAndCapped(t *testing.T) {
	t.Parallel()
	inner := &fakeStore{failures: 5}
	s, rec := newTestStore(t, inner, Config{MaxAttempts: 6, BaseDelay: 3 * time.Second, MaxDelay: 10 * time.Second})

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	delays := rec.recorded()
	if len(delays) != 5 {
		t.Fatalf("delays = %v, want 5 entries", delays)
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Errorf("delay decreased: %v", delays)
		}
	}
	for _, d := range delays {
		if d > 10*time.Second {
			t.Errorf("delay %v exceeds cap", d)
		}
	}
	if delays[0] != 3*time.Second || delays[1] != 6*time.Second {
		t.Errorf("doubling broken: %v", delays)
	}
	if delays[4] != 10*time.Second {
		t.Errorf("cap not applied: %v", delays)
	}
}

func TestDo_FatalAfterBudgetExhausted(t *testing.T) {
	t.Parallel()
	inner := &fakeStore{failures: 1000}
	s, _ := newTestStore(t, inner, Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second})

	err := s.Ping(context.Background())
	if !errors.Is(err, ErrStorageFatal) {
		t.Fatalf("error = %v, want ErrStorageFatal", err)
	}
	// Initial call plus three probes: the fourth attempt is the fatal one.
	if got := inner.pingCalls(); got != 4 {
		t.Errorf("ping calls = %d, want 4", got)
	}
	if got := s.State(); got != StateFailed {
		t.Errorf("state = %v, want failed", got)
	}
}

func TestDo_FailedStateIsNotTerminal(t *testing.T) {
	t.Parallel()
	inner := &fakeStore{failures: 1000}
	s, rec := newTestStore(t, inner, Config{MaxAttempts: 2, BaseDelay: time.Millisecond})

	if err := s.Ping(context.Background()); !errors.Is(err, ErrStorageFatal) {
		t.Fatalf("first call error = %v, want ErrStorageFatal", err)
	}
	if got := s.State(); got != StateFailed {
		t.Fatalf("state = %v, want failed", got)
	}

	// Backend comes back; the next operation succeeds without backoff.
	inner.setFailures(0)
	before := len(rec.recorded())
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("second call error: %v", err)
	}
	if got := s.State(); got != StateConnected {
		t.Errorf("state = %v, want connected", got)
	}
	if len(rec.recorded()) != before {
		t.Errorf("healthy call after failure should not back off")
	}
}

func TestDo_BackoffResetsAfterRecovery(t *testing.T) {
	t.Parallel()
	inner := &fakeStore{failures: 2}
	s, rec := newTestStore(t, inner, Config{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Minute})

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("first outage: %v", err)
	}

	// A later outage must start again from the base delay.
	inner.setFailures(1)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("second outage: %v", err)
	}
	delays := rec.recorded()
	if len(delays) != 3 {
		t.Fatalf("delays = %v, want 3 entries", delays)
	}
	if delays[2] != time.Second {
		t.Errorf("delay after recovery = %v, want base %v", delays[2], time.Second)
	}
}

func TestDo_PermanentErrorsNotRetried(t *testing.T) {
	t.Parallel()
	inner := &fakeStore{}
	s, rec := newTestStore(t, inner, Config{})

	if _, err := s.GetAccount(context.Background(), 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("get = %v, want ErrNotFound", err)
	}
	if _, err := s.CreateAccount(context.Background(), store.Account{Name: "x"}); !errors.Is(err, store.ErrDuplicateName) {
		t.Errorf("create = %v, want ErrDuplicateName", err)
	}
	if len(rec.recorded()) != 0 {
		t.Errorf("permanent errors must not back off, got %v", rec.recorded())
	}
	if got := s.State(); got != StateConnected {
		t.Errorf("state = %v, want connected", got)
	}
}

func TestDo_WaitersShareOneRecoveryCycle(t *testing.T) {
	t.Parallel()
	inner := &fakeStore{failures: 2}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := Wrap(inner, Config{MaxAttempts: 5, BaseDelay: time.Second}, logger, nil)

	sleeping := make(chan struct{})
	release := make(chan struct{})
	var sleepOnce sync.Once
	var sleeps int
	var sleepMu sync.Mutex
	s.sleep = func(context.Context, time.Duration) error {
		sleepMu.Lock()
		sleeps++
		sleepMu.Unlock()
		sleepOnce.Do(func() { close(sleeping) })
		<-release
		return nil
	}

	errA := make(chan error, 1)
	go func() { errA <- s.Ping(context.Background()) }()
	<-sleeping // caller A owns the cycle and is parked in backoff

	errB := make(chan error, 1)
	go func() { errB <- s.Ping(context.Background()) }()
	// Wait for B's initial probe to fail so it parks on A's cycle.
	deadline := time.Now().Add(2 * time.Second)
	for inner.pingCalls() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("second caller never probed")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	close(release)
	if err := <-errA; err != nil {
		t.Fatalf("owner error: %v", err)
	}
	if err := <-errB; err != nil {
		t.Fatalf("waiter error: %v", err)
	}

	sleepMu.Lock()
	defer sleepMu.Unlock()
	if sleeps != 1 {
		t.Errorf("backoff sleeps = %d, want 1 shared cycle", sleeps)
	}
	if got := s.State(); got != StateConnected {
		t.Errorf("state = %v, want connected", got)
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	base, max := 3*time.Second, 5*time.Minute
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 3 * time.Second},
		{2, 6 * time.Second},
		{3, 12 * time.Second},
		{7, 192 * time.Second},
		{8, 5 * time.Minute},
		{20, 5 * time.Minute},
	}
	for _, tc := range cases {
		if got := backoffDelay(base, max, tc.attempt); got != tc.want {
			t.Errorf("backoffDelay(attempt=%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for st, want := range map[State]string{
		StateConnected:    "connected",
		StateReconnecting: "reconnecting",
		StateFailed:       "failed",
	} {
		if got := st.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(st), got, want)
		}
	}
}
