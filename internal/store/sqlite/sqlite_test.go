package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/leafcheck/leafcheckd/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testAccount(name string) store.Account {
	return store.Account{
		Name: name,
		Credentials: store.Credentials{
			Cookies: map[string]string{"session": "abc123"},
			Headers: map[string]string{"X-Requested-With": "XMLHttpRequest"},
		},
		Enabled:     true,
		CheckinTime: "09:00",
		RetryCount:  3,
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := s.CreateAccount(context.Background(), testAccount("alice")); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopening migrates again and must preserve data.
	s, err = Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer func() { _ = s.Close() }()

	accounts, err := s.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Name != "alice" {
		t.Errorf("accounts after reopen = %+v, want one alice", accounts)
	}
}

func TestAccounts_CRUD(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateAccount(ctx, testAccount("alice"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == 0 {
		t.Error("created account has zero ID")
	}
	if !created.Enabled {
		t.Error("created account should be enabled")
	}
	if created.Credentials.Cookies["session"] != "abc123" {
		t.Errorf("credentials not round-tripped: %+v", created.Credentials)
	}
	if created.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}

	created.CheckinTime = "21:30"
	created.Enabled = false
	created.NeedsAttention = true
	created.LastCheckinDate = "2026-08-28"
	created.LastRunAt = time.Date(2026, 8, 28, 9, 0, 3, 0, time.UTC)
	created.LastOutcome = store.OutcomeSuccess
	if err := s.UpdateAccount(ctx, created); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetAccount(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CheckinTime != "21:30" || got.Enabled || !got.NeedsAttention {
		t.Errorf("update not persisted: %+v", got)
	}
	if got.LastCheckinDate != "2026-08-28" {
		t.Errorf("last_checkin_date = %q", got.LastCheckinDate)
	}
	if !got.LastRunAt.Equal(created.LastRunAt) {
		t.Errorf("last_run_at = %v, want %v", got.LastRunAt, created.LastRunAt)
	}
	if got.LastOutcome != store.OutcomeSuccess {
		t.Errorf("last_outcome = %q", got.LastOutcome)
	}

	if err := s.DeleteAccount(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetAccount(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
}

func TestAccounts_DuplicateName(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateAccount(ctx, testAccount("alice")); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := s.CreateAccount(ctx, testAccount("alice"))
	if !errors.Is(err, store.ErrDuplicateName) {
		t.Errorf("duplicate create = %v, want ErrDuplicateName", err)
	}
}

func TestAccounts_NotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetAccount(ctx, 42); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("get = %v, want ErrNotFound", err)
	}
	if err := s.UpdateAccount(ctx, store.Account{ID: 42, Name: "ghost"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("update = %v, want ErrNotFound", err)
	}
	if err := s.DeleteAccount(ctx, 42); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("delete = %v, want ErrNotFound", err)
	}
}

func TestHistory_AppendAndQuery(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	alice, err := s.CreateAccount(ctx, testAccount("alice"))
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	bob, err := s.CreateAccount(ctx, testAccount("bob"))
	if err != nil {
		t.Fatalf("create bob: %v", err)
	}

	for _, r := range []store.CheckinRecord{
		{AccountID: alice.ID, Outcome: store.OutcomeNetwork, Detail: "timeout", Date: "2026-08-27", Retries: 3},
		{AccountID: alice.ID, Outcome: store.OutcomeSuccess, Detail: "got reward", Date: "2026-08-28", Retries: 1},
		{AccountID: bob.ID, Outcome: store.OutcomeAuth, Detail: "session expired", Date: "2026-08-28"},
	} {
		rec, err := s.AppendRecord(ctx, r)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if rec.ID == 0 {
			t.Error("appended record has zero ID")
		}
	}

	all, err := s.Records(ctx, 0, 0)
	if err != nil {
		t.Fatalf("records all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("records all = %d rows, want 3", len(all))
	}
	// Newest first.
	if all[0].AccountName != "bob" || all[2].Detail != "timeout" {
		t.Errorf("records not newest-first: %+v", all)
	}

	aliceOnly, err := s.Records(ctx, alice.ID, 0)
	if err != nil {
		t.Fatalf("records alice: %v", err)
	}
	if len(aliceOnly) != 2 {
		t.Errorf("records alice = %d rows, want 2", len(aliceOnly))
	}

	limited, err := s.Records(ctx, 0, 1)
	if err != nil {
		t.Fatalf("records limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("records limit 1 = %d rows", len(limited))
	}
}

func TestHistory_HasSuccess(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	alice, err := s.CreateAccount(ctx, testAccount("alice"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.AppendRecord(ctx, store.CheckinRecord{
		AccountID: alice.ID, Outcome: store.OutcomeFailed, Date: "2026-08-28",
	}); err != nil {
		t.Fatalf("append failed row: %v", err)
	}
	ok, err := s.HasSuccess(ctx, alice.ID, "2026-08-28")
	if err != nil {
		t.Fatalf("has success: %v", err)
	}
	if ok {
		t.Error("failed row should not count as success")
	}

	if _, err := s.AppendRecord(ctx, store.CheckinRecord{
		AccountID: alice.ID, Outcome: store.OutcomeSuccess, Date: "2026-08-28",
	}); err != nil {
		t.Fatalf("append success row: %v", err)
	}
	ok, err = s.HasSuccess(ctx, alice.ID, "2026-08-28")
	if err != nil {
		t.Fatalf("has success: %v", err)
	}
	if !ok {
		t.Error("success row on the day should report true")
	}

	ok, err = s.HasSuccess(ctx, alice.ID, "2026-08-29")
	if err != nil {
		t.Fatalf("has success: %v", err)
	}
	if ok {
		t.Error("next day should report false")
	}
}

func TestHistory_CascadeDelete(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	alice, err := s.CreateAccount(ctx, testAccount("alice"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AppendRecord(ctx, store.CheckinRecord{
		AccountID: alice.ID, Outcome: store.OutcomeSuccess, Date: "2026-08-28",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.DeleteAccount(ctx, alice.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	rows, err := s.Records(ctx, 0, 0)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("history rows after account delete = %d, want 0", len(rows))
	}
}

func TestSettings_RoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	// Defaults from the migration seed row.
	initial, err := s.Settings(ctx)
	if err != nil {
		t.Fatalf("read seeded settings: %v", err)
	}
	if initial.Enabled {
		t.Error("seeded settings should be disabled")
	}

	want := store.Settings{
		Enabled: true,
		Telegram: store.TelegramSettings{
			Enabled: true, BotToken: "123:abc", ChatID: "-100", Endpoint: "https://tg.example.com",
		},
		DingTalk: store.DingTalkSettings{
			Enabled: true, AccessToken: "tok", Secret: "SEC",
		},
	}
	if err := s.SaveSettings(ctx, want); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	got, err := s.Settings(ctx)
	if err != nil {
		t.Fatalf("read settings: %v", err)
	}
	if got != want {
		t.Errorf("settings = %+v, want %+v", got, want)
	}
}
