package resilient

import (
	"context"

	"github.com/leafcheck/leafcheckd/internal/store"
)

// The store.Store methods below all funnel through do, keeping the retry
// mechanics invisible to callers.

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.do(ctx, "ping", func() error { return s.inner.Ping(ctx) })
}

// ListAccounts implements store.Store.
func (s *Store) ListAccounts(ctx context.Context) ([]store.Account, error) {
	var out []store.Account
	err := s.do(ctx, "list_accounts", func() error {
		var e error
		out, e = s.inner.ListAccounts(ctx)
		return e
	})
	return out, err
}

// GetAccount implements store.Store.
func (s *Store) GetAccount(ctx context.Context, id int64) (store.Account, error) {
	var out store.Account
	err := s.do(ctx, "get_account", func() error {
		var e error
		out, e = s.inner.GetAccount(ctx, id)
		return e
	})
	return out, err
}

// CreateAccount implements store.Store.
func (s *Store) CreateAccount(ctx context.Context, a store.Account) (store.Account, error) {
	var out store.Account
	err := s.do(ctx, "create_account", func() error {
		var e error
		out, e = s.inner.CreateAccount(ctx, a)
		return e
	})
	return out, err
}

// UpdateAccount implements store.Store.
func (s *Store) UpdateAccount(ctx context.Context, a store.Account) error {
	return s.do(ctx, "update_account", func() error { return s.inner.UpdateAccount(ctx, a) })
}

// DeleteAccount implements store.Store.
func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	return s.do(ctx, "delete_account", func() error { return s.inner.DeleteAccount(ctx, id) })
}

// AppendRecord implements store.Store.
func (s *Store) AppendRecord(ctx context.Context, r store.CheckinRecord) (store.CheckinRecord, error) {
	var out store.CheckinRecord
	err := s.do(ctx, "append_record", func() error {
		var e error
		out, e = s.inner.AppendRecord(ctx, r)
		return e
	})
	return out, err
}

// Records implements store.Store.
func (s *Store) Records(ctx context.Context, accountID int64, limit int) ([]store.CheckinRecord, error) {
	var out []store.CheckinRecord
	err := s.do(ctx, "records", func() error {
		var e error
		out, e = s.inner.Records(ctx, accountID, limit)
		return e
	})
	return out, err
}

// HasSuccess implements store.Store.
func (s *Store) HasSuccess(ctx context.Context, accountID int64, date string) (bool, error) {
	var out bool
	err := s.do(ctx, "has_success", func() error {
		var e error
		out, e = s.inner.HasSuccess(ctx, accountID, date)
		return e
	})
	return out, err
}

// Settings implements store.Store.
func (s *Store) Settings(ctx context.Context) (store.Settings, error) {
	var out store.Settings
	err := s.do(ctx, "settings", func() error {
		var e error
		out, e = s.inner.Settings(ctx)
		return e
	})
	return out, err
}

// SaveSettings implements store.Store.
func (s *Store) SaveSettings(ctx context.Context, set store.Settings) error {
	return s.do(ctx, "save_settings", func() error { return s.inner.SaveSettings(ctx, set) })
}

// Close implements store.Store. Close is not retried.
func (s *Store) Close() error {
	return s.inner.Close()
}
