package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leafcheck/leafcheckd/internal/store"
)

const accountColumns = `id, name, credentials, enabled, needs_attention, checkin_time,
	retry_count, last_checkin_date, last_run_at, last_outcome, created_at, updated_at`

// ListAccounts implements store.Store.
func (s *Store) ListAccounts(ctx context.Context) ([]store.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM accounts ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []store.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list accounts rows: %w", err)
	}
	return accounts, nil
}

// GetAccount implements store.Store.
func (s *Store) GetAccount(ctx context.Context, id int64) (store.Account, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)

	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Account{}, store.ErrNotFound
	}
	return a, err
}

// CreateAccount implements store.Store. Returns the account with its
// assigned ID, or store.ErrDuplicateName if the name is taken.
func (s *Store) CreateAccount(ctx context.Context, a store.Account) (store.Account, error) {
	creds, err := json.Marshal(a.Credentials)
	if err != nil {
		return store.Account{}, fmt.Errorf("sqlite: marshal credentials: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (name, credentials, enabled, needs_attention, checkin_time, retry_count)
		VALUES (?, ?, ?, 0, ?, ?)`,
		a.Name, string(creds), boolToInt(a.Enabled), a.CheckinTime, a.RetryCount,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Account{}, store.ErrDuplicateName
		}
		return store.Account{}, fmt.Errorf("sqlite: create account: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return store.Account{}, fmt.Errorf("sqlite: last insert id: %w", err)
	}
	return s.GetAccount(ctx, id)
}

// UpdateAccount implements store.Store. The full record is written; callers
// read-modify-write.
func (s *Store) UpdateAccount(ctx context.Context, a store.Account) error {
	creds, err := json.Marshal(a.Credentials)
	if err != nil {
		return fmt.Errorf("sqlite: marshal credentials: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET name = ?, credentials = ?, enabled = ?, needs_attention = ?,
		    checkin_time = ?, retry_count = ?, last_checkin_date = ?,
		    last_run_at = ?, last_outcome = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ?`,
		a.Name, string(creds), boolToInt(a.Enabled), boolToInt(a.NeedsAttention),
		a.CheckinTime, a.RetryCount, a.LastCheckinDate,
		formatTime(a.LastRunAt), string(a.LastOutcome),
		a.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateName
		}
		return fmt.Errorf("sqlite: update account: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteAccount implements store.Store. History rows are removed by the
// ON DELETE CASCADE constraint.
func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: delete account: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (store.Account, error) {
	var (
		a            store.Account
		credsJSON    string
		enabled      int
		attention    int
		outcome      string
		lastRunAt    string
		createdAtStr string
		updatedAtStr string
	)

	err := row.Scan(&a.ID, &a.Name, &credsJSON, &enabled, &attention,
		&a.CheckinTime, &a.RetryCount, &a.LastCheckinDate,
		&lastRunAt, &outcome, &createdAtStr, &updatedAtStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Account{}, err
		}
		return store.Account{}, fmt.Errorf("sqlite: scan account: %w", err)
	}

	if err := json.Unmarshal([]byte(credsJSON), &a.Credentials); err != nil {
		return store.Account{}, fmt.Errorf("sqlite: unmarshal credentials: %w", err)
	}

	a.Enabled = enabled != 0
	a.NeedsAttention = attention != 0
	a.LastOutcome = store.Outcome(outcome)

	for _, p := range []struct {
		src string
		dst *time.Time
	}{
		{lastRunAt, &a.LastRunAt},
		{createdAtStr, &a.CreatedAt},
		{updatedAtStr, &a.UpdatedAt},
	} {
		if p.src == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, p.src)
		if err != nil {
			return store.Account{}, fmt.Errorf("sqlite: parse timestamp %q: %w", p.src, err)
		}
		*p.dst = t
	}

	return a, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation detects the driver's UNIQUE constraint error. The
// modernc driver exposes it only as message text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
