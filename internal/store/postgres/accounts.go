package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/leafcheck/leafcheckd/internal/store"
)

const accountColumns = `id, name, credentials, enabled, needs_attention, checkin_time,
	retry_count, last_checkin_date, last_run_at, last_outcome, created_at, updated_at`

// ListAccounts implements store.Store.
func (s *Store) ListAccounts(ctx context.Context) ([]store.Account, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+accountColumns+" FROM accounts ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []store.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list accounts rows: %w", err)
	}
	return accounts, nil
}

// GetAccount implements store.Store.
func (s *Store) GetAccount(ctx context.Context, id int64) (store.Account, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1", id)
	if err != nil {
		return store.Account{}, fmt.Errorf("postgres: get account: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return store.Account{}, fmt.Errorf("postgres: get account: %w", err)
		}
		return store.Account{}, store.ErrNotFound
	}
	return scanAccount(rows)
}

// CreateAccount implements store.Store.
func (s *Store) CreateAccount(ctx context.Context, a store.Account) (store.Account, error) {
	creds, err := json.Marshal(a.Credentials)
	if err != nil {
		return store.Account{}, fmt.Errorf("postgres: marshal credentials: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO accounts (name, credentials, enabled, checkin_time, retry_count)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		a.Name, creds, a.Enabled, a.CheckinTime, a.RetryCount,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Account{}, store.ErrDuplicateName
		}
		return store.Account{}, fmt.Errorf("postgres: create account: %w", err)
	}
	return s.GetAccount(ctx, id)
}

// UpdateAccount implements store.Store.
func (s *Store) UpdateAccount(ctx context.Context, a store.Account) error {
	creds, err := json.Marshal(a.Credentials)
	if err != nil {
		return fmt.Errorf("postgres: marshal credentials: %w", err)
	}

	var lastRun any
	if !a.LastRunAt.IsZero() {
		lastRun = a.LastRunAt
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET name = $1, credentials = $2, enabled = $3, needs_attention = $4,
		    checkin_time = $5, retry_count = $6, last_checkin_date = $7,
		    last_run_at = $8, last_outcome = $9, updated_at = now()
		WHERE id = $10`,
		a.Name, creds, a.Enabled, a.NeedsAttention,
		a.CheckinTime, a.RetryCount, a.LastCheckinDate,
		lastRun, string(a.LastOutcome), a.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateName
		}
		return fmt.Errorf("postgres: update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteAccount implements store.Store.
func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM accounts WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanAccount(rows pgx.Rows) (store.Account, error) {
	var (
		a         store.Account
		credsJSON []byte
		outcome   string
		lastRun   sql.NullTime
	)

	err := rows.Scan(&a.ID, &a.Name, &credsJSON, &a.Enabled, &a.NeedsAttention,
		&a.CheckinTime, &a.RetryCount, &a.LastCheckinDate,
		&lastRun, &outcome, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Account{}, store.ErrNotFound
		}
		return store.Account{}, fmt.Errorf("postgres: scan account: %w", err)
	}

	if err := json.Unmarshal(credsJSON, &a.Credentials); err != nil {
		return store.Account{}, fmt.Errorf("postgres: unmarshal credentials: %w", err)
	}
	if lastRun.Valid {
		a.LastRunAt = lastRun.Time
	}
	a.LastOutcome = store.Outcome(outcome)
	return a, nil
}
