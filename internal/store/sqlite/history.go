package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/leafcheck/leafcheckd/internal/store"
)

const defaultHistoryLimit = 100

// AppendRecord implements store.Store. History rows are append-only and
// never mutated afterwards.
func (s *Store) AppendRecord(ctx context.Context, r store.CheckinRecord) (store.CheckinRecord, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO checkin_history (account_id, outcome, detail, response, date, retries)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.AccountID, string(r.Outcome), r.Detail, r.Response, r.Date, r.Retries,
	)
	if err != nil {
		return store.CheckinRecord{}, fmt.Errorf("sqlite: append record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return store.CheckinRecord{}, fmt.Errorf("sqlite: last insert id: %w", err)
	}
	r.ID = id
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return r, nil
}

// Records implements store.Store. Newest-first; accountID 0 returns history
// across all accounts.
func (s *Store) Records(ctx context.Context, accountID int64, limit int) ([]store.CheckinRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	query := `
		SELECT h.id, h.account_id, a.name, h.outcome, h.detail, h.response,
		       h.date, h.retries, h.created_at
		FROM checkin_history h
		JOIN accounts a ON a.id = h.account_id`
	args := []any{}
	if accountID != 0 {
		query += " WHERE h.account_id = ?"
		args = append(args, accountID)
	}
	query += " ORDER BY h.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []store.CheckinRecord
	for rows.Next() {
		var (
			r          store.CheckinRecord
			outcome    string
			createdStr string
		)
		if err := rows.Scan(&r.ID, &r.AccountID, &r.AccountName, &outcome,
			&r.Detail, &r.Response, &r.Date, &r.Retries, &createdStr); err != nil {
			return nil, fmt.Errorf("sqlite: scan record: %w", err)
		}
		r.Outcome = store.Outcome(outcome)
		if createdStr != "" {
			t, err := time.Parse(time.RFC3339Nano, createdStr)
			if err != nil {
				return nil, fmt.Errorf("sqlite: parse created_at %q: %w", createdStr, err)
			}
			r.CreatedAt = t
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: history rows: %w", err)
	}
	return records, nil
}

// HasSuccess implements store.Store.
func (s *Store) HasSuccess(ctx context.Context, accountID int64, date string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM checkin_history
		WHERE account_id = ? AND date = ? AND outcome = ?`,
		accountID, date, string(store.OutcomeSuccess),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: check success: %w", err)
	}
	return n > 0, nil
}
