package postgres

import (
	"context"
	"fmt"

	"github.com/leafcheck/leafcheckd/internal/store"
)

const defaultHistoryLimit = 100

// AppendRecord implements store.Store.
func (s *Store) AppendRecord(ctx context.Context, r store.CheckinRecord) (store.CheckinRecord, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO checkin_history (account_id, outcome, detail, response, date, retries)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		r.AccountID, string(r.Outcome), r.Detail, r.Response, r.Date, r.Retries,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return store.CheckinRecord{}, fmt.Errorf("postgres: append record: %w", err)
	}
	return r, nil
}

// Records implements store.Store.
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
		query += " WHERE h.account_id = $1 ORDER BY h.id DESC LIMIT $2"
		args = append(args, accountID, limit)
	} else {
		query += " ORDER BY h.id DESC LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query history: %w", err)
	}
	defer rows.Close()

	var records []store.CheckinRecord
	for rows.Next() {
		var (
			r       store.CheckinRecord
			outcome string
		)
		if err := rows.Scan(&r.ID, &r.AccountID, &r.AccountName, &outcome,
			&r.Detail, &r.Response, &r.Date, &r.Retries, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan record: %w", err)
		}
		r.Outcome = store.Outcome(outcome)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: history rows: %w", err)
	}
	return records, nil
}

// HasSuccess implements store.Store.
func (s *Store) HasSuccess(ctx context.Context, accountID int64, date string) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM checkin_history
		WHERE account_id = $1 AND date = $2 AND outcome = $3`,
		accountID, date, string(store.OutcomeSuccess),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("postgres: check success: %w", err)
	}
	return n > 0, nil
}
