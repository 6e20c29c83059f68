package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/leafcheck/leafcheckd/internal/store"
)

// Settings implements store.Store. The settings row is a singleton seeded
// by the schema migration.
func (s *Store) Settings(ctx context.Context) (store.Settings, error) {
	var (
		out      store.Settings
		enabled  int
		telegram string
		wecom    string
		wxpusher string
		dingtalk string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT enabled, telegram, wecom, wxpusher, dingtalk
		FROM notification_settings WHERE id = 1`,
	).Scan(&enabled, &telegram, &wecom, &wxpusher, &dingtalk)
	if err != nil {
		return store.Settings{}, fmt.Errorf("sqlite: read settings: %w", err)
	}

	out.Enabled = enabled != 0
	for _, p := range []struct {
		src string
		dst any
	}{
		{telegram, &out.Telegram},
		{wecom, &out.WeCom},
		{wxpusher, &out.WxPusher},
		{dingtalk, &out.DingTalk},
	} {
		if err := json.Unmarshal([]byte(p.src), p.dst); err != nil {
			return store.Settings{}, fmt.Errorf("sqlite: unmarshal settings: %w", err)
		}
	}
	return out, nil
}

// SaveSettings implements store.Store.
func (s *Store) SaveSettings(ctx context.Context, set store.Settings) error {
	blobs := make([]string, 0, 4)
	for _, v := range []any{set.Telegram, set.WeCom, set.WxPusher, set.DingTalk} {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("sqlite: marshal settings: %w", err)
		}
		blobs = append(blobs, string(b))
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE notification_settings
		SET enabled = ?, telegram = ?, wecom = ?, wxpusher = ?, dingtalk = ?
		WHERE id = 1`,
		boolToInt(set.Enabled), blobs[0], blobs[1], blobs[2], blobs[3],
	)
	if err != nil {
		return fmt.Errorf("sqlite: save settings: %w", err)
	}
	return nil
}
