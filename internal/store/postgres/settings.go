package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/leafcheck/leafcheckd/internal/store"
)

// Settings implements store.Store.
func (s *Store) Settings(ctx context.Context) (store.Settings, error) {
	var (
		out      store.Settings
		telegram []byte
		wecom    []byte
		wxpusher []byte
		dingtalk []byte
	)

	err := s.pool.QueryRow(ctx, `
		SELECT enabled, telegram, wecom, wxpusher, dingtalk
		FROM notification_settings WHERE id = 1`,
	).Scan(&out.Enabled, &telegram, &wecom, &wxpusher, &dingtalk)
	if err != nil {
		return store.Settings{}, fmt.Errorf("postgres: read settings: %w", err)
	}

	for _, p := range []struct {
		src []byte
		dst any
	}{
		{telegram, &out.Telegram},
		{wecom, &out.WeCom},
		{wxpusher, &out.WxPusher},
		{dingtalk, &out.DingTalk},
	} {
		if err := json.Unmarshal(p.src, p.dst); err != nil {
			return store.Settings{}, fmt.Errorf("postgres: unmarshal settings: %w", err)
		}
	}
	return out, nil
}

// SaveSettings implements store.Store.
func (s *Store) SaveSettings(ctx context.Context, set store.Settings) error {
	blobs := make([][]byte, 0, 4)
	for _, v := range []any{set.Telegram, set.WeCom, set.WxPusher, set.DingTalk} {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("postgres: marshal settings: %w", err)
		}
		blobs = append(blobs, b)
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE notification_settings
		SET enabled = $1, telegram = $2, wecom = $3, wxpusher = $4, dingtalk = $5
		WHERE id = 1`,
		set.Enabled, blobs[0], blobs[1], blobs[2], blobs[3],
	)
	if err != nil {
		return fmt.Errorf("postgres: save settings: %w", err)
	}
	return nil
}
