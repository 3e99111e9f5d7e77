package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SetCredential stores or replaces a credential value for a service.
func (s *Store) SetCredential(ctx context.Context, userID, service, key, value string) error {
	if userID == "" || service == "" || key == "" {
		return fmt.Errorf("user id, service, and key are required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, service, key, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, service, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, userID, service, key, value, s.now().UTC())
	if err != nil {
		return fmt.Errorf("set credential: %w", err)
	}
	return nil
}

// Credential fetches a stored credential. Returns ErrNotFound when the
// service/key pair has never been stored.
func (s *Store) Credential(ctx context.Context, userID, service, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM credentials WHERE user_id = ? AND service = ? AND key = ?
	`, userID, service, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get credential: %w", err)
	}
	return value, nil
}

// DeleteCredential removes a stored credential.
func (s *Store) DeleteCredential(ctx context.Context, userID, service, key string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM credentials WHERE user_id = ? AND service = ? AND key = ?
	`, userID, service, key)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return requireRow(result)
}

// SetSetting stores or replaces a user setting.
func (s *Store) SetSetting(ctx context.Context, userID, key, value string) error {
	if userID == "" || key == "" {
		return fmt.Errorf("user id and key are required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, userID, key, value, s.now().UTC())
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// Setting fetches a user setting. Returns ErrNotFound when unset.
func (s *Store) Setting(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM user_settings WHERE user_id = ? AND key = ?
	`, userID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// DeleteSetting removes a user setting.
func (s *Store) DeleteSetting(ctx context.Context, userID, key string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM user_settings WHERE user_id = ? AND key = ?
	`, userID, key)
	if err != nil {
		return fmt.Errorf("delete setting: %w", err)
	}
	return requireRow(result)
}

// Settings returns all of a user's settings as a map.
func (s *Store) Settings(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM user_settings WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return settings, nil
}
