package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/haasonsaas/steward/pkg/models"
)

// UpsertMemory inserts a memory or, when the (user, type, key) triple
// already exists, replaces its value, confidence, and source.
func (s *Store) UpsertMemory(ctx context.Context, m *models.Memory) error {
	if m == nil {
		return fmt.Errorf("memory is required")
	}
	if m.UserID == "" || m.Key == "" {
		return fmt.Errorf("user id and key are required")
	}
	if !m.Type.Valid() {
		return fmt.Errorf("invalid memory type %q", m.Type)
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_memories (user_id, type, key, value, confidence, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, type, key) DO UPDATE SET
			value = excluded.value,
			confidence = excluded.confidence,
			source = excluded.source,
			updated_at = excluded.updated_at
	`,
		m.UserID,
		string(m.Type),
		m.Key,
		m.Value,
		m.Confidence,
		nullableString(m.Source),
		m.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}

// Memories returns all of a user's memories ordered by type then key.
func (s *Store) Memories(ctx context.Context, userID string) ([]*models.Memory, error) {
	return s.queryMemories(ctx, `
		SELECT user_id, type, key, value, confidence, source, updated_at
		FROM user_memories
		WHERE user_id = ?
		ORDER BY type, key
	`, userID)
}

// MemoriesByType returns a user's memories of one type ordered by key.
func (s *Store) MemoriesByType(ctx context.Context, userID string, typ models.MemoryType) ([]*models.Memory, error) {
	return s.queryMemories(ctx, `
		SELECT user_id, type, key, value, confidence, source, updated_at
		FROM user_memories
		WHERE user_id = ? AND type = ?
		ORDER BY key
	`, userID, string(typ))
}

// GetMemory fetches a single memory by its (user, type, key) triple.
func (s *Store) GetMemory(ctx context.Context, userID string, typ models.MemoryType, key string) (*models.Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, type, key, value, confidence, source, updated_at
		FROM user_memories
		WHERE user_id = ? AND type = ? AND key = ?
	`, userID, string(typ), key)

	mem, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return mem, nil
}

// DeleteMemory removes a memory. Returns ErrNotFound when no row matched.
func (s *Store) DeleteMemory(ctx context.Context, userID string, typ models.MemoryType, key string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM user_memories WHERE user_id = ? AND type = ? AND key = ?
	`, userID, string(typ), key)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) queryMemories(ctx context.Context, query string, args ...any) ([]*models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var memories []*models.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		memories = append(memories, mem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return memories, nil
}

func scanMemory(sc scanner) (*models.Memory, error) {
	var mem models.Memory
	var typ string
	var source sql.NullString

	err := sc.Scan(
		&mem.UserID,
		&typ,
		&mem.Key,
		&mem.Value,
		&mem.Confidence,
		&source,
		&mem.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	mem.Type = models.MemoryType(typ)
	mem.Source = source.String
	return &mem, nil
}
