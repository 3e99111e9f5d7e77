// Package memory maintains long-lived facts about each user and
// renders them into the system prompt so every reply is personalized.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/haasonsaas/steward/internal/store"
	"github.com/haasonsaas/steward/pkg/models"
)

// Manager coordinates memory reads and writes on top of the store.
type Manager struct {
	store  *store.Store
	logger *slog.Logger
}

// Option configures the manager.
type Option func(*Manager)

// WithLogger configures the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a memory manager.
func NewManager(st *store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  st,
		logger: slog.Default().With("component", "memory"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Save upserts a memory. The confidence defaults to 1.0 when unset,
// out-of-range values are clamped to [0, 1], and an empty type is
// treated as custom.
func (m *Manager) Save(ctx context.Context, mem *models.Memory) error {
	if mem == nil {
		return fmt.Errorf("memory is required")
	}
	if mem.Type == "" {
		mem.Type = models.MemoryTypeCustom
	}
	if !mem.Type.Valid() {
		return fmt.Errorf("invalid memory type %q", mem.Type)
	}
	switch {
	case mem.Confidence == 0:
		mem.Confidence = 1.0
	case mem.Confidence < 0:
		mem.Confidence = 0
	case mem.Confidence > 1:
		mem.Confidence = 1
	}

	if err := m.store.UpsertMemory(ctx, mem); err != nil {
		return err
	}
	m.logger.Debug("memory saved", "user_id", mem.UserID, "type", mem.Type, "key", mem.Key)
	return nil
}

// Get fetches one memory by its (user, type, key) triple.
func (m *Manager) Get(ctx context.Context, userID string, typ models.MemoryType, key string) (*models.Memory, error) {
	return m.store.GetMemory(ctx, userID, typ, key)
}

// ByType lists a user's memories of one type.
func (m *Manager) ByType(ctx context.Context, userID string, typ models.MemoryType) ([]*models.Memory, error) {
	return m.store.MemoriesByType(ctx, userID, typ)
}

// All lists every memory for a user.
func (m *Manager) All(ctx context.Context, userID string) ([]*models.Memory, error) {
	return m.store.Memories(ctx, userID)
}

// Delete removes a memory. Returns store.ErrNotFound when absent.
func (m *Manager) Delete(ctx context.Context, userID string, typ models.MemoryType, key string) error {
	err := m.store.DeleteMemory(ctx, userID, typ, key)
	if err == nil {
		m.logger.Debug("memory deleted", "user_id", userID, "type", typ, "key", key)
	}
	return err
}

var titleCase = cases.Title(language.Und)

// FormatForPrompt renders a user's memories as a markdown block for
// the system prompt. Memories are grouped by type in a fixed order
// with title-cased subheadings. Returns "" when the user has none.
func (m *Manager) FormatForPrompt(ctx context.Context, userID string) (string, error) {
	memories, err := m.All(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if len(memories) == 0 {
		return "", nil
	}

	byType := make(map[models.MemoryType][]*models.Memory, len(models.MemoryTypeOrder))
	for _, mem := range memories {
		byType[mem.Type] = append(byType[mem.Type], mem)
	}

	var b strings.Builder
	b.WriteString("## What I Know About You\n")
	for _, typ := range models.MemoryTypeOrder {
		entries := byType[typ]
		if len(entries) == 0 {
			continue
		}
		b.WriteString("\n### ")
		b.WriteString(titleCase.String(string(typ)))
		b.WriteString("\n")
		for _, mem := range entries {
			fmt.Fprintf(&b, "- %s: %s\n", mem.Key, mem.Value)
		}
	}
	return b.String(), nil
}
