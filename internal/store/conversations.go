package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/haasonsaas/steward/pkg/models"
)

// GetOrCreateConversation returns the conversation for the given user
// and session, creating it if none exists. With an empty session id
// the user has at most one ambient conversation per platform; with a
// session id the conversation is unique per (user, session).
func (s *Store) GetOrCreateConversation(ctx context.Context, userID, sessionID string, platform models.Platform) (*models.Conversation, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	conv, err := s.conversationByKey(ctx, userID, sessionID, platform)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.now().UTC()
	conv = &models.Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		SessionID: sessionID,
		Platform:  platform,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, session_id, platform, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, conv.ID, conv.UserID, nullableString(conv.SessionID), string(conv.Platform), conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		// A concurrent create may have won the unique constraint race.
		existing, lookupErr := s.conversationByKey(ctx, userID, sessionID, platform)
		if lookupErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	return conv, nil
}

func (s *Store) conversationByKey(ctx context.Context, userID, sessionID string, platform models.Platform) (*models.Conversation, error) {
	var row *sql.Row
	if sessionID == "" {
		row = s.db.QueryRowContext(ctx, `
			SELECT id, user_id, session_id, platform, created_at, updated_at
			FROM conversations
			WHERE user_id = ? AND session_id IS NULL AND platform = ?
			ORDER BY updated_at DESC
			LIMIT 1
		`, userID, string(platform))
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT id, user_id, session_id, platform, created_at, updated_at
			FROM conversations
			WHERE user_id = ? AND session_id = ?
		`, userID, sessionID)
	}

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// Conversations lists a user's conversations, most recently active first.
func (s *Store) Conversations(ctx context.Context, userID string, limit int) ([]*models.Conversation, error) {
	query := `
		SELECT id, user_id, session_id, platform, created_at, updated_at
		FROM conversations
		WHERE user_id = ?
		ORDER BY updated_at DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// AppendMessage persists a message and bumps the conversation's
// updated_at timestamp in the same transaction.
func (s *Store) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	if msg.ConversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}

	var toolCallsJSON sql.NullString
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCallsJSON = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_call_id, name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		string(msg.Role),
		msg.Content,
		toolCallsJSON,
		nullableString(msg.ToolCallID),
		nullableString(msg.Name),
		msg.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, s.now().UTC(), msg.ConversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	return tx.Commit()
}

// ClearConversation deletes a conversation's messages. The
// conversation row itself is kept so the scope survives.
func (s *Store) ClearConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}

// ClearUserHistory deletes the messages in a user's conversation
// scope. With a session id only that session is cleared; with an
// empty one, every ambient conversation the user has, on any
// platform. Conversation rows are kept either way.
func (s *Store) ClearUserHistory(ctx context.Context, userID, sessionID string) error {
	query := `
		DELETE FROM messages WHERE conversation_id IN (
			SELECT id FROM conversations WHERE user_id = ? AND session_id IS NULL
		)`
	args := []any{userID}
	if sessionID != "" {
		query = `
		DELETE FROM messages WHERE conversation_id IN (
			SELECT id FROM conversations WHERE user_id = ? AND session_id = ?
		)`
		args = append(args, sessionID)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// RecentActivity lists the most recently active conversations across
// all users, optionally restricted to the given platforms.
func (s *Store) RecentActivity(ctx context.Context, limit int, platforms ...models.Platform) ([]*models.Conversation, error) {
	query := `
		SELECT id, user_id, session_id, platform, created_at, updated_at
		FROM conversations
	`
	args := []any{}

	if len(platforms) > 0 {
		query += " WHERE platform IN (?" + strings.Repeat(", ?", len(platforms)-1) + ")"
		for _, p := range platforms {
			args = append(args, string(p))
		}
	}

	query += " ORDER BY updated_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	defer rows.Close()

	var convs []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	return convs, nil
}

// Messages returns the most recent limit messages of a conversation in
// chronological order. limit <= 0 returns the full history.
func (s *Store) Messages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, tool_calls, tool_call_id, name, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
	`
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func scanConversation(sc scanner) (*models.Conversation, error) {
	var conv models.Conversation
	var sessionID sql.NullString
	var platform string
	err := sc.Scan(
		&conv.ID,
		&conv.UserID,
		&sessionID,
		&platform,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	conv.SessionID = sessionID.String
	conv.Platform = models.Platform(platform)
	return &conv, nil
}

func scanMessage(sc scanner) (*models.Message, error) {
	var msg models.Message
	var role string
	var toolCallsJSON, toolCallID, name sql.NullString

	err := sc.Scan(
		&msg.ID,
		&msg.ConversationID,
		&role,
		&msg.Content,
		&toolCallsJSON,
		&toolCallID,
		&name,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Role = models.Role(role)
	msg.ToolCallID = toolCallID.String
	msg.Name = name.String

	if toolCallsJSON.Valid && toolCallsJSON.String != "" {
		if err := json.Unmarshal([]byte(toolCallsJSON.String), &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("unmarshal tool calls: %w", err)
		}
	}
	return &msg, nil
}
