package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/steward/pkg/models"
)

// auditResultLimit caps the stored result of an audited tool call.
const auditResultLimit = 10000

// ToolExecution is one audited tool call.
type ToolExecution struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Platform  models.Platform `json:"platform"`
	Tool      string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result,omitempty"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	Duration  time.Duration   `json:"duration"`
	CreatedAt time.Time       `json:"created_at"`
}

// RecordToolExecution appends a tool call to the audit trail. The
// result text is truncated to 10000 characters.
func (s *Store) RecordToolExecution(ctx context.Context, exec *ToolExecution) error {
	if exec == nil {
		return fmt.Errorf("execution is required")
	}
	if exec.Tool == "" {
		return fmt.Errorf("tool name is required")
	}
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_executions (id, user_id, platform, tool_name, arguments, result, success, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		exec.ID,
		exec.UserID,
		string(exec.Platform),
		exec.Tool,
		argumentsJSON(exec.Arguments),
		nullableString(truncate(exec.Result, auditResultLimit)),
		boolToInt(exec.Success),
		nullableString(exec.Error),
		exec.Duration.Milliseconds(),
		exec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record tool execution: %w", err)
	}
	return nil
}

// ToolExecutions lists a user's audited tool calls, most recent first.
func (s *Store) ToolExecutions(ctx context.Context, userID string, limit int) ([]*ToolExecution, error) {
	query := `
		SELECT id, user_id, platform, tool_name, arguments, result, success, error, duration_ms, created_at
		FROM tool_executions
		WHERE user_id = ?
		ORDER BY created_at DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tool executions: %w", err)
	}
	defer rows.Close()

	var execs []*ToolExecution
	for rows.Next() {
		exec, err := scanToolExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tool execution: %w", err)
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tool executions: %w", err)
	}
	return execs, nil
}

// ApprovalRecord is the stored outcome of a payment approval request.
type ApprovalRecord struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"user_id"`
	Tool        string                 `json:"tool_name"`
	Description string                 `json:"description,omitempty"`
	Amount      *float64               `json:"amount,omitempty"`
	Outcome     models.ApprovalOutcome `json:"outcome"`
	CreatedAt   time.Time              `json:"created_at"`
	ResolvedAt  time.Time              `json:"resolved_at"`
}

// RecordApproval stores the resolved outcome of an approval request.
func (s *Store) RecordApproval(ctx context.Context, rec *ApprovalRecord) error {
	if rec == nil {
		return fmt.Errorf("approval record is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.ResolvedAt.IsZero() {
		rec.ResolvedAt = s.now().UTC()
	}

	var amount sql.NullFloat64
	if rec.Amount != nil {
		amount = sql.NullFloat64{Float64: *rec.Amount, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_approvals (id, user_id, tool_name, description, amount, outcome, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.UserID,
		rec.Tool,
		nullableString(rec.Description),
		amount,
		string(rec.Outcome),
		rec.CreatedAt.UTC(),
		rec.ResolvedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record approval: %w", err)
	}
	return nil
}

// Approvals lists a user's approval history, most recent first.
func (s *Store) Approvals(ctx context.Context, userID string, limit int) ([]*ApprovalRecord, error) {
	query := `
		SELECT id, user_id, tool_name, description, amount, outcome, created_at, resolved_at
		FROM payment_approvals
		WHERE user_id = ?
		ORDER BY resolved_at DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var records []*ApprovalRecord
	for rows.Next() {
		var rec ApprovalRecord
		var description sql.NullString
		var amount sql.NullFloat64
		var outcome string

		err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&rec.Tool,
			&description,
			&amount,
			&outcome,
			&rec.CreatedAt,
			&rec.ResolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}

		rec.Description = description.String
		rec.Outcome = models.ApprovalOutcome(outcome)
		if amount.Valid {
			rec.Amount = &amount.Float64
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	return records, nil
}

func scanToolExecution(sc scanner) (*ToolExecution, error) {
	var exec ToolExecution
	var platform string
	var arguments, result, errMsg sql.NullString
	var success int
	var durationMS int64

	err := sc.Scan(
		&exec.ID,
		&exec.UserID,
		&platform,
		&exec.Tool,
		&arguments,
		&result,
		&success,
		&errMsg,
		&durationMS,
		&exec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.Platform = models.Platform(platform)
	exec.Success = success != 0
	exec.Result = result.String
	exec.Error = errMsg.String
	exec.Duration = time.Duration(durationMS) * time.Millisecond
	if arguments.Valid && arguments.String != "" {
		exec.Arguments = []byte(arguments.String)
	}
	return &exec, nil
}
