package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/haasonsaas/steward/pkg/models"
)

// LogFailure records a tool failure. When an unresolved failure with
// the same (tool, kind) pair already exists it is coalesced: the
// occurrence count is bumped and the timestamp, error text, and
// arguments are refreshed. Returns the id of the stored row.
func (s *Store) LogFailure(ctx context.Context, f *models.Failure) (string, error) {
	if f == nil {
		return "", fmt.Errorf("failure is required")
	}
	if f.Tool == "" || f.Kind == "" {
		return "", fmt.Errorf("tool name and error kind are required")
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = s.now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	var existingID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM failures
		WHERE tool_name = ? AND error_kind = ? AND resolved = 0
	`, f.Tool, f.Kind).Scan(&existingID)

	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx, `
			UPDATE failures
			SET occurrence_count = occurrence_count + 1,
			    timestamp = ?,
			    error_text = ?,
			    arguments = ?
			WHERE id = ?
		`, f.Timestamp.UTC(), f.Text, argumentsJSON(f.Arguments), existingID)
		if err != nil {
			return "", fmt.Errorf("coalesce failure: %w", err)
		}
		f.ID = existingID

	case errors.Is(err, sql.ErrNoRows):
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		if f.Occurrences == 0 {
			f.Occurrences = 1
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO failures (id, timestamp, tool_name, error_kind, error_text, arguments,
			                      user_id, platform, occurrence_count, resolved, resolution_notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL)
		`,
			f.ID,
			f.Timestamp.UTC(),
			f.Tool,
			f.Kind,
			f.Text,
			argumentsJSON(f.Arguments),
			nullableString(f.UserID),
			nullableString(string(f.Platform)),
			f.Occurrences,
		)
		if err != nil {
			return "", fmt.Errorf("insert failure: %w", err)
		}

	default:
		return "", fmt.Errorf("look up failure: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit failure: %w", err)
	}
	return f.ID, nil
}

// FailureFilter narrows Failures listings.
type FailureFilter struct {
	// Resolved filters by resolution state when non-nil.
	Resolved *bool
	// Tool filters by tool name when non-empty.
	Tool string
	// Limit caps the number of rows; 0 means no cap.
	Limit int
}

// Failures lists recorded failures, most recent first.
func (s *Store) Failures(ctx context.Context, filter FailureFilter) ([]*models.Failure, error) {
	query := `
		SELECT id, timestamp, tool_name, error_kind, error_text, arguments,
		       user_id, platform, occurrence_count, resolved, resolution_notes
		FROM failures WHERE 1=1
	`
	args := []any{}

	if filter.Resolved != nil {
		query += " AND resolved = ?"
		args = append(args, boolToInt(*filter.Resolved))
	}
	if filter.Tool != "" {
		query += " AND tool_name = ?"
		args = append(args, filter.Tool)
	}

	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	var failures []*models.Failure
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	return failures, nil
}

// FailureByID retrieves a single failure record.
func (s *Store) FailureByID(ctx context.Context, id string) (*models.Failure, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, timestamp, tool_name, error_kind, error_text, arguments,
		       user_id, platform, occurrence_count, resolved, resolution_notes
		FROM failures WHERE id = ?
	`, id)

	f, err := scanFailure(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get failure: %w", err)
	}
	return f, nil
}

// ResolveFailure marks a failure resolved with optional notes. Once
// resolved, new occurrences of the same (tool, kind) start a fresh row.
func (s *Store) ResolveFailure(ctx context.Context, id, notes string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE failures SET resolved = 1, resolution_notes = ? WHERE id = ?
	`, nullableString(notes), id)
	if err != nil {
		return fmt.Errorf("resolve failure: %w", err)
	}
	return requireRow(result)
}

// FailureSummary aggregates failure counts for reporting: totals by
// resolution state plus the most frequent tools and error kinds among
// unresolved failures.
func (s *Store) FailureSummary(ctx context.Context) (*models.FailureSummary, error) {
	summary := &models.FailureSummary{}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN resolved = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN resolved = 1 THEN 1 ELSE 0 END), 0)
		FROM failures
	`).Scan(&summary.Unresolved, &summary.Resolved)
	if err != nil {
		return nil, fmt.Errorf("summarize failures: %w", err)
	}

	topTools, err := s.failureCounts(ctx, `
		SELECT tool_name, SUM(occurrence_count) AS total
		FROM failures WHERE resolved = 0
		GROUP BY tool_name ORDER BY total DESC LIMIT 5
	`)
	if err != nil {
		return nil, err
	}
	summary.TopTools = topTools

	topKinds, err := s.failureCounts(ctx, `
		SELECT error_kind, SUM(occurrence_count) AS total
		FROM failures WHERE resolved = 0
		GROUP BY error_kind ORDER BY total DESC LIMIT 5
	`)
	if err != nil {
		return nil, err
	}
	summary.TopKinds = topKinds

	return summary, nil
}

func (s *Store) failureCounts(ctx context.Context, query string) ([]models.FailureCount, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count failures: %w", err)
	}
	defer rows.Close()

	var counts []models.FailureCount
	for rows.Next() {
		var c models.FailureCount
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, fmt.Errorf("scan failure count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count failures: %w", err)
	}
	return counts, nil
}

func scanFailure(sc scanner) (*models.Failure, error) {
	var f models.Failure
	var arguments, userID, platform, notes sql.NullString
	var resolved int

	err := sc.Scan(
		&f.ID,
		&f.Timestamp,
		&f.Tool,
		&f.Kind,
		&f.Text,
		&arguments,
		&userID,
		&platform,
		&f.Occurrences,
		&resolved,
		&notes,
	)
	if err != nil {
		return nil, err
	}

	if arguments.Valid && arguments.String != "" {
		f.Arguments = []byte(arguments.String)
	}
	f.UserID = userID.String
	f.Platform = models.Platform(platform.String)
	f.Resolved = resolved != 0
	f.ResolutionNotes = notes.String
	return &f, nil
}

func argumentsJSON(raw []byte) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
