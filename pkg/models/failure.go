package models

import (
	"encoding/json"
	"time"
)

// Failure is an aggregated entry in the failure log. While unresolved,
// repeat failures for the same (tool, error kind) coalesce onto one
// record: Occurrences grows and Timestamp/Text refresh to the latest.
type Failure struct {
	ID              string          `json:"id"`
	Timestamp       time.Time       `json:"timestamp"`
	Tool            string          `json:"tool_name"`
	Kind            string          `json:"error_kind"`
	Text            string          `json:"error_text"`
	Arguments       json.RawMessage `json:"arguments,omitempty"`
	UserID          string          `json:"user_id,omitempty"`
	Platform        Platform        `json:"platform,omitempty"`
	Occurrences     int             `json:"occurrence_count"`
	Resolved        bool            `json:"resolved"`
	ResolutionNotes string          `json:"resolution_notes,omitempty"`
}

// FailureCount pairs a name (tool or error kind) with its failure count.
type FailureCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// FailureSummary aggregates the failure log for the self-healing tools:
// unresolved/resolved totals plus the top failing tools and error kinds.
type FailureSummary struct {
	Unresolved int            `json:"unresolved"`
	Resolved   int            `json:"resolved"`
	TopTools   []FailureCount `json:"top_tools,omitempty"`
	TopKinds   []FailureCount `json:"top_kinds,omitempty"`
}
