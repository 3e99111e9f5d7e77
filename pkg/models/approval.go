package models

import (
	"encoding/json"
	"time"
)

// Approval is a pending request for user confirmation before a sensitive
// tool runs. Approvals are transient: they live in memory until resolved
// by approve/deny or timeout, after which only the outcome is recorded.
type Approval struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Tool        string          `json:"tool_name"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
	Amount      *float64        `json:"amount,omitempty"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// ApprovalOutcome records how a pending approval was resolved.
type ApprovalOutcome string

const (
	ApprovalApproved ApprovalOutcome = "approved"
	ApprovalDenied   ApprovalOutcome = "denied"
	ApprovalExpired  ApprovalOutcome = "expired"
)
