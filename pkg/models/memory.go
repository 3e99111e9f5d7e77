// Package models defines the core data types for Steward.
package models

import "time"

// MemoryType classifies a stored memory. The set is closed; Valid reports
// whether a value belongs to it.
type MemoryType string

const (
	MemoryTypeCore         MemoryType = "core"
	MemoryTypePreference   MemoryType = "preference"
	MemoryTypeFact         MemoryType = "fact"
	MemoryTypeContext      MemoryType = "context"
	MemoryTypeRelationship MemoryType = "relationship"
	MemoryTypeCustom       MemoryType = "custom"
)

// MemoryTypeOrder is the fixed rendering order for prompt composition.
var MemoryTypeOrder = []MemoryType{
	MemoryTypeCore,
	MemoryTypePreference,
	MemoryTypeFact,
	MemoryTypeContext,
	MemoryTypeRelationship,
	MemoryTypeCustom,
}

// Valid reports whether t is one of the defined memory types.
func (t MemoryType) Valid() bool {
	switch t {
	case MemoryTypeCore, MemoryTypePreference, MemoryTypeFact, MemoryTypeContext, MemoryTypeRelationship, MemoryTypeCustom:
		return true
	}
	return false
}

// Memory is a typed (user, key) → value fact persisting across
// conversations. Memories are re-asserted, not versioned: a second Set
// for the same (user, type, key) replaces the first.
type Memory struct {
	UserID     string     `json:"user_id"`
	Type       MemoryType `json:"type"`
	Key        string     `json:"key"`
	Value      string     `json:"value"`
	Confidence float64    `json:"confidence"` // clamped to [0, 1]
	Source     string     `json:"source,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
