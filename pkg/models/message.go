package models

import (
	"encoding/json"
	"time"
)

// Platform identifies a message source or sink. The core treats platform
// names as opaque routing keys; adapters register under whatever name they
// answer to.
type Platform string

const (
	PlatformCLI Platform = "cli"
	PlatformAPI Platform = "api"
	PlatformWeb Platform = "web"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a conversation. Assistant messages may carry
// tool calls; tool messages answer one of them via ToolCallID and carry
// the tool's name for providers that require it.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Role           Role         `json:"role"`
	Content        string       `json:"content"`
	ToolCalls      []ToolCall   `json:"tool_calls,omitempty"`
	ToolCallID     string       `json:"tool_call_id,omitempty"`
	Name           string       `json:"name,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ToolCall represents a model's request to execute a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name,omitempty"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolDef is the wire-level tool descriptor handed to model clients:
// a name, a human description, and a JSON-Schema object describing the
// parameters. The schema is authored, never derived from Go types.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// Attachment represents a media payload attached to a message. URLs may
// be remote or base64 data URLs.
type Attachment struct {
	Type     string `json:"type"` // image, audio, document
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Conversation is the ordered message sequence for one user in one
// (platform, session) scope. SessionID is empty for a user's default
// conversation on a platform.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
	Platform  Platform  `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
