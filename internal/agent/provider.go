package agent

import (
	"context"

	"github.com/haasonsaas/steward/pkg/models"
)

// LLMProvider is the interface to model backends.
//
// Implementations handle the specifics of one completion API
// (Anthropic, OpenAI-compatible, Ollama) while presenting a unified
// streaming interface to the orchestrator. Implementations must be
// safe for concurrent use; the agent may run several chats at once.
type LLMProvider interface {
	// Complete sends a request and returns a streaming response. The
	// channel is closed when the response is finished; a terminal
	// failure is delivered as a chunk with Error set.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name for logging and refusal caching.
	Name() string

	// Models returns the models this provider can serve.
	Models() []Model

	// SupportsTools reports whether the model accepts native
	// structured tool definitions. When false the caller should use
	// prompt-based tool calling from the start.
	SupportsTools(model string) bool
}

// CompletionRequest carries one model call: conversation history,
// system prompt, available tools, and generation limits.
type CompletionRequest struct {
	// Model is the model to use; empty means the provider default.
	Model string `json:"model"`

	// System sets the assistant's behavior. Handled separately from
	// messages because most APIs do.
	System string `json:"system,omitempty"`

	// Messages is the conversation in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools the model may call. Empty disables tool calling.
	Tools []models.ToolDef `json:"tools,omitempty"`

	// MaxTokens caps the response length; 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionMessage is one message in a completion request.
// Role is one of user, assistant, system, tool.
type CompletionMessage struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content,omitempty"`

	// ToolCalls carries the assistant's tool requests.
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// ToolResults carries results answering earlier tool calls.
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`

	// Attachments carries image payloads for vision models.
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// CompletionChunk is one unit of a streaming response. Exactly one of
// Text, ToolCall, Done, or Error is meaningful per chunk; usage counts
// ride on the final chunk.
type CompletionChunk struct {
	// Text is a partial content delta.
	Text string `json:"text,omitempty"`

	// ToolCall is a complete tool request from the model.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done marks successful stream completion.
	Done bool `json:"done,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`

	// InputTokens and OutputTokens report usage on the final chunk.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes one servable model and its capabilities.
type Model struct {
	// ID is the API identifier, e.g. "claude-sonnet-4-20250514".
	ID string `json:"id"`

	// Name is the human-readable name.
	Name string `json:"name"`

	// ContextSize is the context window in tokens.
	ContextSize int `json:"context_size"`

	// SupportsVision reports whether the model accepts images.
	SupportsVision bool `json:"supports_vision"`
}
