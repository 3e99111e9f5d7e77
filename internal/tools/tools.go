// Package tools defines the capability contract between the agent and
// its tools: a typed descriptor, an execution interface, and a
// registry that validates arguments and dispatches calls by name.
package tools

import (
	"context"
	"encoding/json"
)

// Descriptor declares a tool's capability to the model.
type Descriptor struct {
	// Name uniquely identifies the tool for model function calling.
	// Must be alphanumeric with underscores.
	Name string `json:"name"`

	// Description tells the model what the tool does and when to use it.
	Description string `json:"description"`

	// Schema is the JSON Schema object describing the tool arguments
	// (properties, required). Authored by hand, never derived.
	Schema json.RawMessage `json:"schema"`

	// RequiresApproval routes every call through the approval arbiter
	// before execution.
	RequiresApproval bool `json:"requires_approval,omitempty"`
}

// Tool is a capability the agent can invoke on behalf of a user.
//
// Execute receives the id of the user the call is made for and the
// raw JSON arguments, already validated against the descriptor schema.
// Operational faults should be returned as errors; the orchestrator
// folds them into the tool result so the model can react.
type Tool interface {
	Descriptor() Descriptor
	Execute(ctx context.Context, userID string, args json.RawMessage) (string, error)
}

// Func adapts a plain function to the Tool interface.
type Func struct {
	Desc Descriptor
	Fn   func(ctx context.Context, userID string, args json.RawMessage) (string, error)
}

// Descriptor implements Tool.
func (f Func) Descriptor() Descriptor { return f.Desc }

// Execute implements Tool.
func (f Func) Execute(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	return f.Fn(ctx, userID, args)
}

// Provider supplies a related set of tools for registration. The
// orchestrator accepts providers rather than constructing tools, so
// it never imports concrete tool packages.
type Provider interface {
	Tools() []Tool
}
