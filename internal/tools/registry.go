package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/steward/pkg/models"
)

var (
	// ErrDuplicateTool is returned when registering a name twice.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrToolNotFound is returned when dispatching an unknown name.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidArguments is returned when a call's arguments fail
	// schema validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// maxArgsSize caps tool argument payloads (10MB).
const maxArgsSize = 10 << 20

// Registry holds registered tools with thread-safe lookup and
// dispatch. Argument schemas are compiled once at registration and
// every call is validated before the tool runs.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  slog.Default().With("component", "tools"),
	}
}

// SetLogger replaces the registry logger.
func (r *Registry) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Register adds a tool. Names must be unique; a second registration
// under the same name fails with ErrDuplicateTool.
func (r *Registry) Register(tool Tool) error {
	desc := tool.Descriptor()
	if desc.Name == "" {
		return fmt.Errorf("tool name is required")
	}

	var schema *jsonschema.Schema
	if len(desc.Schema) > 0 {
		compiled, err := jsonschema.CompileString(desc.Name+".schema.json", string(desc.Schema))
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", desc.Name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[desc.Name]; exists {
		return fmt.Errorf("%s: %w", desc.Name, ErrDuplicateTool)
	}
	r.tools[desc.Name] = tool
	r.schemas[desc.Name] = schema
	return nil
}

// RegisterProvider registers every tool a provider supplies.
func (r *Registry) RegisterProvider(p Provider) error {
	for _, tool := range p.Tools() {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Descriptor().Name < out[j].Descriptor().Name
	})
	return out
}

// Defs returns the wire descriptors handed to model clients, sorted
// by name so prompts stay stable across runs.
func (r *Registry) Defs() []models.ToolDef {
	tools := r.List()
	defs := make([]models.ToolDef, 0, len(tools))
	for _, tool := range tools {
		desc := tool.Descriptor()
		defs = append(defs, models.ToolDef{
			Name:        desc.Name,
			Description: desc.Description,
			Schema:      desc.Schema,
		})
	}
	return defs
}

// Execute validates args against the tool's schema and runs it.
// Unknown names, oversized or schema-invalid arguments, and tool
// faults all surface as errors; the caller decides how to fold them
// into the conversation.
func (r *Registry) Execute(ctx context.Context, name, userID string, args json.RawMessage) (string, error) {
	if len(args) > maxArgsSize {
		return "", fmt.Errorf("arguments for %s exceed %d bytes", name, maxArgsSize)
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%s: %w", name, ErrToolNotFound)
	}

	if schema != nil {
		payload := args
		if len(payload) == 0 {
			payload = json.RawMessage(`{}`)
		}
		var decoded any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return "", fmt.Errorf("%w: arguments for %s are not valid JSON: %v", ErrInvalidArguments, name, err)
		}
		if err := schema.Validate(decoded); err != nil {
			return "", fmt.Errorf("%w: arguments for %s rejected: %v", ErrInvalidArguments, name, err)
		}
	}

	start := time.Now()
	result, err := tool.Execute(ctx, userID, args)
	elapsed := time.Since(start)
	if err != nil {
		r.logger.Warn("tool failed", "tool", name, "duration_ms", elapsed.Milliseconds(), "error", err)
		return "", err
	}
	r.logger.Debug("tool executed", "tool", name, "duration_ms", elapsed.Milliseconds())
	return result, nil
}
