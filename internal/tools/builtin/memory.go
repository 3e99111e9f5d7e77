package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/steward/internal/memory"
	"github.com/haasonsaas/steward/internal/store"
	"github.com/haasonsaas/steward/internal/tools"
	"github.com/haasonsaas/steward/pkg/models"
)

// MemoryProvider lets the model persist and retrieve per-user facts.
type MemoryProvider struct {
	manager *memory.Manager
}

// NewMemoryProvider creates the memory provider.
func NewMemoryProvider(m *memory.Manager) *MemoryProvider {
	return &MemoryProvider{manager: m}
}

// Tools implements tools.Provider.
func (p *MemoryProvider) Tools() []tools.Tool {
	return []tools.Tool{p.rememberTool(), p.recallTool()}
}

func (p *MemoryProvider) rememberTool() tools.Tool {
	return tools.Func{
		Desc: tools.Descriptor{
			Name:        "remember",
			Description: "Store a fact about the user for future conversations. Re-asserting an existing key updates it.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"type": {
						"type": "string",
						"enum": ["core", "preference", "fact", "context", "relationship", "custom"],
						"description": "What kind of memory this is (default custom)"
					},
					"key": {
						"type": "string",
						"description": "Short identifier, e.g. 'coffee_order'"
					},
					"value": {
						"type": "string",
						"description": "The fact to remember"
					},
					"confidence": {
						"type": "number",
						"minimum": 0,
						"maximum": 1,
						"description": "How certain the fact is (default 1.0)"
					}
				},
				"required": ["key", "value"]
			}`),
		},
		Fn: p.remember,
	}
}

func (p *MemoryProvider) remember(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var input struct {
		Type       string  `json:"type"`
		Key        string  `json:"key"`
		Value      string  `json:"value"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("parse input: %w", err)
	}

	mem := &models.Memory{
		UserID:     userID,
		Type:       models.MemoryType(input.Type),
		Key:        input.Key,
		Value:      input.Value,
		Confidence: input.Confidence,
		Source:     "conversation",
	}
	if err := p.manager.Save(ctx, mem); err != nil {
		return "", fmt.Errorf("save memory: %w", err)
	}
	return fmt.Sprintf("Remembered %s %q = %q.", mem.Type, mem.Key, mem.Value), nil
}

func (p *MemoryProvider) recallTool() tools.Tool {
	return tools.Func{
		Desc: tools.Descriptor{
			Name:        "recall",
			Description: "Look up stored facts about the user, by key, by type, or everything.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"key": {
						"type": "string",
						"description": "Exact key to look up"
					},
					"type": {
						"type": "string",
						"enum": ["core", "preference", "fact", "context", "relationship", "custom"],
						"description": "Restrict to one memory type"
					}
				}
			}`),
		},
		Fn: p.recall,
	}
}

func (p *MemoryProvider) recall(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	input := struct {
		Key  string `json:"key"`
		Type string `json:"type"`
	}{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return "", fmt.Errorf("parse input: %w", err)
		}
	}

	switch {
	case input.Key != "" && input.Type != "":
		mem, err := p.manager.Get(ctx, userID, models.MemoryType(input.Type), input.Key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Sprintf("Nothing stored under %s %q.", input.Type, input.Key), nil
			}
			return "", fmt.Errorf("recall memory: %w", err)
		}
		return formatMemories([]*models.Memory{mem}), nil

	case input.Key != "":
		all, err := p.manager.All(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("recall memories: %w", err)
		}
		var matched []*models.Memory
		for _, mem := range all {
			if mem.Key == input.Key {
				matched = append(matched, mem)
			}
		}
		if len(matched) == 0 {
			return fmt.Sprintf("Nothing stored under %q.", input.Key), nil
		}
		return formatMemories(matched), nil

	case input.Type != "":
		typed, err := p.manager.ByType(ctx, userID, models.MemoryType(input.Type))
		if err != nil {
			return "", fmt.Errorf("recall memories: %w", err)
		}
		if len(typed) == 0 {
			return fmt.Sprintf("No %s memories stored.", input.Type), nil
		}
		return formatMemories(typed), nil

	default:
		all, err := p.manager.All(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("recall memories: %w", err)
		}
		if len(all) == 0 {
			return "I have no memories stored for you yet.", nil
		}
		return formatMemories(all), nil
	}
}

func formatMemories(memories []*models.Memory) string {
	var b strings.Builder
	for _, mem := range memories {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", mem.Type, mem.Key, mem.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}
