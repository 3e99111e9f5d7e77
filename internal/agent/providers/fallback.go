package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/haasonsaas/steward/internal/agent"
	"github.com/haasonsaas/steward/pkg/models"
)

// Fallback wraps a provider with prompt-based tool calling. Requests
// pass through untouched until the backing model refuses structured
// tool definitions; the request is then reissued with the tool catalog
// written into the system prompt and the reply is scanned for
// <tool_call> blocks. Refusals are remembered per model, so later
// requests take the prompt path immediately.
type Fallback struct {
	inner agent.LLMProvider

	mu      sync.RWMutex
	refused map[string]struct{}
}

var _ agent.LLMProvider = (*Fallback)(nil)

// NewFallback wraps inner with prompt-based tool calling.
func NewFallback(inner agent.LLMProvider) *Fallback {
	return &Fallback{
		inner:   inner,
		refused: make(map[string]struct{}),
	}
}

// Name returns the wrapped provider's name.
func (f *Fallback) Name() string {
	return f.inner.Name()
}

// Models returns the wrapped provider's models.
func (f *Fallback) Models() []agent.Model {
	return f.inner.Models()
}

// SupportsTools always reports true: models that cannot take native
// definitions are served through the prompt path instead.
func (f *Fallback) SupportsTools(model string) bool {
	return true
}

// Complete sends the request natively when possible, switching to
// prompt-based tool calling on a refusal.
func (f *Fallback) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if req == nil || len(req.Tools) == 0 {
		return f.inner.Complete(ctx, req)
	}

	if f.refusedNative(req.Model) || !f.inner.SupportsTools(req.Model) {
		return f.promptComplete(ctx, req)
	}

	chunks, err := f.inner.Complete(ctx, req)
	if err != nil {
		if IsToolRejection(err) {
			f.markRefused(req.Model)
			return f.promptComplete(ctx, req)
		}
		return nil, err
	}

	// Providers that start streaming before validating deliver the
	// refusal as the first chunk instead of an immediate error.
	first, ok := <-chunks
	if ok && first != nil && first.Error != nil && IsToolRejection(first.Error) {
		for range chunks {
		}
		f.markRefused(req.Model)
		return f.promptComplete(ctx, req)
	}

	out := make(chan *agent.CompletionChunk)
	go func() {
		defer close(out)
		if ok {
			out <- first
		}
		for chunk := range chunks {
			out <- chunk
		}
	}()
	return out, nil
}

// promptComplete reissues the request with prompt-based tool calling.
// The reply must be seen whole before tags can be stripped, so prompt
// mode buffers the text and emits it as a single chunk.
func (f *Fallback) promptComplete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	promptReq := &agent.CompletionRequest{
		Model:     req.Model,
		System:    joinSystem(promptToolInstructions(req.Tools), req.System),
		Messages:  flattenToolTraffic(req.Messages),
		MaxTokens: req.MaxTokens,
	}

	inner, err := f.inner.Complete(ctx, promptReq)
	if err != nil {
		return nil, err
	}

	out := make(chan *agent.CompletionChunk)
	go func() {
		defer close(out)

		var text strings.Builder
		var inputTokens, outputTokens int
		for chunk := range inner {
			if chunk == nil {
				continue
			}
			if chunk.Error != nil {
				out <- chunk
				for range inner {
				}
				return
			}
			if chunk.Text != "" {
				text.WriteString(chunk.Text)
			}
			if chunk.ToolCall != nil {
				// Some runtimes answer natively even in prompt mode.
				out <- chunk
			}
			if chunk.InputTokens > 0 {
				inputTokens = chunk.InputTokens
			}
			if chunk.OutputTokens > 0 {
				outputTokens = chunk.OutputTokens
			}
		}

		cleaned, calls := ExtractToolCalls(text.String())
		if cleaned != "" {
			out <- &agent.CompletionChunk{Text: cleaned}
		}
		for i := range calls {
			out <- &agent.CompletionChunk{ToolCall: &calls[i]}
		}
		out <- &agent.CompletionChunk{
			Done:         true,
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
		}
	}()
	return out, nil
}

func (f *Fallback) refusedNative(model string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.refused[f.refusalKey(model)]
	return ok
}

func (f *Fallback) markRefused(model string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refused[f.refusalKey(model)] = struct{}{}
}

func (f *Fallback) refusalKey(model string) string {
	return f.inner.Name() + "/" + model
}

// promptToolInstructions renders the tool catalog and the calling
// convention as a system prompt block.
func promptToolInstructions(defs []models.ToolDef) string {
	var b strings.Builder
	b.WriteString("You have access to the following tools:\n\n")
	for _, def := range defs {
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
		if len(def.Schema) > 0 {
			fmt.Fprintf(&b, "  Parameters: %s\n", string(def.Schema))
		}
	}
	b.WriteString("\nTo call a tool, reply with one block per call, exactly in this form:\n")
	b.WriteString(`<tool_call>{"name":"tool_name","arguments":{"param":"value"}}</tool_call>`)
	b.WriteString("\n\nOnly call tools from the list above. When no tool is needed, reply with plain text.")
	return b.String()
}

func joinSystem(instructions, system string) string {
	if strings.TrimSpace(system) == "" {
		return instructions
	}
	return instructions + "\n\n" + system
}

// flattenToolTraffic rewrites tool structures into plain text so the
// transcript stays valid for a model that never negotiated native
// calls. Assistant tool calls are rendered in the tag format the model
// is instructed to use; tool results become user messages.
func flattenToolTraffic(messages []agent.CompletionMessage) []agent.CompletionMessage {
	result := make([]agent.CompletionMessage, 0, len(messages))
	for _, msg := range messages {
		switch {
		case msg.Role == models.RoleAssistant && len(msg.ToolCalls) > 0:
			var b strings.Builder
			if msg.Content != "" {
				b.WriteString(msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				payload, err := json.Marshal(struct {
					Name      string          `json:"name"`
					Arguments json.RawMessage `json:"arguments"`
				}{Name: tc.Name, Arguments: tc.Arguments})
				if err != nil {
					continue
				}
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				fmt.Fprintf(&b, "<tool_call>%s</tool_call>", payload)
			}
			result = append(result, agent.CompletionMessage{
				Role:    models.RoleAssistant,
				Content: b.String(),
			})

		case msg.Role == models.RoleTool:
			if len(msg.ToolResults) == 0 {
				result = append(result, agent.CompletionMessage{
					Role:    models.RoleUser,
					Content: msg.Content,
				})
				continue
			}
			for _, tr := range msg.ToolResults {
				name := tr.Name
				if name == "" {
					name = "tool"
				}
				verb := "returned"
				if tr.IsError {
					verb = "failed with"
				}
				result = append(result, agent.CompletionMessage{
					Role:    models.RoleUser,
					Content: fmt.Sprintf("%s %s: %s", name, verb, tr.Content),
				})
			}

		default:
			result = append(result, msg)
		}
	}
	return result
}

var toolCallPattern = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)

// ExtractToolCalls scans free text for <tool_call> blocks and returns
// the text with all blocks stripped plus the parsed calls. Call ids
// are synthesized per reply as call_0, call_1, and so on. Blocks whose
// payload does not parse are skipped so the surrounding prose still
// reaches the user; the tags themselves are always removed.
func ExtractToolCalls(text string) (string, []models.ToolCall) {
	matches := toolCallPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	var calls []models.ToolCall
	for _, match := range matches {
		call, ok := parseToolCallPayload(strings.TrimSpace(match[1]), len(calls))
		if !ok {
			continue
		}
		calls = append(calls, call)
	}

	cleaned := strings.TrimSpace(toolCallPattern.ReplaceAllString(text, ""))
	return cleaned, calls
}

// parseToolCallPayload parses one tag payload. The strict pass uses
// encoding/json; a lenient json5 pass follows so single quotes,
// unquoted keys, and trailing commas from smaller models still parse.
func parseToolCallPayload(payload string, index int) (models.ToolCall, bool) {
	id := fmt.Sprintf("call_%d", index)

	var strict struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(payload), &strict); err == nil && strict.Name != "" {
		args := strict.Arguments
		if len(args) == 0 || string(args) == "null" {
			args = json.RawMessage(`{}`)
		}
		return models.ToolCall{ID: id, Name: strict.Name, Arguments: args}, true
	}

	var lenient map[string]any
	if err := json5.Unmarshal([]byte(payload), &lenient); err != nil {
		return models.ToolCall{}, false
	}
	name, _ := lenient["name"].(string)
	if name == "" {
		return models.ToolCall{}, false
	}
	args := json.RawMessage(`{}`)
	if rawArgs, ok := lenient["arguments"]; ok && rawArgs != nil {
		if encoded, err := json.Marshal(rawArgs); err == nil {
			args = encoded
		}
	}
	return models.ToolCall{ID: id, Name: name, Arguments: args}, true
}
