package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/haasonsaas/steward/internal/agent"
	"github.com/haasonsaas/steward/pkg/models"
)

func TestNewOllama_Defaults(t *testing.T) {
	p := NewOllama(OllamaConfig{})
	if p.baseURL != "http://localhost:11434" {
		t.Errorf("baseURL = %q, want local default", p.baseURL)
	}
	if p.client.Timeout != 2*time.Minute {
		t.Errorf("timeout = %v, want 2m", p.client.Timeout)
	}

	p = NewOllama(OllamaConfig{BaseURL: "http://box:11434/ ", Timeout: time.Second})
	if p.baseURL != "http://box:11434" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", p.baseURL)
	}
}

func TestOllamaSupportsTools(t *testing.T) {
	p := NewOllama(OllamaConfig{})
	tests := []struct {
		model string
		want  bool
	}{
		{"llama3.2", true},
		{"llama3.2:3b", true},
		{"qwen2.5:7b", true},
		{"mistral-nemo", true},
		{"llava", false},
		{"llava:13b", false},
		{"LLaVA:13B", false},
		{"gemma2:9b", false},
		{"phi3:mini", false},
		{"moondream", false},
		{"some-new-model", true},
	}
	for _, tt := range tests {
		if got := p.SupportsTools(tt.model); got != tt.want {
			t.Errorf("SupportsTools(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestOllamaModels_VisionFlag(t *testing.T) {
	if got := NewOllama(OllamaConfig{}).Models(); got != nil {
		t.Fatalf("Models() without a default = %v, want nil", got)
	}

	withVision := NewOllama(OllamaConfig{DefaultModel: "llava:13b"}).Models()
	if len(withVision) != 1 || !withVision[0].SupportsVision {
		t.Fatalf("llava Models() = %+v, want one vision-capable entry", withVision)
	}

	plain := NewOllama(OllamaConfig{DefaultModel: "llama3.2"}).Models()
	if len(plain) != 1 || plain[0].SupportsVision {
		t.Fatalf("llama3.2 Models() = %+v, want one non-vision entry", plain)
	}
}

func TestBuildOllamaMessages_ToolCallsAndResults(t *testing.T) {
	req := &agent.CompletionRequest{
		System: "sys",
		Messages: []agent.CompletionMessage{
			{Role: models.RoleUser, Content: "hi"},
			{
				Role: models.RoleAssistant,
				ToolCalls: []models.ToolCall{
					{ID: "call-1", Name: "lookup", Arguments: json.RawMessage(`{"q":"test"}`)},
				},
			},
			{
				Role: models.RoleTool,
				ToolResults: []models.ToolResult{
					{ToolCallID: "call-1", Name: "lookup", Content: "ok"},
				},
			},
		},
	}

	msgs := buildOllamaMessages(req)
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "sys" {
		t.Fatalf("system message mismatch: %+v", msgs[0])
	}
	if msgs[2].Role != "assistant" || len(msgs[2].ToolCalls) != 1 {
		t.Fatalf("assistant tool calls missing: %+v", msgs[2])
	}
	if msgs[2].ToolCalls[0].Function.Name != "lookup" {
		t.Errorf("tool name = %q, want %q", msgs[2].ToolCalls[0].Function.Name, "lookup")
	}
	if string(msgs[2].ToolCalls[0].Function.Arguments) != `{"q":"test"}` {
		t.Errorf("tool args = %s, want %s", string(msgs[2].ToolCalls[0].Function.Arguments), `{"q":"test"}`)
	}
	if msgs[3].Role != "tool" || msgs[3].ToolName != "lookup" || msgs[3].Content != "ok" {
		t.Errorf("tool result message mismatch: %+v", msgs[3])
	}
}

func TestBuildOllamaMessages_ResultNameFallsBackToCallID(t *testing.T) {
	req := &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{
			{
				Role: models.RoleAssistant,
				ToolCalls: []models.ToolCall{
					{ID: "call-7", Name: "weather", Arguments: json.RawMessage(`{}`)},
				},
			},
			{
				Role: models.RoleTool,
				ToolResults: []models.ToolResult{
					{ToolCallID: "call-7", Content: "sunny"},
				},
			},
		},
	}

	msgs := buildOllamaMessages(req)
	if msgs[1].ToolName != "weather" {
		t.Errorf("ToolName = %q, want recovered from the call id", msgs[1].ToolName)
	}
}

func TestBuildOllamaMessages_ImagesFromDataURLs(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("fake-png"))
	req := &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{
			{
				Role:    models.RoleUser,
				Content: "what is this?",
				Attachments: []models.Attachment{
					{Type: "image", URL: "data:image/png;base64," + payload},
					{Type: "image", URL: "https://example.com/remote.png"},
					{Type: "document", URL: "data:text/plain;base64,aGk="},
				},
			},
		},
	}

	msgs := buildOllamaMessages(req)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if len(msgs[0].Images) != 1 || msgs[0].Images[0] != payload {
		t.Fatalf("Images = %v, want the one decoded data URL payload", msgs[0].Images)
	}
}

func TestOllamaComplete_StreamsTextAndToolCalls(t *testing.T) {
	var gotReq ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}

		lines := []string{
			`{"message":{"role":"assistant","content":"Hel"}}`,
			`{"message":{"role":"assistant","content":"lo"}}`,
			`{"message":{"role":"assistant","tool_calls":[{"function":{"name":"echo","arguments":{"text":"hi"}}}]}}`,
			`{"message":{"role":"assistant","tool_calls":[{"function":{"name":"echo","arguments":{"text":"hi"}}}]},"done":true,"eval_count":7,"prompt_eval_count":21}`,
		}
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
	}))
	defer server.Close()

	p := NewOllama(OllamaConfig{BaseURL: server.URL, DefaultModel: "llama3.2"})
	chunks, err := p.Complete(context.Background(), &agent.CompletionRequest{
		System:   "be brief",
		Messages: []agent.CompletionMessage{{Role: models.RoleUser, Content: "say hello"}},
		Tools: []models.ToolDef{
			{Name: "echo", Description: "Echoes text.", Schema: json.RawMessage(`{"type":"object"}`)},
		},
		MaxTokens: 128,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	var text string
	var calls []*models.ToolCall
	var done *agent.CompletionChunk
	for chunk := range chunks {
		if chunk.Error != nil {
			t.Fatalf("unexpected stream error: %v", chunk.Error)
		}
		text += chunk.Text
		if chunk.ToolCall != nil {
			calls = append(calls, chunk.ToolCall)
		}
		if chunk.Done {
			done = chunk
		}
	}

	if text != "Hello" {
		t.Errorf("text = %q, want Hello", text)
	}
	if len(calls) != 1 {
		t.Fatalf("tool calls = %d, want 1 (repeat on the done line must be deduplicated)", len(calls))
	}
	if calls[0].Name != "echo" || string(calls[0].Arguments) != `{"text":"hi"}` {
		t.Errorf("tool call = %+v", calls[0])
	}
	if calls[0].ID == "" {
		t.Error("tool call id was not synthesized")
	}
	if done == nil || done.InputTokens != 21 || done.OutputTokens != 7 {
		t.Errorf("done chunk = %+v, want token counts 21/7", done)
	}

	if gotReq.Model != "llama3.2" {
		t.Errorf("request model = %q, want default llama3.2", gotReq.Model)
	}
	if !gotReq.Stream {
		t.Error("request did not ask for streaming")
	}
	if len(gotReq.Tools) != 1 || gotReq.Tools[0].Function.Name != "echo" {
		t.Errorf("request tools = %+v", gotReq.Tools)
	}
	if gotReq.Options["num_predict"] != float64(128) {
		t.Errorf("num_predict = %v, want 128", gotReq.Options["num_predict"])
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("request messages = %+v", gotReq.Messages)
	}
}

func TestOllamaComplete_ToolRejectionStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"registry.ollama.ai/library/llava:latest does not support tools"}`)
	}))
	defer server.Close()

	p := NewOllama(OllamaConfig{BaseURL: server.URL, DefaultModel: "llava"})
	_, err := p.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: models.RoleUser, Content: "hi"}},
		Tools:    []models.ToolDef{{Name: "echo", Schema: json.RawMessage(`{}`)}},
	})
	if err == nil {
		t.Fatal("expected error on 400 response")
	}
	if !IsToolRejection(err) {
		t.Fatalf("IsToolRejection(%v) = false, want true", err)
	}
	providerErr, ok := GetProviderError(err)
	if !ok || providerErr.Status != http.StatusBadRequest {
		t.Errorf("provider error = %+v, want status 400", providerErr)
	}
}

func TestOllamaComplete_ErrorLineEndsStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"part"}}`)
		fmt.Fprintln(w, `{"error":"model crashed"}`)
	}))
	defer server.Close()

	p := NewOllama(OllamaConfig{BaseURL: server.URL, DefaultModel: "llama3.2"})
	chunks, err := p.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	var text string
	var streamErr error
	for chunk := range chunks {
		text += chunk.Text
		if chunk.Error != nil {
			streamErr = chunk.Error
		}
	}
	if text != "part" {
		t.Errorf("text before the error = %q, want part", text)
	}
	if streamErr == nil {
		t.Fatal("expected a terminal error chunk")
	}
}

func TestOllamaComplete_RequiresModel(t *testing.T) {
	p := NewOllama(OllamaConfig{})
	_, err := p.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error without a model")
	}
}
