package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/haasonsaas/steward/internal/skills"
	"github.com/haasonsaas/steward/internal/store"
	"github.com/haasonsaas/steward/internal/tools"
	"github.com/haasonsaas/steward/pkg/models"
)

func TestChat_DirectAnswer(t *testing.T) {
	ctx := context.Background()
	provider := &scriptProvider{turns: [][]*CompletionChunk{textTurn("Hello there.")}}
	a, st := newTestAgent(t, provider, nil)

	var streamed strings.Builder
	reply, err := a.Chat(ctx, &ChatRequest{
		UserID: "user-1",
		Text:   "hi",
		Stream: func(text string) { streamed.WriteString(text) },
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "Hello there." {
		t.Errorf("reply = %q, want %q", reply, "Hello there.")
	}
	if !strings.Contains(streamed.String(), "Hello there.") {
		t.Errorf("first turn was not streamed: %q", streamed.String())
	}

	convs, err := st.Conversations(ctx, "user-1", 10)
	if err != nil || len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d (err %v)", len(convs), err)
	}
	msgs, err := st.Messages(ctx, convs[0].ID, 0)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Content != "hi" {
		t.Errorf("first message = %s %q", msgs[0].Role, msgs[0].Content)
	}
	if msgs[1].Role != models.RoleAssistant || msgs[1].Content != "Hello there." {
		t.Errorf("second message = %s %q", msgs[1].Role, msgs[1].Content)
	}
}

func TestChat_ToolRoundTrip(t *testing.T) {
	ctx := context.Background()
	provider := &scriptProvider{turns: [][]*CompletionChunk{
		toolTurn("call_1", "echo", `{"text":"hi"}`),
		textTurn("done"),
	}}
	a, st := newTestAgent(t, provider, nil)
	calls := registerEcho(t, a)

	var streamed strings.Builder
	reply, err := a.Chat(ctx, &ChatRequest{
		UserID: "user-1",
		Text:   "say hi",
		Stream: func(text string) { streamed.WriteString(text) },
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "done" {
		t.Errorf("reply = %q, want done", reply)
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("echo ran %d times, want 1", atomic.LoadInt32(calls))
	}
	if !strings.Contains(streamed.String(), "using echo...") {
		t.Errorf("missing tool status line in stream: %q", streamed.String())
	}

	convs, _ := st.Conversations(ctx, "user-1", 10)
	msgs, err := st.Messages(ctx, convs[0].ID, 0)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 persisted messages, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleUser {
		t.Errorf("message 0 role = %s, want user", msgs[0].Role)
	}
	if msgs[1].Role != models.RoleAssistant || len(msgs[1].ToolCalls) != 1 || msgs[1].ToolCalls[0].Name != "echo" {
		t.Errorf("message 1 should carry the echo tool call: %+v", msgs[1])
	}
	if msgs[2].Role != models.RoleTool || msgs[2].Content != "hi" || msgs[2].ToolCallID != "call_1" || msgs[2].Name != "echo" {
		t.Errorf("message 2 should be the tool result: %+v", msgs[2])
	}
	if msgs[3].Role != models.RoleAssistant || msgs[3].Content != "done" {
		t.Errorf("message 3 should be the final answer: %+v", msgs[3])
	}

	execs, err := st.ToolExecutions(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("tool executions: %v", err)
	}
	if len(execs) != 1 || !execs[0].Success || execs[0].Tool != "echo" {
		t.Errorf("audit trail = %+v, want one successful echo", execs)
	}
}

func TestChat_StreamsFirstTurnOnly(t *testing.T) {
	ctx := context.Background()
	provider := &scriptProvider{turns: [][]*CompletionChunk{
		{
			{Text: "Let me check."},
			{ToolCall: &models.ToolCall{ID: "call_1", Name: "echo", Arguments: []byte(`{"text":"x"}`)}},
			{Done: true},
		},
		textTurn("after tools"),
	}}
	a, _ := newTestAgent(t, provider, nil)
	registerEcho(t, a)

	var streamed strings.Builder
	reply, err := a.Chat(ctx, &ChatRequest{
		UserID: "user-1",
		Text:   "check something",
		Stream: func(text string) { streamed.WriteString(text) },
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "after tools" {
		t.Errorf("reply = %q, want %q", reply, "after tools")
	}

	out := streamed.String()
	if !strings.Contains(out, "Let me check.") {
		t.Errorf("first turn text missing from stream: %q", out)
	}
	if !strings.Contains(out, "using echo...") {
		t.Errorf("status line missing from stream: %q", out)
	}
	if strings.Contains(out, "after tools") {
		t.Errorf("second turn should not stream: %q", out)
	}
}

func TestChat_IterationLimit(t *testing.T) {
	ctx := context.Background()
	provider := &scriptProvider{turns: [][]*CompletionChunk{
		toolTurn("call_1", "echo", `{"text":"a"}`),
		toolTurn("call_2", "echo", `{"text":"b"}`),
		toolTurn("call_3", "echo", `{"text":"c"}`),
	}}
	a, _ := newTestAgent(t, provider, &Config{MaxIterations: 2})
	calls := registerEcho(t, a)

	reply, err := a.Chat(ctx, &ChatRequest{UserID: "user-1", Text: "loop forever"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(reply, "iteration limit") {
		t.Errorf("expected iteration limit summary, got %q", reply)
	}
	if !strings.Contains(reply, "- echo: ok") {
		t.Errorf("summary should list the tools that ran: %q", reply)
	}
	if provider.requestCount() != 2 {
		t.Errorf("model called %d times, want 2", provider.requestCount())
	}
	if atomic.LoadInt32(calls) != 2 {
		t.Errorf("echo ran %d times, want 2", atomic.LoadInt32(calls))
	}
}

func TestChat_UnknownTool(t *testing.T) {
	ctx := context.Background()
	provider := &scriptProvider{turns: [][]*CompletionChunk{
		toolTurn("call_1", "warp_drive", `{}`),
		textTurn("sorry, no such capability"),
	}}
	a, st := newTestAgent(t, provider, nil)

	reply, err := a.Chat(ctx, &ChatRequest{UserID: "user-1", Text: "engage"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "sorry, no such capability" {
		t.Errorf("reply = %q", reply)
	}

	convs, _ := st.Conversations(ctx, "user-1", 10)
	msgs, _ := st.Messages(ctx, convs[0].ID, 0)
	var toolMsg *models.Message
	for _, m := range msgs {
		if m.Role == models.RoleTool {
			toolMsg = m
		}
	}
	if toolMsg == nil || !strings.Contains(toolMsg.Content, "not available") {
		t.Errorf("expected an error tool result, got %+v", toolMsg)
	}

	// A hallucinated name is a model problem, not a tool fault.
	failures, err := st.Failures(ctx, store.FailureFilter{})
	if err != nil {
		t.Fatalf("failures: %v", err)
	}
	if len(failures) != 0 {
		t.Errorf("unknown tool should not reach the failure log: %+v", failures)
	}
	execs, _ := st.ToolExecutions(ctx, "user-1", 10)
	if len(execs) != 0 {
		t.Errorf("unknown tool should not be audited as an execution: %+v", execs)
	}
}

func TestChat_ToolFaultLogged(t *testing.T) {
	ctx := context.Background()
	provider := &scriptProvider{turns: [][]*CompletionChunk{
		toolTurn("call_1", "flaky", `{}`),
		textTurn("that failed"),
	}}
	a, st := newTestAgent(t, provider, nil)
	err := a.Registry().Register(tools.Func{
		Desc: tools.Descriptor{
			Name:        "flaky",
			Description: "Always fails.",
			Schema:      json.RawMessage(`{"type":"object"}`),
		},
		Fn: func(ctx context.Context, userID string, args json.RawMessage) (string, error) {
			return "", errors.New("connection refused")
		},
	})
	if err != nil {
		t.Fatalf("register flaky: %v", err)
	}

	reply, err := a.Chat(ctx, &ChatRequest{UserID: "user-1", Text: "do the thing", Platform: models.PlatformAPI})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "that failed" {
		t.Errorf("reply = %q", reply)
	}

	convs, _ := st.Conversations(ctx, "user-1", 10)
	msgs, _ := st.Messages(ctx, convs[0].ID, 0)
	var toolMsg *models.Message
	for _, m := range msgs {
		if m.Role == models.RoleTool {
			toolMsg = m
		}
	}
	if toolMsg == nil || toolMsg.Content != "Error executing tool: connection refused" {
		t.Errorf("tool result = %+v", toolMsg)
	}

	failures, err := st.Failures(ctx, store.FailureFilter{})
	if err != nil {
		t.Fatalf("failures: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure record, got %d", len(failures))
	}
	f := failures[0]
	if f.Tool != "flaky" || f.Kind != "execution_error" || f.Text != "connection refused" {
		t.Errorf("failure record = %+v", f)
	}
	if f.UserID != "user-1" || f.Platform != models.PlatformAPI {
		t.Errorf("failure attribution = %+v", f)
	}

	execs, _ := st.ToolExecutions(ctx, "user-1", 10)
	if len(execs) != 1 || execs[0].Success {
		t.Errorf("audit should record the failed execution: %+v", execs)
	}
}

func TestChat_HistoryReplayed(t *testing.T) {
	ctx := context.Background()
	provider := &scriptProvider{turns: [][]*CompletionChunk{
		textTurn("nice to meet you"),
		textTurn("you said your name earlier"),
	}}
	a, _ := newTestAgent(t, provider, nil)

	if _, err := a.Chat(ctx, &ChatRequest{UserID: "user-1", Text: "my name is Sam"}); err != nil {
		t.Fatalf("first chat: %v", err)
	}
	if _, err := a.Chat(ctx, &ChatRequest{UserID: "user-1", Text: "what is my name?"}); err != nil {
		t.Fatalf("second chat: %v", err)
	}

	second := provider.request(1)
	if len(second.Messages) != 3 {
		t.Fatalf("second request carried %d messages, want 3", len(second.Messages))
	}
	if second.Messages[0].Content != "my name is Sam" {
		t.Errorf("history not replayed: %q", second.Messages[0].Content)
	}
	if second.Messages[1].Role != models.RoleAssistant {
		t.Errorf("expected assistant reply in history, got %s", second.Messages[1].Role)
	}
}

func TestChat_ValidatesRequest(t *testing.T) {
	a, _ := newTestAgent(t, &scriptProvider{}, nil)
	ctx := context.Background()

	if _, err := a.Chat(ctx, &ChatRequest{Text: "hi"}); err == nil {
		t.Error("expected an error without a user id")
	}
	if _, err := a.Chat(ctx, &ChatRequest{UserID: "user-1", Text: "   "}); err == nil {
		t.Error("expected an error without text or images")
	}
	if _, err := a.Chat(ctx, nil); err == nil {
		t.Error("expected an error for a nil request")
	}
}

func TestChat_ModelErrorFoldedIntoReply(t *testing.T) {
	ctx := context.Background()
	provider := &scriptProvider{err: errors.New("dial tcp: connection refused")}
	a, _ := newTestAgent(t, provider, nil)

	reply, err := a.Chat(ctx, &ChatRequest{UserID: "user-1", Text: "hi"})
	if err != nil {
		t.Fatalf("model failures must not raise: %v", err)
	}
	if !strings.Contains(reply, "problem reaching the model") {
		t.Errorf("reply should report the model problem: %q", reply)
	}
}

func TestChat_ChunkErrorFoldedIntoReply(t *testing.T) {
	ctx := context.Background()
	provider := &scriptProvider{turns: [][]*CompletionChunk{
		{{Text: "partial"}, {Error: errors.New("bad gateway")}},
	}}
	a, _ := newTestAgent(t, provider, nil)

	reply, err := a.Chat(ctx, &ChatRequest{UserID: "user-1", Text: "hi"})
	if err != nil {
		t.Fatalf("stream failures must not raise: %v", err)
	}
	if !strings.Contains(reply, "problem reaching the model") {
		t.Errorf("reply should report the stream problem: %q", reply)
	}
}

func TestChat_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &scriptProvider{turns: [][]*CompletionChunk{textTurn("never")}}
	a, _ := newTestAgent(t, provider, nil)

	_, err := a.Chat(ctx, &ChatRequest{UserID: "user-1", Text: "hi"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestChat_VisionHandoff(t *testing.T) {
	ctx := context.Background()
	provider := &scriptProvider{
		modelList: []Model{
			{ID: "llama3.2", SupportsVision: false},
			{ID: "llava", SupportsVision: true},
		},
		turns: [][]*CompletionChunk{textTurn("I see a cat.")},
	}
	a, _ := newTestAgent(t, provider, &Config{Model: "llama3.2", VisionModel: "llava"})

	var streamed strings.Builder
	reply, err := a.Chat(ctx, &ChatRequest{
		UserID: "user-1",
		Text:   "what is this?",
		Images: []models.Attachment{{Type: "image", URL: "data:image/png;base64,xyz"}},
		Stream: func(text string) { streamed.WriteString(text) },
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "I see a cat." {
		t.Errorf("reply = %q", reply)
	}
	if got := provider.request(0).Model; got != "llava" {
		t.Errorf("request used model %q, want llava", got)
	}
	if !strings.Contains(streamed.String(), "llava") {
		t.Errorf("handoff status line missing: %q", streamed.String())
	}
	// The default model is untouched for the next request.
	if a.Model() != "llama3.2" {
		t.Errorf("default model changed to %q", a.Model())
	}
}

func TestChat_SkillCountersTrackOutcomes(t *testing.T) {
	ctx := context.Background()
	provider := &scriptProvider{turns: [][]*CompletionChunk{
		toolTurn("call_1", "echo", `{"text":"hi"}`),
		textTurn("done"),
		toolTurn("call_2", "flaky", `{}`),
		textTurn("that failed"),
	}}
	a, _ := newTestAgent(t, provider, nil)
	registerEcho(t, a)
	err := a.Registry().Register(tools.Func{
		Desc: tools.Descriptor{
			Name:        "flaky",
			Description: "Always fails.",
			Schema:      json.RawMessage(`{"type":"object"}`),
		},
		Fn: func(ctx context.Context, userID string, args json.RawMessage) (string, error) {
			return "", errors.New("connection refused")
		},
	})
	if err != nil {
		t.Fatalf("register flaky: %v", err)
	}

	lib := skills.NewLibrary(t.TempDir())
	for _, sk := range []*skills.Skill{
		{Name: "echo-style", TargetTool: "echo", Triggers: []string{"say"}, Instructions: "Echo verbatim."},
		{Name: "flaky-care", TargetTool: "flaky", Triggers: []string{"flaky"}, Instructions: "Retry once."},
	} {
		if err := lib.SavePending(sk); err != nil {
			t.Fatalf("save pending %s: %v", sk.Name, err)
		}
		if _, err := lib.Approve(sk.Name); err != nil {
			t.Fatalf("approve %s: %v", sk.Name, err)
		}
	}
	a.SetSkills(lib)

	if _, err := a.Chat(ctx, &ChatRequest{UserID: "user-1", Text: "say hi"}); err != nil {
		t.Fatalf("first chat: %v", err)
	}
	if _, err := a.Chat(ctx, &ChatRequest{UserID: "user-1", Text: "run the flaky one"}); err != nil {
		t.Fatalf("second chat: %v", err)
	}

	echoSkill, err := lib.Skill("echo-style")
	if err != nil {
		t.Fatalf("echo skill: %v", err)
	}
	if echoSkill.SuccessCount != 1 || echoSkill.FailureCount != 0 {
		t.Errorf("echo-style counters = %d ok / %d fail, want 1/0",
			echoSkill.SuccessCount, echoSkill.FailureCount)
	}

	flakySkill, err := lib.Skill("flaky-care")
	if err != nil {
		t.Fatalf("flaky skill: %v", err)
	}
	if flakySkill.SuccessCount != 0 || flakySkill.FailureCount != 1 {
		t.Errorf("flaky-care counters = %d ok / %d fail, want 0/1",
			flakySkill.SuccessCount, flakySkill.FailureCount)
	}
}
