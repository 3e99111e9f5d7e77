package agent

import (
	"context"
	"testing"

	"github.com/haasonsaas/steward/pkg/models"
)

func TestRunner_ScopedSession(t *testing.T) {
	ctx := context.Background()
	provider := &scriptProvider{turns: [][]*CompletionChunk{textTurn("report ready")}}
	a, st := newTestAgent(t, provider, nil)

	task := &models.ScheduledTask{
		ID:       "task-9",
		UserID:   "user-1",
		Platform: models.PlatformCLI,
		Name:     "inbox summary",
		Prompt:   "summarize my inbox",
	}
	result, err := NewRunner(a).Run(ctx, task)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result != "report ready" {
		t.Errorf("result = %q", result)
	}

	convs, err := st.Conversations(ctx, "user-1", 10)
	if err != nil || len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d (err %v)", len(convs), err)
	}
	if convs[0].SessionID != "scheduled_task-9" {
		t.Errorf("session id = %q, want scheduled_task-9", convs[0].SessionID)
	}

	// The prompt landed as the user message of the scoped session.
	msgs, _ := st.Messages(ctx, convs[0].ID, 0)
	if len(msgs) != 2 || msgs[0].Content != "summarize my inbox" {
		t.Errorf("scoped history = %+v", msgs)
	}
}

func TestRunner_RepeatRunsShareSession(t *testing.T) {
	ctx := context.Background()
	provider := &scriptProvider{turns: [][]*CompletionChunk{
		textTurn("first run"),
		textTurn("second run"),
	}}
	a, st := newTestAgent(t, provider, nil)

	task := &models.ScheduledTask{
		ID:       "task-3",
		UserID:   "user-1",
		Platform: models.PlatformCLI,
		Name:     "check feed",
		Prompt:   "check the feed",
	}
	runner := NewRunner(a)
	if _, err := runner.Run(ctx, task); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := runner.Run(ctx, task); err != nil {
		t.Fatalf("second run: %v", err)
	}

	convs, _ := st.Conversations(ctx, "user-1", 10)
	if len(convs) != 1 {
		t.Fatalf("repeat runs should reuse the task conversation, got %d", len(convs))
	}
	// The second run replays the first run's exchange as history.
	second := provider.request(1)
	if len(second.Messages) != 3 {
		t.Errorf("second run carried %d messages, want 3", len(second.Messages))
	}
}
