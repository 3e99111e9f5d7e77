package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/steward/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetOrCreateConversation_AmbientSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.GetOrCreateConversation(ctx, "user-1", "", models.PlatformCLI)
	if err != nil {
		t.Fatalf("GetOrCreateConversation() error = %v", err)
	}
	second, err := s.GetOrCreateConversation(ctx, "user-1", "", models.PlatformCLI)
	if err != nil {
		t.Fatalf("GetOrCreateConversation() error = %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("ambient conversation not reused: %q vs %q", first.ID, second.ID)
	}
}

func TestGetOrCreateConversation_ScopedBySession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chat, err := s.GetOrCreateConversation(ctx, "user-1", "", models.PlatformCLI)
	if err != nil {
		t.Fatalf("GetOrCreateConversation() error = %v", err)
	}
	scheduled, err := s.GetOrCreateConversation(ctx, "user-1", "scheduled_task-9", models.PlatformCLI)
	if err != nil {
		t.Fatalf("GetOrCreateConversation() error = %v", err)
	}

	if chat.ID == scheduled.ID {
		t.Error("session-scoped conversation should be distinct from the ambient one")
	}

	again, err := s.GetOrCreateConversation(ctx, "user-1", "scheduled_task-9", models.PlatformCLI)
	if err != nil {
		t.Fatalf("GetOrCreateConversation() error = %v", err)
	}
	if again.ID != scheduled.ID {
		t.Errorf("session conversation not reused: %q vs %q", again.ID, scheduled.ID)
	}
}

func TestAppendMessage_AndWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.GetOrCreateConversation(ctx, "user-1", "", models.PlatformCLI)
	if err != nil {
		t.Fatalf("GetOrCreateConversation() error = %v", err)
	}

	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	for i, content := range []string{"first", "second", "third"} {
		msg := &models.Message{
			ConversationID: conv.ID,
			Role:           models.RoleUser,
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage(%q) error = %v", content, err)
		}
	}

	msgs, err := s.Messages(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Messages() returned %d messages, want 2", len(msgs))
	}
	if msgs[0].Content != "second" || msgs[1].Content != "third" {
		t.Errorf("window = [%q, %q], want [second, third]", msgs[0].Content, msgs[1].Content)
	}
}

func TestAppendMessage_ToolCallsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.GetOrCreateConversation(ctx, "user-1", "", models.PlatformCLI)
	if err != nil {
		t.Fatalf("GetOrCreateConversation() error = %v", err)
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        "",
		ToolCalls: []models.ToolCall{
			{ID: "call_0", Name: "log_failure", Arguments: []byte(`{"tool_name":"pay"}`)},
		},
	}
	if err := s.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	msgs, err := s.Messages(ctx, conv.ID, 0)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Messages() returned %d messages, want 1", len(msgs))
	}
	if len(msgs[0].ToolCalls) != 1 || msgs[0].ToolCalls[0].Name != "log_failure" {
		t.Errorf("tool calls = %+v, want one log_failure call", msgs[0].ToolCalls)
	}
}

func TestClearConversation_KeepsScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.GetOrCreateConversation(ctx, "user-1", "", models.PlatformCLI)
	if err != nil {
		t.Fatalf("GetOrCreateConversation() error = %v", err)
	}
	msg := &models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: "hello"}
	if err := s.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	if err := s.ClearConversation(ctx, conv.ID); err != nil {
		t.Fatalf("ClearConversation() error = %v", err)
	}

	msgs, err := s.Messages(ctx, conv.ID, 0)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Messages() returned %d messages after clear, want 0", len(msgs))
	}

	again, err := s.GetOrCreateConversation(ctx, "user-1", "", models.PlatformCLI)
	if err != nil {
		t.Fatalf("GetOrCreateConversation() error = %v", err)
	}
	if again.ID != conv.ID {
		t.Error("conversation scope should survive a clear")
	}
}

func TestUpsertMemory_ReplacesValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mem := &models.Memory{
		UserID:     "user-1",
		Type:       models.MemoryTypeFact,
		Key:        "city",
		Value:      "Berlin",
		Confidence: 0.8,
		Source:     "conversation",
	}
	if err := s.UpsertMemory(ctx, mem); err != nil {
		t.Fatalf("UpsertMemory() error = %v", err)
	}

	mem.Value = "Lisbon"
	mem.Confidence = 1.0
	if err := s.UpsertMemory(ctx, mem); err != nil {
		t.Fatalf("UpsertMemory() error = %v", err)
	}

	all, err := s.Memories(ctx, "user-1")
	if err != nil {
		t.Fatalf("Memories() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("Memories() returned %d entries, want 1", len(all))
	}
	if all[0].Value != "Lisbon" {
		t.Errorf("Value = %q, want %q", all[0].Value, "Lisbon")
	}
	if all[0].Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", all[0].Confidence)
	}
}

func TestUpsertMemory_RejectsUnknownType(t *testing.T) {
	s := newTestStore(t)

	mem := &models.Memory{UserID: "user-1", Type: "opinion", Key: "k", Value: "v"}
	if err := s.UpsertMemory(context.Background(), mem); err == nil {
		t.Error("UpsertMemory() with unknown type should fail")
	}
}

func TestDeleteMemory_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.DeleteMemory(context.Background(), "user-1", models.MemoryTypeFact, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteMemory() error = %v, want ErrNotFound", err)
	}
}

func TestCreateTask_ReadBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &models.ScheduledTask{
		UserID:   "user-1",
		Platform: models.PlatformCLI,
		Name:     "daily summary",
		Prompt:   "Summarize my day",
		Schedule: models.Schedule{Kind: models.ScheduleDaily, Hour: 14, Minute: 30},
		NextRun:  time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC),
		Enabled:  true,
	}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	saved, err := s.TaskByName(ctx, "user-1", "daily summary")
	if err != nil {
		t.Fatalf("TaskByName() error = %v", err)
	}
	if saved.Prompt != "Summarize my day" {
		t.Errorf("Prompt = %q, want %q", saved.Prompt, "Summarize my day")
	}
	if saved.Schedule.Kind != models.ScheduleDaily || saved.Schedule.Hour != 14 || saved.Schedule.Minute != 30 {
		t.Errorf("Schedule = %+v, want daily 14:30", saved.Schedule)
	}
	if !saved.Enabled {
		t.Error("saved task should be enabled")
	}
}

func TestCreateTask_DuplicateName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &models.ScheduledTask{
		UserID:   "user-1",
		Platform: models.PlatformCLI,
		Name:     "reminder",
		Prompt:   "Remind me",
		Schedule: models.Schedule{Kind: models.ScheduleInterval, Hours: 1},
		NextRun:  time.Now().Add(time.Hour),
		Enabled:  true,
	}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	dup := *task
	dup.ID = ""
	err := s.CreateTask(ctx, &dup)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("CreateTask() duplicate error = %v, want ErrAlreadyExists", err)
	}
}

func TestDueTasks_ReturnsOverdueOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	overdue := &models.ScheduledTask{
		UserID:   "user-1",
		Platform: models.PlatformCLI,
		Name:     "overdue",
		Prompt:   "p",
		Schedule: models.Schedule{Kind: models.ScheduleInterval, Minutes: 5},
		NextRun:  now.Add(-2 * time.Hour),
		Enabled:  true,
	}
	future := &models.ScheduledTask{
		UserID:   "user-1",
		Platform: models.PlatformCLI,
		Name:     "future",
		Prompt:   "p",
		Schedule: models.Schedule{Kind: models.ScheduleInterval, Minutes: 5},
		NextRun:  now.Add(2 * time.Hour),
		Enabled:  true,
	}
	paused := &models.ScheduledTask{
		UserID:   "user-1",
		Platform: models.PlatformCLI,
		Name:     "paused",
		Prompt:   "p",
		Schedule: models.Schedule{Kind: models.ScheduleInterval, Minutes: 5},
		NextRun:  now.Add(-time.Hour),
		Enabled:  false,
	}
	for _, task := range []*models.ScheduledTask{overdue, future, paused} {
		if err := s.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask(%q) error = %v", task.Name, err)
		}
	}

	due, err := s.DueTasks(ctx, now)
	if err != nil {
		t.Fatalf("DueTasks() error = %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("DueTasks() returned %d tasks, want 1", len(due))
	}
	if due[0].Name != "overdue" {
		t.Errorf("due task = %q, want overdue", due[0].Name)
	}
}

func TestMarkTaskRan_AdvancesTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	task := &models.ScheduledTask{
		UserID:   "user-1",
		Platform: models.PlatformCLI,
		Name:     "hourly",
		Prompt:   "p",
		Schedule: models.Schedule{Kind: models.ScheduleInterval, Hours: 1},
		NextRun:  now.Add(-time.Minute),
		Enabled:  true,
	}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	next := now.Add(time.Hour)
	if err := s.MarkTaskRan(ctx, task.ID, now, next); err != nil {
		t.Fatalf("MarkTaskRan() error = %v", err)
	}

	saved, err := s.TaskByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("TaskByID() error = %v", err)
	}
	if saved.RunCount != 1 {
		t.Errorf("RunCount = %d, want 1", saved.RunCount)
	}
	if saved.LastRun == nil || saved.LastRun.Unix() != now.Unix() {
		t.Errorf("LastRun = %v, want %v", saved.LastRun, now)
	}
	if saved.NextRun.Unix() != next.Unix() {
		t.Errorf("NextRun = %v, want %v", saved.NextRun, next)
	}
}

func TestRecordExecution_TruncatesResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec := &models.Execution{
		TaskID:   "task-1",
		TaskName: "long",
		UserID:   "user-1",
		Platform: models.PlatformCLI,
		Result:   strings.Repeat("x", 3000),
		Success:  true,
	}
	if err := s.RecordExecution(ctx, exec); err != nil {
		t.Fatalf("RecordExecution() error = %v", err)
	}

	history, err := s.Executions(ctx, "task-1", 0)
	if err != nil {
		t.Fatalf("Executions() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Executions() returned %d records, want 1", len(history))
	}
	if got := len(history[0].Result); got != 2000 {
		t.Errorf("stored result length = %d, want 2000", got)
	}
}

func TestRecordToolExecution_TruncatesResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec := &ToolExecution{
		UserID:   "user-1",
		Platform: models.PlatformCLI,
		Tool:     "web_search",
		Result:   strings.Repeat("y", 12000),
		Success:  true,
		Duration: 120 * time.Millisecond,
	}
	if err := s.RecordToolExecution(ctx, exec); err != nil {
		t.Fatalf("RecordToolExecution() error = %v", err)
	}

	audit, err := s.ToolExecutions(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("ToolExecutions() error = %v", err)
	}
	if len(audit) != 1 {
		t.Fatalf("ToolExecutions() returned %d records, want 1", len(audit))
	}
	if got := len(audit[0].Result); got != 10000 {
		t.Errorf("stored result length = %d, want 10000", got)
	}
	if audit[0].Duration != 120*time.Millisecond {
		t.Errorf("Duration = %v, want 120ms", audit[0].Duration)
	}
}

func TestNotifications_PendingAndDelivered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cli := &models.Notification{
		TaskID:   "task-1",
		UserID:   "user-1",
		Platform: models.PlatformCLI,
		Message:  "cli message",
	}
	api := &models.Notification{
		TaskID:   "task-2",
		UserID:   "user-1",
		Platform: models.PlatformAPI,
		Message:  "api message",
	}
	for _, n := range []*models.Notification{cli, api} {
		if err := s.EnqueueNotification(ctx, n); err != nil {
			t.Fatalf("EnqueueNotification() error = %v", err)
		}
	}

	pending, err := s.PendingNotifications(ctx, models.PlatformCLI)
	if err != nil {
		t.Fatalf("PendingNotifications() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Message != "cli message" {
		t.Fatalf("pending = %+v, want the single cli message", pending)
	}

	if err := s.MarkNotificationDelivered(ctx, pending[0].ID, time.Now()); err != nil {
		t.Fatalf("MarkNotificationDelivered() error = %v", err)
	}

	pending, err = s.PendingNotifications(ctx, models.PlatformCLI)
	if err != nil {
		t.Fatalf("PendingNotifications() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after delivery = %d, want 0", len(pending))
	}
}

func TestLogFailure_CoalescesUnresolved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.LogFailure(ctx, &models.Failure{
		Tool: "payment",
		Kind: "card_declined",
		Text: "card was declined",
	})
	if err != nil {
		t.Fatalf("LogFailure() error = %v", err)
	}

	second, err := s.LogFailure(ctx, &models.Failure{
		Tool: "payment",
		Kind: "card_declined",
		Text: "refused",
	})
	if err != nil {
		t.Fatalf("LogFailure() error = %v", err)
	}

	if first != second {
		t.Errorf("coalesced ids differ: %q vs %q", first, second)
	}

	f, err := s.FailureByID(ctx, first)
	if err != nil {
		t.Fatalf("FailureByID() error = %v", err)
	}
	if f.Occurrences != 2 {
		t.Errorf("Occurrences = %d, want 2", f.Occurrences)
	}
	if f.Text != "refused" {
		t.Errorf("Text = %q, want refreshed text %q", f.Text, "refused")
	}
}

func TestLogFailure_ResolvedStartsFresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.LogFailure(ctx, &models.Failure{Tool: "search", Kind: "timeout", Text: "deadline"})
	if err != nil {
		t.Fatalf("LogFailure() error = %v", err)
	}
	if err := s.ResolveFailure(ctx, first, "retried with backoff"); err != nil {
		t.Fatalf("ResolveFailure() error = %v", err)
	}

	second, err := s.LogFailure(ctx, &models.Failure{Tool: "search", Kind: "timeout", Text: "deadline"})
	if err != nil {
		t.Fatalf("LogFailure() error = %v", err)
	}
	if first == second {
		t.Error("resolved failure should not be coalesced onto")
	}

	f, err := s.FailureByID(ctx, second)
	if err != nil {
		t.Fatalf("FailureByID() error = %v", err)
	}
	if f.Occurrences != 1 {
		t.Errorf("Occurrences = %d, want 1", f.Occurrences)
	}
}

func TestFailureSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.LogFailure(ctx, &models.Failure{Tool: "payment", Kind: "card_declined", Text: "declined"}); err != nil {
			t.Fatalf("LogFailure() error = %v", err)
		}
	}
	resolved, err := s.LogFailure(ctx, &models.Failure{Tool: "search", Kind: "timeout", Text: "deadline"})
	if err != nil {
		t.Fatalf("LogFailure() error = %v", err)
	}
	if err := s.ResolveFailure(ctx, resolved, ""); err != nil {
		t.Fatalf("ResolveFailure() error = %v", err)
	}

	summary, err := s.FailureSummary(ctx)
	if err != nil {
		t.Fatalf("FailureSummary() error = %v", err)
	}
	if summary.Unresolved != 1 || summary.Resolved != 1 {
		t.Errorf("summary totals = %d unresolved / %d resolved, want 1/1", summary.Unresolved, summary.Resolved)
	}
	if len(summary.TopTools) == 0 || summary.TopTools[0].Name != "payment" || summary.TopTools[0].Count != 3 {
		t.Errorf("TopTools = %+v, want payment with 3 occurrences", summary.TopTools)
	}
}

func TestCredentials_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetCredential(ctx, "user-1", "github", "token", "secret-1"); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}
	if err := s.SetCredential(ctx, "user-1", "github", "token", "secret-2"); err != nil {
		t.Fatalf("SetCredential() overwrite error = %v", err)
	}

	value, err := s.Credential(ctx, "user-1", "github", "token")
	if err != nil {
		t.Fatalf("Credential() error = %v", err)
	}
	if value != "secret-2" {
		t.Errorf("Credential() = %q, want %q", value, "secret-2")
	}

	if err := s.DeleteCredential(ctx, "user-1", "github", "token"); err != nil {
		t.Fatalf("DeleteCredential() error = %v", err)
	}
	if _, err := s.Credential(ctx, "user-1", "github", "token"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Credential() after delete error = %v, want ErrNotFound", err)
	}
}

func TestSettings_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetSetting(ctx, "user-1", "timezone", "Europe/Lisbon"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	if err := s.SetSetting(ctx, "user-1", "approval_threshold", "250"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}

	settings, err := s.Settings(ctx, "user-1")
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}
	if len(settings) != 2 {
		t.Errorf("Settings() returned %d entries, want 2", len(settings))
	}
	if settings["timezone"] != "Europe/Lisbon" {
		t.Errorf("timezone = %q, want Europe/Lisbon", settings["timezone"])
	}

	if err := s.DeleteSetting(ctx, "user-1", "timezone"); err != nil {
		t.Fatalf("DeleteSetting() error = %v", err)
	}
	if _, err := s.Setting(ctx, "user-1", "timezone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Setting() after delete error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteSetting(ctx, "user-1", "timezone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteSetting() missing key error = %v, want ErrNotFound", err)
	}
}
