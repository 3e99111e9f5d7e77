package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/steward/internal/store"
	"github.com/haasonsaas/steward/pkg/models"
)

func newTestScheduler(t *testing.T, runner AgentRunner, opts ...Option) (*Scheduler, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewScheduler(st, runner, opts...), st
}

func TestSchedule_PersistsTask(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	s, st := newTestScheduler(t, nil, WithNow(func() time.Time { return now }))
	ctx := context.Background()

	task, err := s.Schedule(ctx, "user-1", "standup notes", "Summarize standup", "every day at 2:30pm", models.PlatformCLI)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	saved, err := st.TaskByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("TaskByID() error = %v", err)
	}
	if saved.Schedule.Kind != models.ScheduleDaily || saved.Schedule.Hour != 14 || saved.Schedule.Minute != 30 {
		t.Errorf("Schedule = %+v, want daily 14:30", saved.Schedule)
	}
	if !saved.NextRun.Equal(time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)) {
		t.Errorf("NextRun = %v, want today 14:30", saved.NextRun)
	}
}

func TestSchedule_RejectsUnparseableText(t *testing.T) {
	s, _ := newTestScheduler(t, nil)

	_, err := s.Schedule(context.Background(), "user-1", "bad", "p", "sometime later", models.PlatformCLI)
	if !errors.Is(err, ErrUnparseableSchedule) {
		t.Errorf("Schedule() error = %v, want ErrUnparseableSchedule", err)
	}
}

func TestRunOnce_FiresOverdueTask(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	var ranPrompt atomic.Value
	runner := AgentRunnerFunc(func(ctx context.Context, task *models.ScheduledTask) (string, error) {
		ranPrompt.Store(task.Prompt)
		return "all done", nil
	})

	var completions atomic.Int32
	var lastResult atomic.Value
	s, st := newTestScheduler(t, runner,
		WithNow(func() time.Time { return now }),
		WithOnCompletion(func(task *models.ScheduledTask, result string) {
			completions.Add(1)
			lastResult.Store(result)
		}),
	)
	ctx := context.Background()

	task := &models.ScheduledTask{
		UserID:   "user-1",
		Platform: models.PlatformCLI,
		Name:     "hourly check",
		Prompt:   "Check my inbox",
		Schedule: models.Schedule{Kind: models.ScheduleInterval, Hours: 1},
		NextRun:  now.Add(-2 * time.Hour),
		Enabled:  true,
	}
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	if fired := s.RunOnce(ctx); fired != 1 {
		t.Fatalf("RunOnce() = %d, want 1", fired)
	}

	if got, _ := ranPrompt.Load().(string); got != "Check my inbox" {
		t.Errorf("runner saw prompt %q, want the task prompt", got)
	}
	if completions.Load() != 1 {
		t.Errorf("completion callbacks = %d, want 1", completions.Load())
	}
	if got, _ := lastResult.Load().(string); got != "all done" {
		t.Errorf("completion result = %q, want %q", got, "all done")
	}

	saved, err := st.TaskByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("TaskByID() error = %v", err)
	}
	if saved.RunCount != 1 {
		t.Errorf("RunCount = %d, want 1", saved.RunCount)
	}
	// next_run moves forward from now, not from the stale slot.
	if !saved.NextRun.Equal(now.Add(time.Hour)) {
		t.Errorf("NextRun = %v, want %v", saved.NextRun, now.Add(time.Hour))
	}

	history, err := st.Executions(ctx, task.ID, 0)
	if err != nil {
		t.Fatalf("Executions() error = %v", err)
	}
	if len(history) != 1 || history[0].Result != "all done" || !history[0].Success {
		t.Errorf("history = %+v, want one successful run", history)
	}
}

func TestRunOnce_OneShotDisabledAfterFire(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	runner := AgentRunnerFunc(func(ctx context.Context, task *models.ScheduledTask) (string, error) {
		return "reminder sent", nil
	})
	s, st := newTestScheduler(t, runner, WithNow(func() time.Time { return now }))
	ctx := context.Background()

	task := &models.ScheduledTask{
		UserID:   "user-1",
		Platform: models.PlatformCLI,
		Name:     "one shot",
		Prompt:   "Remind me",
		Schedule: models.Schedule{Kind: models.ScheduleOnce, InMinutes: 20},
		NextRun:  now.Add(-time.Minute),
		Enabled:  true,
	}
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	if fired := s.RunOnce(ctx); fired != 1 {
		t.Fatalf("RunOnce() = %d, want 1", fired)
	}

	saved, err := st.TaskByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("TaskByID() error = %v", err)
	}
	if saved.Enabled {
		t.Error("one-shot task should be disabled after firing")
	}
	if saved.RunCount != 1 {
		t.Errorf("RunCount = %d, want 1", saved.RunCount)
	}

	// A later tick must not fire it again.
	if fired := s.RunOnce(ctx); fired != 0 {
		t.Errorf("second RunOnce() = %d, want 0", fired)
	}
}

func TestRunOnce_RecordsFailure(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	runner := AgentRunnerFunc(func(ctx context.Context, task *models.ScheduledTask) (string, error) {
		return "", fmt.Errorf("model unavailable")
	})

	var lastResult atomic.Value
	s, st := newTestScheduler(t, runner,
		WithNow(func() time.Time { return now }),
		WithOnCompletion(func(task *models.ScheduledTask, result string) {
			lastResult.Store(result)
		}),
	)
	ctx := context.Background()

	task := &models.ScheduledTask{
		UserID:   "user-1",
		Platform: models.PlatformCLI,
		Name:     "failing",
		Prompt:   "p",
		Schedule: models.Schedule{Kind: models.ScheduleInterval, Minutes: 5},
		NextRun:  now.Add(-time.Minute),
		Enabled:  true,
	}
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	s.RunOnce(ctx)

	history, err := st.Executions(ctx, task.ID, 0)
	if err != nil {
		t.Fatalf("Executions() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].Success {
		t.Error("failed run recorded as success")
	}
	if history[0].Result != "model unavailable" {
		t.Errorf("recorded result = %q, want the error string", history[0].Result)
	}
	if got, _ := lastResult.Load().(string); got != "model unavailable" {
		t.Errorf("completion result = %q, want the error string", got)
	}
}

func TestRunOnce_CompletionPanicDoesNotAbortTick(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	runner := AgentRunnerFunc(func(ctx context.Context, task *models.ScheduledTask) (string, error) {
		return "ok", nil
	})
	s, st := newTestScheduler(t, runner,
		WithNow(func() time.Time { return now }),
		WithOnCompletion(func(task *models.ScheduledTask, result string) {
			panic("handler bug")
		}),
	)
	ctx := context.Background()

	for _, name := range []string{"first", "second"} {
		task := &models.ScheduledTask{
			UserID:   "user-1",
			Platform: models.PlatformCLI,
			Name:     name,
			Prompt:   "p",
			Schedule: models.Schedule{Kind: models.ScheduleInterval, Minutes: 5},
			NextRun:  now.Add(-time.Minute),
			Enabled:  true,
		}
		if err := st.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask(%q) error = %v", name, err)
		}
	}

	if fired := s.RunOnce(ctx); fired != 2 {
		t.Errorf("RunOnce() = %d, want 2 despite panicking callback", fired)
	}
}

func TestPauseAndResume(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	runner := AgentRunnerFunc(func(ctx context.Context, task *models.ScheduledTask) (string, error) {
		return "ok", nil
	})
	s, st := newTestScheduler(t, runner, WithNow(func() time.Time { return now }))
	ctx := context.Background()

	task, err := s.Schedule(ctx, "user-1", "pausable", "p", "every 5 minutes", models.PlatformCLI)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	if err := s.Pause(ctx, task.ID); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	saved, _ := st.TaskByID(ctx, task.ID)
	if saved.Enabled {
		t.Error("paused task should be disabled")
	}

	if err := s.Resume(ctx, task.ID); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	saved, _ = st.TaskByID(ctx, task.ID)
	if !saved.Enabled {
		t.Error("resumed task should be enabled")
	}
	if !saved.NextRun.Equal(now.Add(5 * time.Minute)) {
		t.Errorf("NextRun after resume = %v, want %v", saved.NextRun, now.Add(5*time.Minute))
	}
}

func TestStartStop(t *testing.T) {
	var fired atomic.Int32
	runner := AgentRunnerFunc(func(ctx context.Context, task *models.ScheduledTask) (string, error) {
		fired.Add(1)
		return "ok", nil
	})
	s, st := newTestScheduler(t, runner, WithTickInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	task := &models.ScheduledTask{
		UserID:   "user-1",
		Platform: models.PlatformCLI,
		Name:     "ticker",
		Prompt:   "p",
		Schedule: models.Schedule{Kind: models.ScheduleInterval, Hours: 1},
		NextRun:  time.Now().Add(-time.Minute),
		Enabled:  true,
	}
	if err := st.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("task did not fire within 2s")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
