package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/steward/internal/observability"
	"github.com/haasonsaas/steward/internal/store"
	"github.com/haasonsaas/steward/pkg/models"
)

// AgentRunner executes a due task's prompt and returns the reply text.
type AgentRunner interface {
	Run(ctx context.Context, task *models.ScheduledTask) (string, error)
}

// AgentRunnerFunc adapts a function to an AgentRunner.
type AgentRunnerFunc func(ctx context.Context, task *models.ScheduledTask) (string, error)

// Run executes the agent runner function.
func (f AgentRunnerFunc) Run(ctx context.Context, task *models.ScheduledTask) (string, error) {
	return f(ctx, task)
}

// CompletionFunc is invoked after each task run with the result text.
// For failed runs the result carries the error string.
type CompletionFunc func(task *models.ScheduledTask, result string)

// Scheduler owns the heartbeat loop: every tick it fetches due tasks
// from the store, runs each through the agent, records the execution,
// advances or disables the task, and fires the completion callback.
type Scheduler struct {
	store        *store.Store
	runner       AgentRunner
	logger       *slog.Logger
	metrics      *observability.Metrics
	now          func() time.Time
	tickInterval time.Duration
	onCompletion CompletionFunc

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches a metrics collector. Optional; without one
// runs are not counted.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the heartbeat interval.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// WithOnCompletion configures the completion callback.
func WithOnCompletion(fn CompletionFunc) Option {
	return func(s *Scheduler) {
		s.onCompletion = fn
	}
}

// NewScheduler creates a scheduler backed by the store.
func NewScheduler(st *store.Store, runner AgentRunner, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        st,
		runner:       runner,
		logger:       slog.Default().With("component", "scheduler"),
		now:          time.Now,
		tickInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetAgentRunner updates the runner after initialization.
func (s *Scheduler) SetAgentRunner(runner AgentRunner) {
	if s == nil || runner == nil {
		return
	}
	s.mu.Lock()
	s.runner = runner
	s.mu.Unlock()
}

// SetOnCompletion updates the completion callback after initialization.
func (s *Scheduler) SetOnCompletion(fn CompletionFunc) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.onCompletion = fn
	s.mu.Unlock()
}

// Start begins the heartbeat loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("scheduler started", "tick_interval", s.tickInterval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
	return nil
}

// Stop waits for the heartbeat loop to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce fires due tasks immediately and returns how many ran.
// Primarily for tests.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	if s == nil {
		return 0
	}
	return s.runDue(ctx)
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()
	tasks, err := s.store.DueTasks(ctx, now)
	if err != nil {
		s.logger.Error("due task query failed", "error", err)
		return 0
	}

	count := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			return count
		}
		s.fireTask(ctx, task, now)
		count++
	}
	return count
}

func (s *Scheduler) fireTask(ctx context.Context, task *models.ScheduledTask, now time.Time) {
	s.mu.Lock()
	runner := s.runner
	onCompletion := s.onCompletion
	s.mu.Unlock()

	var result string
	var runErr error
	if runner == nil {
		runErr = fmt.Errorf("no agent runner configured")
	} else {
		result, runErr = runner.Run(ctx, task)
	}
	success := runErr == nil
	if runErr != nil {
		result = runErr.Error()
		s.logger.Warn("scheduled task failed", "task_id", task.ID, "name", task.Name, "error", runErr)
	}
	if s.metrics != nil {
		st := "success"
		if !success {
			st = "error"
		}
		s.metrics.RecordTaskRun(st)
	}

	exec := &models.Execution{
		TaskID:   task.ID,
		TaskName: task.Name,
		UserID:   task.UserID,
		Platform: task.Platform,
		Result:   result,
		Success:  success,
		RanAt:    now,
	}
	if err := s.store.RecordExecution(ctx, exec); err != nil {
		s.logger.Error("record execution failed", "task_id", task.ID, "error", err)
	}

	if task.Schedule.Kind == models.ScheduleOnce {
		if err := s.store.MarkTaskRan(ctx, task.ID, now, task.NextRun); err != nil {
			s.logger.Error("mark task ran failed", "task_id", task.ID, "error", err)
		}
		if err := s.store.SetTaskEnabled(ctx, task.ID, false); err != nil {
			s.logger.Error("disable one-shot task failed", "task_id", task.ID, "error", err)
		}
	} else {
		// Recompute forward from now, not from the stale next_run, so
		// overdue tasks do not fire repeatedly to catch up.
		next, err := NextRun(task.Schedule, now)
		if err != nil {
			s.logger.Error("next run computation failed", "task_id", task.ID, "error", err)
			next = task.NextRun
		}
		if err := s.store.MarkTaskRan(ctx, task.ID, now, next); err != nil {
			s.logger.Error("mark task ran failed", "task_id", task.ID, "error", err)
		}
	}

	if onCompletion != nil {
		s.fireCompletion(onCompletion, task, result)
	}
}

func (s *Scheduler) fireCompletion(fn CompletionFunc, task *models.ScheduledTask, result string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("completion callback panicked", "task_id", task.ID, "panic", r)
		}
	}()
	fn(task, result)
}

// Schedule parses the schedule text, computes the first run, and
// persists the task. The store verifies the row by read-back before
// this returns.
func (s *Scheduler) Schedule(ctx context.Context, userID, name, prompt, scheduleText string, platform models.Platform) (*models.ScheduledTask, error) {
	sched, err := Parse(scheduleText, time.Local)
	if err != nil {
		return nil, err
	}

	now := s.now()
	next, err := NextRun(sched, now)
	if err != nil {
		return nil, err
	}

	task := &models.ScheduledTask{
		UserID:    userID,
		Platform:  platform,
		Name:      name,
		Prompt:    prompt,
		Schedule:  sched,
		CreatedAt: now,
		NextRun:   next,
		Enabled:   true,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	s.logger.Info("task scheduled", "task_id", task.ID, "name", name, "schedule", Describe(sched), "next_run", next)
	return task, nil
}

// List returns a user's tasks.
func (s *Scheduler) List(ctx context.Context, userID string) ([]*models.ScheduledTask, error) {
	return s.store.Tasks(ctx, userID)
}

// Cancel deletes a task. Its execution history is retained.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	return s.store.DeleteTask(ctx, id)
}

// Pause disables a task without losing its schedule.
func (s *Scheduler) Pause(ctx context.Context, id string) error {
	return s.store.SetTaskEnabled(ctx, id, false)
}

// Resume re-enables a task. The next run is recomputed forward from
// now so a long pause does not cause an immediate catch-up storm.
func (s *Scheduler) Resume(ctx context.Context, id string) error {
	task, err := s.store.TaskByID(ctx, id)
	if err != nil {
		return err
	}

	next, err := NextRun(task.Schedule, s.now())
	if err != nil {
		return err
	}

	task.Enabled = true
	task.NextRun = next
	return s.store.UpdateTask(ctx, task)
}
