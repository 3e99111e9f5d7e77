package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/steward/internal/scheduler"
	"github.com/haasonsaas/steward/internal/store"
	"github.com/haasonsaas/steward/internal/tools"
	"github.com/haasonsaas/steward/pkg/models"
)

const taskTimeFormat = "Mon Jan 2 at 15:04"

// ScheduleProvider lets the model create and manage recurring or
// one-shot prompts that fire on the heartbeat.
type ScheduleProvider struct {
	scheduler *scheduler.Scheduler
}

// NewScheduleProvider creates the scheduling provider.
func NewScheduleProvider(s *scheduler.Scheduler) *ScheduleProvider {
	return &ScheduleProvider{scheduler: s}
}

// Tools implements tools.Provider.
func (p *ScheduleProvider) Tools() []tools.Tool {
	return []tools.Tool{
		p.scheduleTool(),
		p.listTool(),
		p.cancelTool(),
		p.pauseTool(),
		p.resumeTool(),
	}
}

func (p *ScheduleProvider) scheduleTool() tools.Tool {
	return tools.Func{
		Desc: tools.Descriptor{
			Name:        "schedule_task",
			Description: "Schedule a prompt to run later or on a recurring basis. The result is delivered back to the user when it fires.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"name": {
						"type": "string",
						"description": "Short unique name for the task, e.g. 'morning-briefing'"
					},
					"prompt": {
						"type": "string",
						"description": "What to do when the task fires, phrased as a request"
					},
					"schedule": {
						"type": "string",
						"description": "When to run: 'every 30 minutes', 'daily at 7am', 'every morning', 'in 2 hours', or an ISO datetime"
					}
				},
				"required": ["name", "prompt", "schedule"]
			}`),
		},
		Fn: p.scheduleTask,
	}
}

func (p *ScheduleProvider) scheduleTask(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var input struct {
		Name     string `json:"name"`
		Prompt   string `json:"prompt"`
		Schedule string `json:"schedule"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("parse input: %w", err)
	}

	platform := tools.PlatformFromContext(ctx)
	task, err := p.scheduler.Schedule(ctx, userID, input.Name, input.Prompt, input.Schedule, platform)
	if err != nil {
		if errors.Is(err, scheduler.ErrUnparseableSchedule) {
			return "", fmt.Errorf("I could not understand the schedule %q. Try forms like 'every 30 minutes', 'daily at 7am', or 'in 2 hours'", input.Schedule)
		}
		if errors.Is(err, store.ErrAlreadyExists) {
			return "", fmt.Errorf("a task named %q already exists; cancel it first or pick another name", input.Name)
		}
		return "", err
	}

	return fmt.Sprintf("Scheduled %q (%s). Next run: %s.",
		task.Name, scheduler.Describe(task.Schedule), task.NextRun.Local().Format(taskTimeFormat)), nil
}

func (p *ScheduleProvider) listTool() tools.Tool {
	return tools.Func{
		Desc: tools.Descriptor{
			Name:        "list_scheduled_tasks",
			Description: "List the user's scheduled tasks with their schedules and next run times.",
			Schema:      json.RawMessage(`{"type": "object", "properties": {}}`),
		},
		Fn: p.listTasks,
	}
}

func (p *ScheduleProvider) listTasks(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	tasks, err := p.scheduler.List(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		return "No scheduled tasks.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d scheduled task(s):\n", len(tasks))
	for _, task := range tasks {
		fmt.Fprintf(&b, "- %s (%s)", task.Name, scheduler.Describe(task.Schedule))
		if task.Enabled {
			fmt.Fprintf(&b, ", next run %s", task.NextRun.Local().Format(taskTimeFormat))
		} else {
			b.WriteString(", paused")
		}
		if task.RunCount > 0 {
			fmt.Fprintf(&b, ", ran %d time(s)", task.RunCount)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (p *ScheduleProvider) cancelTool() tools.Tool {
	return tools.Func{
		Desc: tools.Descriptor{
			Name:        "cancel_scheduled_task",
			Description: "Cancel a scheduled task by name. Its run history is kept.",
			Schema:      nameOnlySchema("The task name from list_scheduled_tasks"),
		},
		Fn: func(ctx context.Context, userID string, args json.RawMessage) (string, error) {
			task, err := p.resolveTask(ctx, userID, args)
			if err != nil {
				return "", err
			}
			if err := p.scheduler.Cancel(ctx, task.ID); err != nil {
				return "", fmt.Errorf("cancel task: %w", err)
			}
			return fmt.Sprintf("Cancelled task %q.", task.Name), nil
		},
	}
}

func (p *ScheduleProvider) pauseTool() tools.Tool {
	return tools.Func{
		Desc: tools.Descriptor{
			Name:        "pause_scheduled_task",
			Description: "Pause a scheduled task without deleting it.",
			Schema:      nameOnlySchema("The task name from list_scheduled_tasks"),
		},
		Fn: func(ctx context.Context, userID string, args json.RawMessage) (string, error) {
			task, err := p.resolveTask(ctx, userID, args)
			if err != nil {
				return "", err
			}
			if err := p.scheduler.Pause(ctx, task.ID); err != nil {
				return "", fmt.Errorf("pause task: %w", err)
			}
			return fmt.Sprintf("Paused task %q.", task.Name), nil
		},
	}
}

func (p *ScheduleProvider) resumeTool() tools.Tool {
	return tools.Func{
		Desc: tools.Descriptor{
			Name:        "resume_scheduled_task",
			Description: "Resume a paused task. Its next run is computed from now.",
			Schema:      nameOnlySchema("The task name from list_scheduled_tasks"),
		},
		Fn: func(ctx context.Context, userID string, args json.RawMessage) (string, error) {
			task, err := p.resolveTask(ctx, userID, args)
			if err != nil {
				return "", err
			}
			if err := p.scheduler.Resume(ctx, task.ID); err != nil {
				return "", fmt.Errorf("resume task: %w", err)
			}
			return fmt.Sprintf("Resumed task %q.", task.Name), nil
		},
	}
}

func nameOnlySchema(description string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"type": "object",
		"properties": {
			"name": {
				"type": "string",
				"description": %q
			}
		},
		"required": ["name"]
	}`, description))
}

// resolveTask finds a task by name (or id) among the user's tasks.
func (p *ScheduleProvider) resolveTask(ctx context.Context, userID string, args json.RawMessage) (*models.ScheduledTask, error) {
	var input struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	tasks, err := p.scheduler.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	for _, task := range tasks {
		if task.Name == input.Name || task.ID == input.Name {
			return task, nil
		}
	}
	return nil, fmt.Errorf("no scheduled task named %q", input.Name)
}
