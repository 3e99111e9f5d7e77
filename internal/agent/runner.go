package agent

import (
	"context"

	"github.com/haasonsaas/steward/pkg/models"
)

// Runner adapts the agent to the scheduler's runner contract. Each due
// task's prompt goes through the regular agentic loop inside its own
// conversation scope so scheduled output never interleaves with the
// user's live chat.
type Runner struct {
	agent *Agent
}

// NewRunner wraps an agent for scheduled execution.
func NewRunner(a *Agent) *Runner { return &Runner{agent: a} }

// Run executes the task's prompt and returns the final reply text.
func (r *Runner) Run(ctx context.Context, task *models.ScheduledTask) (string, error) {
	return r.agent.Chat(ctx, &ChatRequest{
		UserID:    task.UserID,
		SessionID: "scheduled_" + task.ID,
		Platform:  task.Platform,
		Text:      task.Prompt,
	})
}
