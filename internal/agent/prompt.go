package agent

import (
	"context"
	"fmt"
	"strings"
)

const promptTimeFormat = "Monday, January 2, 2006 at 15:04 MST"

const basePrompt = `You are Steward, a personal AI assistant running on the user's own machine.

Be direct and concise. Use your tools instead of guessing: schedule
reminders when asked, remember facts the user shares, and check the
failure log when something keeps going wrong. When a tool fails, say
what happened rather than pretending it worked. Answer in plain text.`

// composeSystemPrompt assembles the per-request system prompt: the
// base prompt stamped with the current time, what is known about the
// user, the available tools, and any learned skills the utterance
// triggers.
func (a *Agent) composeSystemPrompt(ctx context.Context, userID, utterance string) string {
	var b strings.Builder

	base := strings.TrimSpace(a.cfg.SystemPrompt)
	if base == "" {
		base = basePrompt
	}
	b.WriteString(base)
	fmt.Fprintf(&b, "\n\nThe current date and time is %s.", a.now().Local().Format(promptTimeFormat))

	block, err := a.memory.FormatForPrompt(ctx, userID)
	if err != nil {
		a.logger.Warn("load memories for prompt", "user_id", userID, "error", err)
	} else if block != "" {
		b.WriteString("\n\n")
		b.WriteString(block)
	}

	if defs := a.registry.Defs(); len(defs) > 0 {
		b.WriteString("\n\n## Available Tools\n")
		b.WriteString("Call a tool whenever it gets the user a better answer than guessing.\n")
		for _, def := range defs {
			fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
		}
	}

	if a.skills != nil {
		if sb := a.skills.PromptBlock(utterance); sb != "" {
			b.WriteString("\n")
			b.WriteString(sb)
		}
	}

	return b.String()
}
