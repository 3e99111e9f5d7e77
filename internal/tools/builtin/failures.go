// Package builtin supplies the tool providers every deployment
// registers: self-healing failure inspection, user memory, and task
// scheduling. Schemas are authored JSON literals so the wire shape
// never drifts with refactors.
package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/steward/internal/skills"
	"github.com/haasonsaas/steward/internal/store"
	"github.com/haasonsaas/steward/internal/tools"
	"github.com/haasonsaas/steward/pkg/models"
)

// FailuresProvider exposes the failure log to the model so it can
// inspect, analyze, and resolve its own operational faults.
type FailuresProvider struct {
	store  *store.Store
	skills *skills.Library
}

// NewFailuresProvider creates the failure log provider.
func NewFailuresProvider(st *store.Store) *FailuresProvider {
	return &FailuresProvider{store: st}
}

// SetSkills attaches the skill library. With one attached, resolution
// notes are written back as pending skills for the user to review.
func (p *FailuresProvider) SetSkills(library *skills.Library) {
	p.skills = library
}

// Tools implements tools.Provider.
func (p *FailuresProvider) Tools() []tools.Tool {
	return []tools.Tool{p.checkTool(), p.summaryTool(), p.resolveTool()}
}

func (p *FailuresProvider) checkTool() tools.Tool {
	return tools.Func{
		Desc: tools.Descriptor{
			Name:        "check_failures",
			Description: "List recent tool failures. Use this when something has not been working to see what went wrong and how often.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"limit": {
						"type": "integer",
						"description": "Maximum number of failures to return (default 10)"
					},
					"unresolved_only": {
						"type": "boolean",
						"description": "Only show failures that have not been resolved yet (default true)"
					},
					"tool": {
						"type": "string",
						"description": "Only show failures for this tool"
					}
				}
			}`),
		},
		Fn: p.checkFailures,
	}
}

func (p *FailuresProvider) checkFailures(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	input := struct {
		Limit          int    `json:"limit"`
		UnresolvedOnly *bool  `json:"unresolved_only"`
		Tool           string `json:"tool"`
	}{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return "", fmt.Errorf("parse input: %w", err)
		}
	}
	if input.Limit <= 0 {
		input.Limit = 10
	}

	filter := store.FailureFilter{Tool: input.Tool, Limit: input.Limit}
	unresolvedOnly := input.UnresolvedOnly == nil || *input.UnresolvedOnly
	if unresolvedOnly {
		unresolved := false
		filter.Resolved = &unresolved
	}

	failures, err := p.store.Failures(ctx, filter)
	if err != nil {
		return "", fmt.Errorf("list failures: %w", err)
	}
	if len(failures) == 0 {
		if input.Tool != "" {
			return fmt.Sprintf("No recorded failures for %s.", input.Tool), nil
		}
		return "No recorded failures. Everything has been running clean.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d failure(s):\n", len(failures))
	for _, f := range failures {
		fmt.Fprintf(&b, "- [%s] %s (%s) x%d: %s", f.ID, f.Tool, f.Kind, f.Occurrences, f.Text)
		if f.Resolved {
			b.WriteString(" [resolved]")
		}
		fmt.Fprintf(&b, " (last seen %s)\n", f.Timestamp.Local().Format("2006-01-02 15:04"))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (p *FailuresProvider) summaryTool() tools.Tool {
	return tools.Func{
		Desc: tools.Descriptor{
			Name:        "failure_summary",
			Description: "Summarize the failure log: unresolved and resolved totals plus the tools and error kinds that fail most.",
			Schema:      json.RawMessage(`{"type": "object", "properties": {}}`),
		},
		Fn: p.failureSummary,
	}
}

func (p *FailuresProvider) failureSummary(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	summary, err := p.store.FailureSummary(ctx)
	if err != nil {
		return "", fmt.Errorf("summarize failures: %w", err)
	}
	if summary.Unresolved == 0 && summary.Resolved == 0 {
		return "The failure log is empty.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Failure log: %d unresolved, %d resolved.", summary.Unresolved, summary.Resolved)
	if len(summary.TopTools) > 0 {
		b.WriteString("\nTop failing tools:")
		for _, c := range summary.TopTools {
			fmt.Fprintf(&b, "\n- %s (%d)", c.Name, c.Count)
		}
	}
	if len(summary.TopKinds) > 0 {
		b.WriteString("\nTop error kinds:")
		for _, c := range summary.TopKinds {
			fmt.Fprintf(&b, "\n- %s (%d)", c.Name, c.Count)
		}
	}
	return b.String(), nil
}

func (p *FailuresProvider) resolveTool() tools.Tool {
	return tools.Func{
		Desc: tools.Descriptor{
			Name:        "resolve_failure",
			Description: "Mark a failure as resolved once the underlying problem has been fixed or explained. Notes describing the fix are kept as a pending skill for the user to approve.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {
						"type": "string",
						"description": "The failure id from check_failures"
					},
					"notes": {
						"type": "string",
						"description": "What fixed it or why it no longer applies"
					}
				},
				"required": ["id"]
			}`),
		},
		Fn: p.resolveFailure,
	}
}

func (p *FailuresProvider) resolveFailure(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var input struct {
		ID    string `json:"id"`
		Notes string `json:"notes"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("parse input: %w", err)
	}

	failure, err := p.store.FailureByID(ctx, input.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("no failure with id %s", input.ID)
		}
		return "", fmt.Errorf("resolve failure: %w", err)
	}
	if err := p.store.ResolveFailure(ctx, input.ID, input.Notes); err != nil {
		return "", fmt.Errorf("resolve failure: %w", err)
	}

	reply := fmt.Sprintf("Marked failure %s as resolved.", input.ID)
	if skill := p.proposeSkill(failure, input.Notes); skill != nil {
		reply += fmt.Sprintf(" Kept the fix as skill %q; it applies once approved.", skill.Name)
	}
	return reply, nil
}

// proposeSkill turns a resolved failure and its notes into a pending
// skill, so the fix outlives the conversation it happened in. Returns
// nil when no library is attached or the notes are empty.
func (p *FailuresProvider) proposeSkill(failure *models.Failure, notes string) *skills.Skill {
	if p.skills == nil || strings.TrimSpace(notes) == "" {
		return nil
	}

	skill := &skills.Skill{
		Name:       skillName(failure.Tool),
		TargetTool: failure.Tool,
		Triggers:   skillTriggers(failure.Tool),
		Source:     fmt.Sprintf("failure %s (%s)", failure.ID, failure.Kind),
		Instructions: fmt.Sprintf("When using %s, watch for this failure:\n\n> %s\n\nResolution: %s\n",
			failure.Tool, failure.Text, strings.TrimSpace(notes)),
	}
	if err := p.skills.SavePending(skill); err != nil {
		return nil
	}
	return skill
}

// skillName derives a valid skill name from a tool name.
func skillName(tool string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(tool) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		name = "tool"
	}
	return name + "-recovery"
}

// skillTriggers matches both the literal tool name and its spoken
// form, so "send_payment" skills also fire on "send payment".
func skillTriggers(tool string) []string {
	triggers := []string{tool}
	if spoken := strings.ReplaceAll(tool, "_", " "); spoken != tool {
		triggers = append(triggers, spoken)
	}
	return triggers
}
