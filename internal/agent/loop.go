package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/steward/internal/observability"
	"github.com/haasonsaas/steward/internal/skills"
	"github.com/haasonsaas/steward/internal/store"
	"github.com/haasonsaas/steward/internal/tools"
	"github.com/haasonsaas/steward/pkg/models"
)

type callOutcome string

const (
	outcomeOK      callOutcome = "ok"
	outcomeFailed  callOutcome = "failed"
	outcomeSkipped callOutcome = "skipped"
	outcomeDenied  callOutcome = "denied"
	outcomeUnknown callOutcome = "unknown tool"
)

type toolOutcome struct {
	name    string
	outcome callOutcome
}

type completionResult struct {
	text  string
	calls []models.ToolCall
}

// Chat runs one inbound utterance through the agentic loop and returns
// the assistant's final text. Operational faults are folded into the
// reply so platform adapters always have something to show; the error
// return covers only invalid requests and context cancellation.
func (a *Agent) Chat(ctx context.Context, req *ChatRequest) (string, error) {
	if req == nil || strings.TrimSpace(req.UserID) == "" {
		return "", fmt.Errorf("chat: a user id is required")
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Images) == 0 {
		return "", fmt.Errorf("chat: message text or images are required")
	}
	if a.provider == nil {
		return "", ErrNoProvider
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Platform == "" {
		req.Platform = models.PlatformCLI
	}

	ctx, span := a.tracer.Start(ctx, "agent.chat",
		attribute.String("platform", string(req.Platform)),
	)
	defer span.End()

	start := time.Now()
	status := "success"
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordChat(string(req.Platform), status, time.Since(start).Seconds())
		}
	}()

	ctx = tools.WithPlatform(ctx, req.Platform)

	conv, err := a.store.GetOrCreateConversation(ctx, req.UserID, req.SessionID, req.Platform)
	if err != nil {
		status = "error"
		observability.RecordError(span, err)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		a.logger.Error("open conversation", "user_id", req.UserID, "error", err)
		return fmt.Sprintf("I could not open your conversation history: %v", err), nil
	}

	history, err := a.store.Messages(ctx, conv.ID, a.cfg.HistoryLimit)
	if err != nil {
		a.logger.Warn("load history", "conversation_id", conv.ID, "error", err)
	}

	inbound := &models.Message{
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        req.Text,
		Attachments:    req.Images,
	}
	if err := a.store.AppendMessage(ctx, inbound); err != nil {
		a.logger.Warn("persist user message", "conversation_id", conv.ID, "error", err)
	}

	messages := make([]CompletionMessage, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, completionMessageFrom(m))
	}
	messages = append(messages, CompletionMessage{
		Role:        models.RoleUser,
		Content:     req.Text,
		Attachments: req.Images,
	})

	model := a.Model()
	if len(req.Images) > 0 && !a.visionCapable(model) {
		if vm := a.cfg.VisionModel; vm != "" && vm != model {
			a.emit(req.Stream, fmt.Sprintf("using %s for image input...\n", vm))
			model = vm
		}
	}

	system := a.composeSystemPrompt(ctx, req.UserID, req.Text)
	matched := a.matchedSkills(req.Text)

	reply, err := a.runLoop(ctx, req, conv, matched, model, system, messages)
	if err != nil {
		status = "error"
		observability.RecordError(span, err)
		return "", err
	}

	final := &models.Message{
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        reply,
	}
	if err := a.store.AppendMessage(ctx, final); err != nil {
		a.logger.Warn("persist assistant message", "conversation_id", conv.ID, "error", err)
	}
	return reply, nil
}

// runLoop drives model turns until the model answers without asking
// for tools, or the iteration cap trips. Only context cancellation
// surfaces as an error.
func (a *Agent) runLoop(ctx context.Context, req *ChatRequest, conv *models.Conversation, matched []*skills.Skill, model, system string, messages []CompletionMessage) (string, error) {
	defs := a.registry.Defs()
	var ran []toolOutcome

	for iteration := 1; iteration <= a.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		// Stream only the first turn. Later turns exist to digest tool
		// results and usually restate earlier text.
		var sink StreamFunc
		if iteration == 1 {
			sink = req.Stream
		}

		res, err := a.completeOnce(ctx, &CompletionRequest{
			Model:     model,
			System:    system,
			Messages:  messages,
			Tools:     defs,
			MaxTokens: a.cfg.MaxTokens,
		}, sink)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			a.logger.Error("model call failed", "model", model, "error", err)
			return fmt.Sprintf("I ran into a problem reaching the model: %v", err), nil
		}

		if len(res.calls) == 0 {
			return res.text, nil
		}

		assistant := &models.Message{
			ConversationID: conv.ID,
			Role:           models.RoleAssistant,
			Content:        res.text,
			ToolCalls:      res.calls,
		}
		if err := a.store.AppendMessage(ctx, assistant); err != nil {
			a.logger.Warn("persist assistant message", "conversation_id", conv.ID, "error", err)
		}
		messages = append(messages, CompletionMessage{
			Role:      models.RoleAssistant,
			Content:   res.text,
			ToolCalls: res.calls,
		})

		for _, call := range res.calls {
			a.emit(req.Stream, fmt.Sprintf("using %s...\n", call.Name))

			result, outcome := a.dispatchCall(ctx, req, call, false)
			ran = append(ran, toolOutcome{name: call.Name, outcome: outcome})
			a.recordSkillUse(matched, call.Name, outcome)

			toolMsg := &models.Message{
				ConversationID: conv.ID,
				Role:           models.RoleTool,
				Content:        result,
				ToolCallID:     call.ID,
				Name:           call.Name,
			}
			if err := a.store.AppendMessage(ctx, toolMsg); err != nil {
				a.logger.Warn("persist tool message", "conversation_id", conv.ID, "error", err)
			}
			messages = append(messages, CompletionMessage{
				Role: models.RoleTool,
				ToolResults: []models.ToolResult{{
					ToolCallID: call.ID,
					Name:       call.Name,
					Content:    result,
					IsError:    outcome == outcomeFailed || outcome == outcomeUnknown,
				}},
			})
		}
	}

	return synthesizeSummary(ran), nil
}

// dispatchCall runs the per-call gates in order: checkpoint, lookup,
// amount threshold, then execution. The approved flag marks a
// re-dispatch after a granted approval so no gate fires twice.
func (a *Agent) dispatchCall(ctx context.Context, req *ChatRequest, call models.ToolCall, approved bool) (string, callOutcome) {
	if !approved && a.checkpointOn() {
		granted := a.requestApproval(ctx, req.UserID, req.Platform, call, nil, fmt.Sprintf("Run %s?", call.Name))
		if !granted {
			return "skipped by user", outcomeSkipped
		}
	}

	tool, ok := a.registry.Get(call.Name)
	if !ok {
		return fmt.Sprintf("Tool %q is not available.", call.Name), outcomeUnknown
	}

	if !approved && tool.Descriptor().RequiresApproval {
		if amount := amountArgument(call.Arguments); amount != nil && *amount > a.cfg.ApprovalThreshold {
			desc := fmt.Sprintf("%s requests approval for an amount of %.2f", call.Name, *amount)
			if !a.requestApproval(ctx, req.UserID, req.Platform, call, amount, desc) {
				return deniedResult, outcomeDenied
			}
			return a.dispatchCall(ctx, req, call, true)
		}
	}

	execCtx, execSpan := a.tracer.Start(ctx, "tool.execute",
		attribute.String("tool.name", call.Name),
	)
	start := time.Now()
	result, execErr := a.registry.Execute(execCtx, call.Name, req.UserID, call.Arguments)
	elapsed := time.Since(start)
	observability.RecordError(execSpan, execErr)
	execSpan.End()

	if a.metrics != nil {
		st := "success"
		if execErr != nil {
			st = "error"
		}
		a.metrics.RecordToolExecution(call.Name, st, elapsed.Seconds())
	}

	audit := &store.ToolExecution{
		UserID:    req.UserID,
		Platform:  req.Platform,
		Tool:      call.Name,
		Arguments: call.Arguments,
		Result:    result,
		Success:   execErr == nil,
		Duration:  elapsed,
	}
	if execErr != nil {
		audit.Error = execErr.Error()
	}
	if err := a.store.RecordToolExecution(ctx, audit); err != nil {
		a.logger.Warn("record tool execution", "tool", call.Name, "error", err)
	}

	if execErr != nil {
		failure := &models.Failure{
			Tool:      call.Name,
			Kind:      errorKind(execErr),
			Text:      execErr.Error(),
			Arguments: call.Arguments,
			UserID:    req.UserID,
			Platform:  req.Platform,
		}
		if _, err := a.store.LogFailure(ctx, failure); err != nil {
			a.logger.Warn("log failure", "tool", call.Name, "error", err)
		}
		a.logger.Warn("tool call failed", "tool", call.Name, "kind", failure.Kind, "error", execErr)
		return fmt.Sprintf("Error executing tool: %v", execErr), outcomeFailed
	}

	return result, outcomeOK
}

// matchedSkills returns the approved skills the utterance triggered,
// held for the length of the loop so their counters can record how
// applying them went.
func (a *Agent) matchedSkills(utterance string) []*skills.Skill {
	if a.skills == nil {
		return nil
	}
	return a.skills.Match(utterance)
}

// recordSkillUse bumps the counters of every matched skill targeting
// the tool that just ran. Denied and skipped calls say nothing about
// the skill, so only executions count.
func (a *Agent) recordSkillUse(matched []*skills.Skill, toolName string, outcome callOutcome) {
	if outcome != outcomeOK && outcome != outcomeFailed {
		return
	}
	for _, skill := range matched {
		if skill.TargetTool != toolName {
			continue
		}
		if err := a.skills.RecordUse(skill.ID, outcome == outcomeOK); err != nil {
			a.logger.Warn("record skill use", "skill", skill.Name, "error", err)
		}
	}
}

// completeOnce performs one model turn and drains the chunk stream
// into a full result, forwarding text deltas to sink when set.
func (a *Agent) completeOnce(ctx context.Context, creq *CompletionRequest, sink StreamFunc) (*completionResult, error) {
	ctx, span := a.tracer.Start(ctx, "model.complete",
		attribute.String("model.id", creq.Model),
	)
	defer span.End()

	start := time.Now()
	chunks, err := a.provider.Complete(ctx, creq)
	if err != nil {
		observability.RecordError(span, err)
		a.recordModelCall(creq.Model, "error", time.Since(start), 0, 0)
		return nil, err
	}

	res := &completionResult{}
	var text strings.Builder
	var inputTokens, outputTokens int
	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			cerr := chunk.Error
			for range chunks {
			}
			observability.RecordError(span, cerr)
			a.recordModelCall(creq.Model, "error", time.Since(start), inputTokens, outputTokens)
			return nil, cerr
		}
		if chunk.InputTokens > 0 {
			inputTokens = chunk.InputTokens
		}
		if chunk.OutputTokens > 0 {
			outputTokens = chunk.OutputTokens
		}
		if chunk.ToolCall != nil {
			res.calls = append(res.calls, *chunk.ToolCall)
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			a.emit(sink, chunk.Text)
		}
	}
	res.text = text.String()
	a.recordModelCall(creq.Model, "success", time.Since(start), inputTokens, outputTokens)
	return res, nil
}

func (a *Agent) recordModelCall(model, status string, elapsed time.Duration, inputTokens, outputTokens int) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordModelCall(a.provider.Name(), model, status, elapsed.Seconds(), inputTokens, outputTokens)
}

func (a *Agent) emit(sink StreamFunc, text string) {
	if sink != nil && text != "" {
		sink(text)
	}
}

func synthesizeSummary(ran []toolOutcome) string {
	if len(ran) == 0 {
		return "I hit my iteration limit before producing an answer. Please try rephrasing the request."
	}
	var b strings.Builder
	b.WriteString("I hit my iteration limit before finishing. Here is what ran:\n")
	for _, r := range ran {
		fmt.Fprintf(&b, "- %s: %s\n", r.name, r.outcome)
	}
	b.WriteString("Ask me to continue and I will pick up from here.")
	return b.String()
}

func completionMessageFrom(m *models.Message) CompletionMessage {
	cm := CompletionMessage{
		Role:        m.Role,
		Content:     m.Content,
		ToolCalls:   m.ToolCalls,
		Attachments: m.Attachments,
	}
	if m.Role == models.RoleTool {
		cm.Content = ""
		cm.ToolResults = []models.ToolResult{{
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
			Content:    m.Content,
		}}
	}
	return cm
}

func amountArgument(args json.RawMessage) *float64 {
	if len(args) == 0 {
		return nil
	}
	var payload struct {
		Amount *float64 `json:"amount"`
	}
	if err := json.Unmarshal(args, &payload); err != nil {
		return nil
	}
	return payload.Amount
}
