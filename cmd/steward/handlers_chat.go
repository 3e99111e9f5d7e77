package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/steward/internal/agent"
	"github.com/haasonsaas/steward/internal/observability"
	"github.com/haasonsaas/steward/internal/scheduler"
	"github.com/haasonsaas/steward/internal/skills"
	"github.com/haasonsaas/steward/pkg/models"
)

// =============================================================================
// Chat Command Handler
// =============================================================================

// runChat handles the chat command: one-shot when a message was given,
// an interactive session otherwise.
func runChat(cmd *cobra.Command, configPath, userID, sessionID, message string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Logs go to stderr; the conversation owns stdout.
	logger := observability.SetupLogging(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	provider, err := buildProvider(cmd.Context(), cfg, st)
	if err != nil {
		return err
	}

	registry := toolsRegistry(logger)
	ag := agent.NewAgent(provider, st, registry, agentConfig(cfg))
	ag.SetLogger(logger.With("component", "agent"))

	lib := skills.NewLibrary(cfg.Skills.Dir,
		skills.WithLogger(logger.With("component", "skills")))
	if err := lib.Load(); err != nil {
		logger.Warn("failed to load skills", "dir", cfg.Skills.Dir, "error", err)
	}
	ag.SetSkills(lib)

	// The daemon owns the heartbeat; scheduling from chat only writes
	// the task, which the daemon picks up on its next tick.
	sched := scheduler.NewScheduler(st, agent.NewRunner(ag),
		scheduler.WithLogger(logger.With("component", "scheduler")))
	if err := registerBuiltins(registry, ag, sched, st, lib); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	out := cmd.OutOrStdout()
	stdin := bufio.NewScanner(cmd.InOrStdin())
	stdin.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	ag.RegisterApprovalHandler(models.PlatformCLI, approvalPrompt(out, stdin))
	// Flush notifications queued for the terminal since the last
	// session, and print any that land mid-conversation.
	ag.RegisterMessageHandler(cmd.Context(), models.PlatformCLI, func(_ context.Context, _, notice string) error {
		fmt.Fprintf(out, "%s\n", notice)
		return nil
	})

	if strings.TrimSpace(message) != "" {
		return chatOnce(cmd.Context(), ag, out, userID, sessionID, message)
	}
	return chatLoop(cmd.Context(), ag, out, stdin, userID, sessionID)
}

// chatOnce sends a single message and prints the reply, streaming the
// first model turn as it arrives.
func chatOnce(ctx context.Context, ag *agent.Agent, out io.Writer, userID, sessionID, text string) error {
	var streamed strings.Builder
	reply, err := ag.Chat(ctx, &agent.ChatRequest{
		UserID:    userID,
		SessionID: sessionID,
		Platform:  models.PlatformCLI,
		Text:      text,
		Stream: func(chunk string) {
			streamed.WriteString(chunk)
			fmt.Fprint(out, chunk)
		},
	})
	if err != nil {
		return err
	}
	printReply(out, streamed.String(), reply)
	return nil
}

// printReply avoids repeating text that already streamed: a single-turn
// exchange streams the whole reply, while multi-turn replies arrive
// only in the return value.
func printReply(out io.Writer, streamed, reply string) {
	if streamed == reply {
		fmt.Fprintln(out)
		return
	}
	if streamed != "" && !strings.HasSuffix(streamed, "\n") {
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out, reply)
}

// chatLoop reads messages from the terminal until EOF or "exit".
func chatLoop(ctx context.Context, ag *agent.Agent, out io.Writer, stdin *bufio.Scanner, userID, sessionID string) error {
	fmt.Fprintf(out, "steward %s (model %s). Type a message, or \"exit\" to quit.\n", version, ag.Model())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(out, "> ")
		if !stdin.Scan() {
			fmt.Fprintln(out)
			return stdin.Err()
		}
		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if line == "/clear" {
			if err := ag.ClearHistory(ctx, userID, sessionID); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			} else {
				fmt.Fprintln(out, "History cleared.")
			}
			continue
		}
		if err := chatOnce(ctx, ag, out, userID, sessionID, line); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

// approvalPrompt asks on the terminal. It shares the session's stdin
// scanner: approvals only fire while the loop is blocked inside Chat,
// so the two readers never race.
func approvalPrompt(out io.Writer, stdin *bufio.Scanner) agent.ApprovalHandler {
	return func(_ context.Context, approval *models.Approval) (bool, error) {
		fmt.Fprintf(out, "\napproval needed: %s\n", approval.Description)
		if approval.Amount != nil {
			fmt.Fprintf(out, "  tool: %s, amount: %.2f\n", approval.Tool, *approval.Amount)
		} else {
			fmt.Fprintf(out, "  tool: %s\n", approval.Tool)
		}
		fmt.Fprint(out, "allow? [y/N] ")
		if !stdin.Scan() {
			return false, stdin.Err()
		}
		answer := strings.ToLower(strings.TrimSpace(stdin.Text()))
		return answer == "y" || answer == "yes", nil
	}
}
