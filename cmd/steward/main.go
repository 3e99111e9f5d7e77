// Package main provides the CLI entry point for the Steward local AI agent.
//
// Steward runs an agentic loop against a locally hosted model (Ollama by
// default, Anthropic or OpenAI when configured) with persistent memory,
// natural language task scheduling, and a failure-driven skill library.
//
// # Basic Usage
//
// Start the daemon:
//
//	steward serve --config steward.yaml
//
// Talk to the agent:
//
//	steward chat "remind me to stretch every morning at 9am"
//
// Inspect state:
//
//	steward status
//	steward schedule list
//	steward memory list
//	steward failures list
//	steward skills list
//	steward audit tools
//
// # Environment Variables
//
//   - STEWARD_CONFIG: Path to the configuration file
//   - ANTHROPIC_API_KEY: API key for the Anthropic backend
//   - OPENAI_API_KEY: API key for the OpenAI backend
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

// main is the entry point for the Steward CLI.
// It sets up the root command and all subcommands, then executes based on CLI args.
func main() {
	// Commands that load a config replace this with the configured
	// handler; until then log plainly to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "steward",
		Short: "Steward - local AI agent with memory, schedules, and skills",
		Long: `Steward is a locally hosted AI agent. It talks to a model on your own
machine (Ollama) or a hosted API (Anthropic, OpenAI), remembers facts
across conversations, runs tasks on a schedule you describe in plain
language, and learns skills from its own failures.

State lives in a single SQLite file under ~/.steward by default.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildStatusCmd(),
		buildScheduleCmd(),
		buildMemoryCmd(),
		buildHistoryCmd(),
		buildFailuresCmd(),
		buildSkillsCmd(),
		buildAuditCmd(),
		buildSettingsCmd(),
		buildAuthCmd(),
	)

	return rootCmd
}
