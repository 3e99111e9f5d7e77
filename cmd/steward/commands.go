package main

import (
	"strings"

	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that starts the daemon.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Steward daemon",
		Long: `Start the Steward daemon: the agent, the task scheduler heartbeat, the
skill watcher, and an optional metrics endpoint.

The daemon will:
1. Load configuration from the specified file (or built-in defaults)
2. Open the SQLite state store
3. Connect the configured model backend (Ollama, Anthropic, or OpenAI)
4. Start the scheduler and fire any tasks that came due while it was down
5. Watch the skills directory for edits

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with auto-discovered config
  steward serve

  # Start with a custom config
  steward serve --config /etc/steward/steward.yaml

  # Start with debug logging
  steward serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(),
		"Path to configuration file (YAML or JSON5)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// =============================================================================
// Chat Command
// =============================================================================

// buildChatCmd creates the "chat" command for talking to the agent.
func buildChatCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
		userID     string
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the agent",
		Long: `Send one message to the agent, or start an interactive session when no
message is given. The first reply streams to the terminal; tool
approvals are prompted inline. In a session, "/clear" wipes the
history and "exit" quits.`,
		Example: `  # One-shot question
  steward chat "what did I schedule for tomorrow?"

  # Interactive session
  steward chat`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, configPath, userID, sessionID, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(),
		"Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "default",
		"Session identifier; each session keeps its own history")
	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser,
		"User identifier")

	return cmd
}

// =============================================================================
// Status Command
// =============================================================================

// buildStatusCmd creates the "status" command for a quick health and
// activity overview.
func buildStatusCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store health, open failures, and recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, userID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(),
		"Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser, "User identifier")
	return cmd
}

// =============================================================================
// Schedule Commands
// =============================================================================

// buildScheduleCmd creates the "schedule" command group.
func buildScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled tasks",
	}
	cmd.AddCommand(buildScheduleAddCmd(), buildScheduleListCmd(), buildScheduleRunsCmd(), buildScheduleRmCmd())
	return cmd
}

func buildScheduleAddCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		name       string
	)
	cmd := &cobra.Command{
		Use:   "add <when> <prompt...>",
		Short: "Schedule a task from a plain language description",
		Long: `Schedule a task. The first argument says when to run, in plain
language; the rest is the prompt the agent runs at that time.

Accepted forms include "every day at 9am", "every 2 hours",
"every morning", "in 20 minutes", and an exact time like
"2026-03-15 09:00". One-shot forms run once and disable themselves.`,
		Example: `  steward schedule add "every day at 9am" summarize my open failures
  steward schedule add "in 45 minutes" remind me to take the bread out --name bread`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleAdd(cmd, configPath, userID, name, args[0], strings.Join(args[1:], " "))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser, "User identifier")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Task name (derived from the prompt when omitted)")
	return cmd
}

func buildScheduleListCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleList(cmd, configPath, userID)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser, "User identifier")
	return cmd
}

func buildScheduleRunsCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "runs <name-or-id>",
		Short: "Show the run history of a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleRuns(cmd, configPath, userID, args[0], limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser, "User identifier")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum runs to show (0 for no limit)")
	return cmd
}

func buildScheduleRmCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)
	cmd := &cobra.Command{
		Use:   "rm <name-or-id>",
		Short: "Cancel a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleRm(cmd, configPath, userID, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser, "User identifier")
	return cmd
}

// =============================================================================
// Memory Commands
// =============================================================================

// buildMemoryCmd creates the "memory" command group.
func buildMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Manage what the agent remembers",
	}
	cmd.AddCommand(buildMemorySetCmd(), buildMemoryListCmd(), buildMemoryForgetCmd())
	return cmd
}

func buildMemorySetCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		memType    string
	)
	cmd := &cobra.Command{
		Use:   "set <key> <value...>",
		Short: "Store or update a memory",
		Example: `  steward memory set name Jonathan
  steward memory set --type preference tone "short and direct"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemorySet(cmd, configPath, userID, memType, args[0], strings.Join(args[1:], " "))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser, "User identifier")
	cmd.Flags().StringVarP(&memType, "type", "t", "fact",
		"Memory type: core, preference, fact, context, relationship, or custom")
	return cmd
}

func buildMemoryListCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored memories grouped by type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemoryList(cmd, configPath, userID)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser, "User identifier")
	return cmd
}

func buildMemoryForgetCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		memType    string
	)
	cmd := &cobra.Command{
		Use:   "forget <key>",
		Short: "Delete a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemoryForget(cmd, configPath, userID, memType, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser, "User identifier")
	cmd.Flags().StringVarP(&memType, "type", "t", "fact",
		"Memory type: core, preference, fact, context, relationship, or custom")
	return cmd
}

// =============================================================================
// Failures Commands
// =============================================================================

// buildFailuresCmd creates the "failures" command group.
func buildFailuresCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "Inspect and resolve tool failures",
	}
	cmd.AddCommand(buildFailuresListCmd(), buildFailuresResolveCmd())
	return cmd
}

func buildFailuresListCmd() *cobra.Command {
	var (
		configPath string
		all        bool
		tool       string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded tool failures",
		Long: `List tool failures, most recent first. Repeats of the same failure
collapse into one row with an occurrence count. By default only open
failures are shown; use --all to include resolved ones.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFailuresList(cmd, configPath, all, tool, limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include resolved failures")
	cmd.Flags().StringVar(&tool, "tool", "", "Only failures from this tool")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows to show (0 for no limit)")
	return cmd
}

func buildFailuresResolveCmd() *cobra.Command {
	var (
		configPath string
		notes      string
	)
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark a failure as resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFailuresResolve(cmd, configPath, args[0], notes)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVar(&notes, "notes", "", "What fixed it")
	return cmd
}

// =============================================================================
// Skills Commands
// =============================================================================

// buildSkillsCmd creates the "skills" command group.
func buildSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Manage learned skills",
		Long: `Manage the skill library. Skills are markdown files with YAML
frontmatter under the skills directory: proposals land in pending/,
approved skills move to learned/ and start shaping the agent's
prompts.`,
	}
	cmd.AddCommand(buildSkillsListCmd(), buildSkillsApproveCmd(), buildSkillsRmCmd())
	return cmd
}

func buildSkillsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List skills and their review status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSkillsList(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	return cmd
}

func buildSkillsApproveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "approve <name-or-id>",
		Short: "Approve a pending skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSkillsApprove(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	return cmd
}

func buildSkillsRmCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "rm <name-or-id>",
		Short: "Delete a skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSkillsRm(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	return cmd
}

// =============================================================================
// History Commands
// =============================================================================

// buildHistoryCmd creates the "history" command group.
func buildHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and clear conversation history",
	}
	cmd.AddCommand(buildHistoryListCmd(), buildHistoryShowCmd(), buildHistoryClearCmd())
	return cmd
}

func buildHistoryListCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recently active first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryList(cmd, configPath, userID, limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser, "User identifier")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum conversations to show (0 for no limit)")
	return cmd
}

func buildHistoryShowCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "show <session-or-id>",
		Short: "Print the messages of one conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryShow(cmd, configPath, userID, args[0], limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser, "User identifier")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum messages to show (0 for no limit)")
	return cmd
}

func buildHistoryClearCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		sessionID  string
	)
	cmd := &cobra.Command{
		Use:   "clear [conversation-id]",
		Short: "Delete the messages of a session or one conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conversationID := ""
			if len(args) > 0 {
				conversationID = args[0]
			}
			return runHistoryClear(cmd, configPath, userID, sessionID, conversationID)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser, "User identifier")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "default", "Session to clear")
	return cmd
}

// =============================================================================
// Audit Commands
// =============================================================================

// buildAuditCmd creates the "audit" command group over the execution
// and approval trails.
func buildAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Review what the agent has done",
	}
	cmd.AddCommand(buildAuditToolsCmd(), buildAuditApprovalsCmd())
	return cmd
}

func buildAuditToolsCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List audited tool calls, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditTools(cmd, configPath, userID, limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser, "User identifier")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows to show (0 for no limit)")
	return cmd
}

func buildAuditApprovalsCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "List resolved approval requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditApprovals(cmd, configPath, userID, limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser, "User identifier")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows to show (0 for no limit)")
	return cmd
}

// =============================================================================
// Settings Commands
// =============================================================================

// buildSettingsCmd creates the "settings" command group for per-user
// key/value settings.
func buildSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage per-user settings",
	}
	cmd.AddCommand(buildSettingsSetCmd(), buildSettingsGetCmd(), buildSettingsListCmd(), buildSettingsUnsetCmd())
	return cmd
}

func buildSettingsSetCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)
	cmd := &cobra.Command{
		Use:   "set <key> <value...>",
		Short: "Store or update a setting",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettingsSet(cmd, configPath, userID, args[0], strings.Join(args[1:], " "))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser, "User identifier")
	return cmd
}

func buildSettingsGetCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettingsGet(cmd, configPath, userID, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser, "User identifier")
	return cmd
}

func buildSettingsListCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettingsList(cmd, configPath, userID)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser, "User identifier")
	return cmd
}

func buildSettingsUnsetCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)
	cmd := &cobra.Command{
		Use:   "unset <key>",
		Short: "Delete a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettingsUnset(cmd, configPath, userID, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser, "User identifier")
	return cmd
}

// =============================================================================
// Auth Commands
// =============================================================================

// buildAuthCmd creates the "auth" command group for provider API keys
// kept in the credential vault.
func buildAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage provider API keys",
		Long: `Manage API keys for model backends. Keys stored here live in the
local state database, so config files never need to hold secrets. The
config file and environment still win when they carry a key.`,
	}
	cmd.AddCommand(buildAuthSetCmd(), buildAuthStatusCmd(), buildAuthRmCmd())
	return cmd
}

func buildAuthSetCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "set <service> <api-key>",
		Short: "Store an API key for a model backend",
		Example: `  steward auth set anthropic sk-ant-...
  steward auth set openai sk-...`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthSet(cmd, configPath, args[0], args[1])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	return cmd
}

func buildAuthStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show where each backend's key comes from",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthStatus(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	return cmd
}

func buildAuthRmCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "rm <service>",
		Short: "Remove a stored API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthRm(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file (YAML or JSON5)")
	return cmd
}
