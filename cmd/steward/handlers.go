package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/steward/internal/memory"
	"github.com/haasonsaas/steward/internal/scheduler"
	"github.com/haasonsaas/steward/internal/skills"
	"github.com/haasonsaas/steward/internal/store"
	"github.com/haasonsaas/steward/pkg/models"
)

// =============================================================================
// Schedule Command Handlers
// =============================================================================

// runScheduleAdd handles the schedule add command.
func runScheduleAdd(cmd *cobra.Command, configPath, userID, name, when, prompt string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if name == "" {
		name = taskNameFrom(prompt)
	}

	sched := scheduler.NewScheduler(st, nil)
	task, err := sched.Schedule(cmd.Context(), userID, name, prompt, when, models.PlatformCLI)
	if err != nil {
		return fmt.Errorf("failed to schedule: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scheduled %q: %s\n", task.Name, scheduler.Describe(task.Schedule))
	fmt.Fprintf(out, "  id: %s\n", task.ID)
	fmt.Fprintf(out, "  next run: %s\n", task.NextRun.Local().Format(time.RFC1123))
	return nil
}

// runScheduleList handles the schedule list command.
func runScheduleList(cmd *cobra.Command, configPath, userID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	tasks, err := scheduler.NewScheduler(st, nil).List(cmd.Context(), userID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No scheduled tasks.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSCHEDULE\tNEXT RUN\tRUNS\tSTATE\tID")
	for _, task := range tasks {
		state := "enabled"
		if !task.Enabled {
			state = "paused"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			task.Name,
			scheduler.Describe(task.Schedule),
			task.NextRun.Local().Format("2006-01-02 15:04"),
			task.RunCount,
			state,
			task.ID,
		)
	}
	return w.Flush()
}

// runScheduleRuns handles the schedule runs command.
func runScheduleRuns(cmd *cobra.Command, configPath, userID, nameOrID string, limit int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	task, err := findTask(cmd, st, userID, nameOrID)
	if err != nil {
		return err
	}
	execs, err := st.Executions(cmd.Context(), task.ID, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(execs) == 0 {
		fmt.Fprintf(out, "%q has not run yet.\n", task.Name)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RAN AT\tRESULT\tOUTPUT")
	for _, exec := range execs {
		result := "ok"
		if !exec.Success {
			result = "error"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			exec.RanAt.Local().Format("2006-01-02 15:04"),
			result,
			truncate(exec.Result, 70),
		)
	}
	return w.Flush()
}

// runScheduleRm handles the schedule rm command.
func runScheduleRm(cmd *cobra.Command, configPath, userID, nameOrID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	task, err := findTask(cmd, st, userID, nameOrID)
	if err != nil {
		return err
	}
	if err := scheduler.NewScheduler(st, nil).Cancel(cmd.Context(), task.ID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %q.\n", task.Name)
	return nil
}

// findTask resolves a task by exact name or id.
func findTask(cmd *cobra.Command, st *store.Store, userID, nameOrID string) (*models.ScheduledTask, error) {
	tasks, err := st.Tasks(cmd.Context(), userID)
	if err != nil {
		return nil, err
	}
	for _, task := range tasks {
		if task.Name == nameOrID || task.ID == nameOrID {
			return task, nil
		}
	}
	return nil, fmt.Errorf("no scheduled task named %q", nameOrID)
}

// taskNameFrom derives a short task name from the prompt when the user
// did not pick one.
func taskNameFrom(prompt string) string {
	words := strings.Fields(strings.ToLower(prompt))
	if len(words) > 4 {
		words = words[:4]
	}
	var cleaned []rune
	for _, r := range strings.Join(words, "-") {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			cleaned = append(cleaned, r)
		}
	}
	name := strings.Trim(string(cleaned), "-")
	if name == "" {
		return "task"
	}
	return name
}

// =============================================================================
// Memory Command Handlers
// =============================================================================

// runMemorySet handles the memory set command.
func runMemorySet(cmd *cobra.Command, configPath, userID, memType, key, value string) error {
	typ := models.MemoryType(memType)
	if !typ.Valid() {
		return fmt.Errorf("unknown memory type %q", memType)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	mem := &models.Memory{UserID: userID, Type: typ, Key: key, Value: value}
	if err := memory.NewManager(st).Save(cmd.Context(), mem); err != nil {
		return fmt.Errorf("failed to save memory: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Remembered %s/%s.\n", typ, key)
	return nil
}

// runMemoryList handles the memory list command.
func runMemoryList(cmd *cobra.Command, configPath, userID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	memories, err := memory.NewManager(st).All(cmd.Context(), userID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(memories) == 0 {
		fmt.Fprintln(out, "No memories stored.")
		return nil
	}

	byType := make(map[models.MemoryType][]*models.Memory)
	for _, mem := range memories {
		byType[mem.Type] = append(byType[mem.Type], mem)
	}
	for _, typ := range models.MemoryTypeOrder {
		entries := byType[typ]
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(out, "%s:\n", typ)
		for _, mem := range entries {
			fmt.Fprintf(out, "  %s: %s\n", mem.Key, mem.Value)
		}
	}
	return nil
}

// runMemoryForget handles the memory forget command.
func runMemoryForget(cmd *cobra.Command, configPath, userID, memType, key string) error {
	typ := models.MemoryType(memType)
	if !typ.Valid() {
		return fmt.Errorf("unknown memory type %q", memType)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := memory.NewManager(st).Delete(cmd.Context(), userID, typ, key); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s/%s.\n", typ, key)
	return nil
}

// =============================================================================
// Failures Command Handlers
// =============================================================================

// runFailuresList handles the failures list command.
func runFailuresList(cmd *cobra.Command, configPath string, all bool, tool string, limit int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	filter := store.FailureFilter{Tool: tool, Limit: limit}
	if !all {
		open := false
		filter.Resolved = &open
	}
	failures, err := st.Failures(cmd.Context(), filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(failures) == 0 {
		if all {
			fmt.Fprintln(out, "No failures recorded.")
		} else {
			fmt.Fprintln(out, "No open failures.")
		}
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tTOOL\tKIND\tCOUNT\tSTATE\tERROR\tID")
	for _, f := range failures {
		state := "open"
		if f.Resolved {
			state = "resolved"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			f.Timestamp.Local().Format("2006-01-02 15:04"),
			f.Tool,
			f.Kind,
			f.Occurrences,
			state,
			truncate(f.Text, 60),
			f.ID,
		)
	}
	return w.Flush()
}

// runFailuresResolve handles the failures resolve command.
func runFailuresResolve(cmd *cobra.Command, configPath, id, notes string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.ResolveFailure(cmd.Context(), id, notes); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Marked %s resolved.\n", id)
	return nil
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// =============================================================================
// Skills Command Handlers
// =============================================================================

// runSkillsList handles the skills list command.
func runSkillsList(cmd *cobra.Command, configPath string) error {
	lib, err := openSkills(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	list := lib.Skills()
	if len(list) == 0 {
		fmt.Fprintln(out, "No skills yet. Steward proposes skills as it works; approve them here.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tTRIGGERS\tOK\tFAIL")
	for _, skill := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
			skill.Name,
			skill.Status,
			truncate(strings.Join(skill.Triggers, ", "), 50),
			skill.SuccessCount,
			skill.FailureCount,
		)
	}
	return w.Flush()
}

// runSkillsApprove handles the skills approve command.
func runSkillsApprove(cmd *cobra.Command, configPath, nameOrID string) error {
	lib, err := openSkills(configPath)
	if err != nil {
		return err
	}

	skill, err := lib.Approve(nameOrID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Approved %q. It now applies to matching requests.\n", skill.Name)
	return nil
}

// runSkillsRm handles the skills rm command.
func runSkillsRm(cmd *cobra.Command, configPath, nameOrID string) error {
	lib, err := openSkills(configPath)
	if err != nil {
		return err
	}

	if err := lib.Remove(nameOrID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %q.\n", nameOrID)
	return nil
}

func openSkills(configPath string) (*skills.Library, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	lib := skills.NewLibrary(cfg.Skills.Dir)
	if err := lib.Load(); err != nil {
		return nil, fmt.Errorf("failed to load skills: %w", err)
	}
	return lib, nil
}
