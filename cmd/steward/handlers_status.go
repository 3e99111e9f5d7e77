package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/steward/internal/skills"
	"github.com/haasonsaas/steward/pkg/models"
)

// =============================================================================
// Status Command Handler
// =============================================================================

// runStatus prints a one-screen overview: build info, store health,
// scheduled work, open failures, skills, and recent activity.
func runStatus(cmd *cobra.Command, configPath, userID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "steward %s (commit: %s, built: %s)\n", version, commit, date)
	fmt.Fprintf(out, "model: %s via %s\n", cfg.Provider(cfg.Model.DefaultProvider).DefaultModel, cfg.Model.DefaultProvider)

	if err := st.Ping(ctx); err != nil {
		fmt.Fprintf(out, "store: %s (error: %v)\n", cfg.Store.Path, err)
	} else {
		fmt.Fprintf(out, "store: %s (ok)\n", cfg.Store.Path)
	}

	tasks, err := st.Tasks(ctx, userID)
	if err != nil {
		return err
	}
	enabled := 0
	var next *models.ScheduledTask
	for _, task := range tasks {
		if !task.Enabled {
			continue
		}
		enabled++
		if next == nil || task.NextRun.Before(next.NextRun) {
			next = task
		}
	}
	if next != nil {
		fmt.Fprintf(out, "tasks: %d scheduled (next: %s at %s)\n",
			enabled, next.Name, next.NextRun.Local().Format("2006-01-02 15:04"))
	} else {
		fmt.Fprintf(out, "tasks: %d scheduled\n", enabled)
	}

	summary, err := st.FailureSummary(ctx)
	if err != nil {
		return err
	}
	if summary.Unresolved > 0 && len(summary.TopTools) > 0 {
		fmt.Fprintf(out, "failures: %d open (top: %s x%d)\n",
			summary.Unresolved, summary.TopTools[0].Name, summary.TopTools[0].Count)
	} else {
		fmt.Fprintf(out, "failures: %d open\n", summary.Unresolved)
	}

	lib := skills.NewLibrary(cfg.Skills.Dir)
	if err := lib.Load(); err == nil {
		approved, pending := 0, 0
		for _, skill := range lib.Skills() {
			switch skill.Status {
			case skills.StatusApproved:
				approved++
			case skills.StatusPending:
				pending++
			}
		}
		fmt.Fprintf(out, "skills: %d approved, %d pending\n", approved, pending)
	}

	queued, err := st.PendingNotifications(ctx, models.PlatformCLI)
	if err != nil {
		return err
	}
	if len(queued) > 0 {
		fmt.Fprintf(out, "notifications: %d queued (printed on the next chat or serve)\n", len(queued))
	}

	recent, err := st.RecentActivity(ctx, 5)
	if err != nil {
		return err
	}
	if len(recent) > 0 {
		fmt.Fprintln(out, "\nrecent activity:")
		for _, conv := range recent {
			session := conv.SessionID
			if session == "" {
				session = "-"
			}
			fmt.Fprintf(out, "  %s  %s  %s/%s\n",
				conv.UpdatedAt.Local().Format("2006-01-02 15:04"),
				conv.Platform, conv.UserID, session)
		}
	}
	return nil
}
