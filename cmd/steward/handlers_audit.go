package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// =============================================================================
// Audit Command Handlers
// =============================================================================

// runAuditTools handles the audit tools command.
func runAuditTools(cmd *cobra.Command, configPath, userID string, limit int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	execs, err := st.ToolExecutions(cmd.Context(), userID, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(execs) == 0 {
		fmt.Fprintln(out, "No tool calls recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tTOOL\tRESULT\tDURATION\tDETAIL")
	for _, exec := range execs {
		result := "ok"
		detail := truncate(exec.Result, 60)
		if !exec.Success {
			result = "error"
			detail = truncate(exec.Error, 60)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			exec.CreatedAt.Local().Format("2006-01-02 15:04"),
			exec.Tool,
			result,
			exec.Duration,
			detail,
		)
	}
	return w.Flush()
}

// runAuditApprovals handles the audit approvals command.
func runAuditApprovals(cmd *cobra.Command, configPath, userID string, limit int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.Approvals(cmd.Context(), userID, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No approval requests recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tTOOL\tAMOUNT\tOUTCOME\tDESCRIPTION")
	for _, rec := range records {
		amount := "-"
		if rec.Amount != nil {
			amount = fmt.Sprintf("%.2f", *rec.Amount)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.ResolvedAt.Local().Format("2006-01-02 15:04"),
			rec.Tool,
			amount,
			rec.Outcome,
			truncate(rec.Description, 60),
		)
	}
	return w.Flush()
}
