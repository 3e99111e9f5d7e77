package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/steward/pkg/models"
)

// =============================================================================
// History Command Handlers
// =============================================================================

// runHistoryList handles the history list command.
func runHistoryList(cmd *cobra.Command, configPath, userID string, limit int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	convs, err := st.Conversations(cmd.Context(), userID, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(convs) == 0 {
		fmt.Fprintln(out, "No conversations yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tPLATFORM\tSTARTED\tLAST ACTIVITY\tID")
	for _, conv := range convs {
		session := conv.SessionID
		if session == "" {
			session = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			session,
			conv.Platform,
			conv.CreatedAt.Local().Format("2006-01-02 15:04"),
			conv.UpdatedAt.Local().Format("2006-01-02 15:04"),
			conv.ID,
		)
	}
	return w.Flush()
}

// runHistoryShow handles the history show command. The argument matches
// a session id first, then a conversation id.
func runHistoryShow(cmd *cobra.Command, configPath, userID, sessionOrID string, limit int) error {
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
	convs, err := st.Conversations(ctx, userID, 0)
	if err != nil {
		return err
	}
	var conv *models.Conversation
	for _, c := range convs {
		if c.SessionID == sessionOrID || c.ID == sessionOrID {
			conv = c
			break
		}
	}
	if conv == nil {
		return fmt.Errorf("no conversation matches %q", sessionOrID)
	}

	messages, err := st.Messages(ctx, conv.ID, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(messages) == 0 {
		fmt.Fprintln(out, "No messages in this conversation.")
		return nil
	}
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleTool:
			fmt.Fprintf(out, "[%s] tool %s: %s\n",
				msg.CreatedAt.Local().Format("15:04"), msg.Name, truncate(msg.Content, 100))
		default:
			fmt.Fprintf(out, "[%s] %s: %s\n",
				msg.CreatedAt.Local().Format("15:04"), msg.Role, msg.Content)
			for _, call := range msg.ToolCalls {
				fmt.Fprintf(out, "        -> %s %s\n", call.Name, truncate(string(call.Arguments), 80))
			}
		}
	}
	return nil
}

// runHistoryClear handles the history clear command. A conversation id
// clears just that conversation; otherwise the session flag decides
// the scope.
func runHistoryClear(cmd *cobra.Command, configPath, userID, sessionID, conversationID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if conversationID != "" {
		if err := st.ClearConversation(cmd.Context(), conversationID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared conversation %s.\n", conversationID)
		return nil
	}

	if err := st.ClearUserHistory(cmd.Context(), userID, sessionID); err != nil {
		return err
	}
	label := sessionID
	if label == "" {
		label = "ambient"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared history for session %q.\n", label)
	return nil
}
