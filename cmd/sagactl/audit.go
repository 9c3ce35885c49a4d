package main

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	storepg "github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/store/postgres"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Read the compensation audit trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list <userId>",
	Short: "List every audit record of a user in insertion order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}

		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		logs, err := storepg.New(db).ListEventLogs(ctx, userID)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(logs)
		}

		heading(fmt.Sprintf("Audit trail of user %d", userID))
		if len(logs) == 0 {
			fmt.Printf("  %s[-] no records%s\n", Dim, Reset)
			return nil
		}
		fmt.Printf("  %s%-6s %-22s %-10s %-20s %s%s\n", Dim, "ID", "STEP", "STATUS", "CREATED", "ERROR", Reset)
		for _, l := range logs {
			msg := ""
			if l.ErrorMessage != nil {
				msg = *l.ErrorMessage
			}
			fmt.Printf("  %-6d %-22s %s%-10s%s %-20s %s\n",
				l.ID, l.EventType, statusColor(string(l.Status)), l.Status, Reset,
				l.CreatedAt.Format(time.DateTime), msg)
		}
		return nil
	},
}

func init() {
	auditCmd.AddCommand(auditListCmd)
}
