package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/triagedesk/internal/app"
	"github.com/linnemanlabs/triagedesk/internal/triage"
)

func init() {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Triage a single ticket",
		Args:  cobra.NoArgs,
		RunE:  runProcess,
	}

	cmd.Flags().StringP("ticket", "t", "", "Ticket description (required)")
	cmd.Flags().String("id", "", "Ticket ID (default: generated)")
	cmd.Flags().String("user", "", "Submitting user ID")
	cmd.Flags().String("priority", "", "Caller supplied priority")

	_ = cmd.MarkFlagRequired("ticket")

	RootCmd.AddCommand(cmd)
}

func runProcess(cmd *cobra.Command, _ []string) error {
	desc, _ := cmd.Flags().GetString("ticket")
	id, _ := cmd.Flags().GetString("id")
	user, _ := cmd.Flags().GetString("user")
	priority, _ := cmd.Flags().GetString("priority")

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		return processOne(ctx, cmd.OutOrStdout(), a, &triage.Ticket{
			ID:          id,
			Description: desc,
			UserID:      user,
			Priority:    priority,
		})
	})
}

// processOne triages t and prints the outcome.
func processOne(ctx context.Context, w io.Writer, a *app.App, t *triage.Ticket) error {
	res, err := a.Service.Process(ctx, t)
	if err != nil {
		return fmt.Errorf("process ticket: %w", err)
	}
	printResult(w, res)
	return nil
}

func printResult(w io.Writer, res *triage.Result) {
	fmt.Fprintf(w, "\n=== Result [%s] ===\n", res.TicketID)
	fmt.Fprintf(w, "Category: %s (severity %s)\n", res.Category, res.Severity)
	fmt.Fprintf(w, "Status:   %s\n", res.Status)
	if res.Status == triage.StatusDrafted {
		fmt.Fprintf(w, "KB hits:  %d\n", res.KBHits)
	}
	if res.Draft != nil && res.Draft.Subject != "" {
		fmt.Fprintf(w, "Subject:  %s\n", res.Draft.Subject)
	}
	fmt.Fprintf(w, "Reply:    %s\n", res.Reply)
	fmt.Fprintf(w, "Took:     %s\n", res.Duration.Round(time.Millisecond))
}
