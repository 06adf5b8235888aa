package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/triagedesk/internal/app"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a stored ticket and its outcome",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		t, ok, err := a.Service.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get ticket: %w", err)
		}
		if !ok {
			return fmt.Errorf("ticket %q not found", args[0])
		}
		b, _ := json.MarshalIndent(t, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return nil
	})
}
