package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/triagedesk/internal/app"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		out := cmd.OutOrStdout()
		hits := a.Service.SearchKB(ctx, query)
		if len(hits) == 0 {
			fmt.Fprintf(out, "No knowledge base articles match %q.\n", query)
			return nil
		}
		for _, h := range hits {
			fmt.Fprintf(out, "[%s] %s\n    %s\n", h.ID, h.Title, h.Content)
		}
		return nil
	})
}
