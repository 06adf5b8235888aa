package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/triagedesk/internal/app"
	"github.com/linnemanlabs/triagedesk/internal/triage"
)

func init() {
	cmd := &cobra.Command{
		Use:   "interactive",
		Short: "Read tickets from stdin, one per line",
		Args:  cobra.NoArgs,
		RunE:  runInteractive,
	}
	cmd.Flags().String("user", "", "Submitting user ID")

	RootCmd.AddCommand(cmd)
}

func runInteractive(cmd *cobra.Command, _ []string) error {
	user, _ := cmd.Flags().GetString("user")

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		out := cmd.OutOrStdout()
		in := bufio.NewScanner(cmd.InOrStdin())
		in.Buffer(make([]byte, 0, 64*1024), 1<<20)

		fmt.Fprintln(out, "Enter ticket description (or 'exit' to quit):")
		for n := 1; ; {
			fmt.Fprintf(out, "\nTicket #%d> ", n)
			if !in.Scan() {
				fmt.Fprintln(out)
				return in.Err()
			}
			line := strings.TrimSpace(in.Text())
			switch strings.ToLower(line) {
			case "":
				continue
			case "exit", "quit":
				return nil
			}

			err := processOne(ctx, out, a, &triage.Ticket{Description: line, UserID: user})
			switch {
			case errors.Is(err, triage.ErrDuplicateTicket):
				fmt.Fprintf(out, "error: %v\n", err)
			case err != nil:
				return err
			}
			n++
		}
	})
}
