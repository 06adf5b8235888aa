package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"
	v "github.com/linnemanlabs/go-core/version"
	"github.com/spf13/cobra"

	"github.com/linnemanlabs/triagedesk/internal/app"
	vc "github.com/linnemanlabs/triagedesk/internal/cfg"
)

const appName = "triagedesk"

var (
	appCfg vc.Config
	logCfg log.Config

	// goFlags carries the flag.FlagSet-based config so FillFromEnv can see it.
	goFlags = flag.NewFlagSet("triagectl", flag.ContinueOnError)
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:               "triagectl",
	Short:             "Support ticket triage from the command line",
	Long:              "Classify support tickets, escalate the urgent ones and draft replies for the rest, using the same pipeline as the HTTP server.",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	appCfg.RegisterFlags(goFlags)
	logCfg.RegisterFlags(goFlags)
	RootCmd.PersistentFlags().AddGoFlagSet(goFlags)
}

// loadConfig fills unset flags from .env files and TRIAGEDESK_ variables,
// then validates.
func loadConfig(cmd *cobra.Command, _ []string) error {
	v.AppName = appName
	v.Component = "cli"

	// cobra parses into the wrapped values without marking them set on
	// goFlags; replay them so the environment does not override them
	var errs []error
	goFlags.VisitAll(func(f *flag.Flag) {
		if cmd.Flags().Changed(f.Name) {
			errs = append(errs, goFlags.Set(f.Name, f.Value.String()))
		}
	})
	if err := errors.Join(errs...); err != nil {
		return err
	}

	logf := func(format string, args ...any) {
		fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
	}
	if err := vc.LoadDotEnv(logf); err != nil {
		return fmt.Errorf("load dotenv: %w", err)
	}
	cfg.FillFromEnv(goFlags, "TRIAGEDESK_", logf)

	if err := errors.Join(appCfg.Validate(), logCfg.Validate()); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if appCfg.Offline {
		fmt.Fprintln(cmd.ErrOrStderr(), "running in offline mode: rule classification, knowledge base web stub")
	}
	return nil
}

// withApp builds the pipeline, runs fn and tears the pipeline down.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	lg, err := log.New(logCfg.ToOptions(appName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()
	L := lg.With("component", "cli")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = log.WithContext(ctx, L)

	a, err := app.New(ctx, &appCfg, L, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	return fn(ctx, a)
}
