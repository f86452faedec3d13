// Package main provides the entry point for the cctags CLI tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parameterIT/experiment-toolkit/cmd/cctags/commands"
	"github.com/parameterIT/experiment-toolkit/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	globals := &commands.Globals{}

	rootCmd := &cobra.Command{
		Use:   "cctags",
		Short: "Run Code Climate over every tag of a repository",
		Long: `cctags drives Code Climate across the tags of a repository and writes
per-tag issue frequencies and locations for comparison with other quality models.

Commands:
  run       Reconcile tags with remote builds and write their issues
  local     Aggregate local "codeclimate analyze -f json" reports
  plot      Compare quality models across tags as line charts`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	globals.Register(rootCmd.PersistentFlags())

	rootCmd.AddCommand(commands.NewRunCommand(globals))
	rootCmd.AddCommand(commands.NewLocalCommand(globals))
	rootCmd.AddCommand(commands.NewPlotCommand(globals))
	rootCmd.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "cctags %s\n", version.String())
		},
	}
}
