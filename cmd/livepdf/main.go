// Package main is the entry point for the livepdf preview tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/livepdf/cmd/livepdf/commands"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	globals := &commands.Globals{}

	rootCmd := &cobra.Command{
		Use:   "livepdf",
		Short: "Live PDF preview for text documents",
		Long: `livepdf renders documents to PDF as they change and keeps the
preview scrolled to the matching position.

Commands:
  watch     Re-render files whenever they are saved
  render    Render a file once
  map       Compute scroll positions between a document and its preview
  config    Inspect the effective configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&globals.ConfigPath, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&globals.Verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&globals.NoColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(commands.NewWatchCommand(globals))
	rootCmd.AddCommand(commands.NewRenderCommand(globals))
	rootCmd.AddCommand(commands.NewMapCommand(globals))
	rootCmd.AddCommand(commands.NewConfigCommand(globals))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "livepdf %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
