package main

import (
	"fmt"
	"os"

	"github.com/rvrun/rvrun/cli/cmd"
	"github.com/spf13/cobra"
)

var (
	version = "1.0.0"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "rvrun",
		Short:   "rvrun CLI - Interpret programs and run the interpreter's regression suite",
		Long:    `A command line interface for the rvrun interpreter service.`,
		Version: fmt.Sprintf("%s (%s) built at %s", version, commit, date),
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("url", "u", "http://localhost:5000", "rvrun API URL")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().String("output", "auto", "Output format (auto, json, plain)")

	// Add subcommands
	rootCmd.AddCommand(
		cmd.NewInterpretCommand(),
		cmd.NewReplCommand(),
		cmd.NewParseCommand(),
		cmd.NewGoldenCommand(),
		cmd.NewBuildCommand(),
		cmd.NewListCommand(),
		cmd.NewVersionCommand(version),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
