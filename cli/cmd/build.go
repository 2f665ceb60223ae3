package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rvrun/rvrun/internal/build"
	"github.com/rvrun/rvrun/internal/config"
	"github.com/spf13/cobra"
)

func NewBuildCommand() *cobra.Command {
	var (
		command string
		dir     string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the interpreter",
		Long: `Run the configured build command (build_command, default "make") in the
interpreter directory and report the checksum of the produced executable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			builder := build.NewBuilder(cfg)
			if command != "" {
				builder.Command = command
			}
			if dir != "" {
				builder.Dir = dir
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			result, err := builder.Build(ctx)
			var buildErr *build.Error
			if errors.As(err, &buildErr) {
				color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, "== Build Failed ==")
				fmt.Fprint(os.Stderr, indentLines(buildErr.Result.Stderr))
			}
			if err != nil {
				return err
			}

			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose && strings.TrimSpace(result.Stdout) != "" {
				fmt.Print(indentLines(result.Stdout))
			}

			color.New(color.FgGreen, color.Bold).Print("Built ")
			fmt.Printf("%s in %s\n", builder.OutputPath(), result.WallTime.Round(time.Millisecond))
			if result.Checksum != "" {
				fmt.Printf("sha256 %s\n", result.Checksum)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&command, "command", "", "Build command (default from build_command)")
	cmd.Flags().StringVarP(&dir, "dir", "C", "", "Directory to build in (default from interpreter_directory)")

	return cmd
}
