package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/rvrun/rvrun/internal/build"
	"github.com/rvrun/rvrun/internal/config"
	"github.com/rvrun/rvrun/internal/golden"
	"github.com/spf13/cobra"
)

func NewGoldenCommand() *cobra.Command {
	var (
		binary      string
		noBuild     bool
		parallelism int
		timeout     time.Duration
		cases       []string
		standard    bool
	)

	cmd := &cobra.Command{
		Use:   "golden [dir]",
		Short: "Run the golden-file regression suite locally",
		Long: `Build the interpreter once, run it over every test_code/<name>.rv program and
compare its output with test_outputs/expected_<name>.txt.

Examples:
  # Discover and run every case in the current checkout
  rvrun golden

  # Run the standard suite in another checkout, four cases at a time
  rvrun golden ../interpreter --standard -j 4

  # Rerun two cases without rebuilding
  rvrun golden --no-build --case simple_if --case complex_if`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			dir := cfg.GoldenDirectory
			if len(args) == 1 {
				dir = args[0]
			}

			suite := &golden.Suite{
				Binary:      binary,
				Parallelism: parallelism,
				Timeout:     timeout,
			}
			if suite.Binary == "" {
				suite.Binary = filepath.Join(dir, cfg.BuildOutput)
			}

			switch {
			case len(cases) > 0:
				suite.Cases = golden.NamedCases(dir, cases)
			case standard:
				suite.Cases = golden.NamedCases(dir, golden.DefaultCaseNames)
			default:
				if suite.Cases, err = golden.LoadCases(dir); err != nil {
					return err
				}
			}

			if !noBuild {
				builder := build.NewBuilder(cfg)
				builder.Dir = dir
				suite.Builder = builder
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			verbose, _ := cmd.Flags().GetBool("verbose")
			report, err := suite.Run(ctx)
			if err != nil {
				if report != nil && report.Build != nil && report.Build.Stderr != "" {
					fmt.Fprint(os.Stderr, indentLines(report.Build.Stderr))
				}
				return err
			}

			return printReport(os.Stdout, report, verbose)
		},
	}

	cmd.Flags().StringVarP(&binary, "binary", "b", "", "Interpreter executable (default <dir>/<build_output>)")
	cmd.Flags().BoolVar(&noBuild, "no-build", false, "Skip the build step")
	cmd.Flags().IntVarP(&parallelism, "jobs", "j", 1, "Number of cases to run at once")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Per-case timeout")
	cmd.Flags().StringSliceVarP(&cases, "case", "c", nil, "Run only the named cases")
	cmd.Flags().BoolVar(&standard, "standard", false, "Run the standard regression suite instead of discovering cases")

	return cmd
}

func printReport(out io.Writer, report *golden.Report, verbose bool) error {
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	for _, result := range report.Results {
		if result.Passed {
			green.Fprint(out, "PASS ")
			fmt.Fprintf(out, "%s", result.Name)
			if verbose {
				fmt.Fprintf(out, " (%s)", result.Elapsed.Round(time.Millisecond))
			}
			fmt.Fprintln(out)
			continue
		}

		red.Fprint(out, "FAIL ")
		fmt.Fprintln(out, result.Name)
		fmt.Fprint(out, indentLines(result.Failure()))
	}

	failed := len(report.Failed())
	fmt.Fprintf(out, "\n%d passed, %d failed in %s\n",
		len(report.Results)-failed, failed, report.Elapsed.Round(time.Millisecond))

	if failed > 0 {
		return fmt.Errorf("%d golden cases failed", failed)
	}
	return nil
}
