package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/rvrun/rvrun/internal/protocol"
	"github.com/rvrun/rvrun/internal/types"
	"github.com/spf13/cobra"
)

func NewParseCommand() *cobra.Command {
	var legacy bool

	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Decode captured interpreter output",
		Long: `Decode the stdout of an interpreter run, read from a file or stdin, into
tokens, AST sequence and program output without contacting the server.

Examples:
  ./bin/main program.rv | rvrun parse
  rvrun parse captured.txt --output json

  # Decode the single-line layout of the first frontend
  rvrun parse captured.txt --legacy`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = os.Stdin
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", args[0], err)
				}
				defer f.Close()
				r = f
			}

			stdout, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("failed to read interpreter output: %w", err)
			}

			output, _ := cmd.Flags().GetString("output")
			result, err := decodeOutput(string(stdout), legacy)
			if err != nil {
				return err
			}
			return printResult(os.Stdout, result, output)
		},
	}

	cmd.Flags().BoolVar(&legacy, "legacy", false, "Use the undelimited single-line layout")

	return cmd
}

func decodeOutput(stdout string, legacy bool) (*types.ParsedResult, error) {
	if legacy {
		//lint:ignore SA1019 the legacy layout is still produced by old captures
		return protocol.ParseChunks(stdout), nil
	}
	return protocol.Parse(stdout)
}
