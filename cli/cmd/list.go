package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/rvrun/rvrun/internal/types"
	"github.com/spf13/cobra"
)

func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls", "runtimes"},
		Short:   "List available interpreters",
		Long: `List the interpreter versions the rvrun server can run.

Examples:
  # List all available interpreters
  rvrun list

  # Include aliases
  rvrun list -v`,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			verbose, _ := cmd.Flags().GetBool("verbose")

			runtimes, err := fetchRuntimes(url)
			if err != nil {
				return err
			}
			return printRuntimeList(os.Stdout, runtimes, verbose)
		},
	}

	return cmd
}

func fetchRuntimes(baseURL string) ([]types.RuntimeInfo, error) {
	client := &http.Client{Timeout: 30 * time.Second}

	resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/api/v1/runtimes")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch runtimes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var runtimes []types.RuntimeInfo
	if err := json.NewDecoder(resp.Body).Decode(&runtimes); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return runtimes, nil
}

func printRuntimeList(out io.Writer, runtimes []types.RuntimeInfo, verbose bool) error {
	if len(runtimes) == 0 {
		fmt.Fprintln(out, "No interpreters available")
		return nil
	}

	bold := color.New(color.Bold)

	if verbose {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tALIASES")
		fmt.Fprintln(w, "----\t-------\t-------")
		for _, rt := range runtimes {
			aliases := strings.Join(rt.Aliases, ", ")
			if aliases == "" {
				aliases = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", rt.Name, rt.Version, aliases)
		}
		return w.Flush()
	}

	// Versions arrive newest first per name
	var names []string
	versions := make(map[string][]string)
	for _, rt := range runtimes {
		if _, ok := versions[rt.Name]; !ok {
			names = append(names, rt.Name)
		}
		versions[rt.Name] = append(versions[rt.Name], rt.Version)
	}

	for _, name := range names {
		bold.Fprintf(out, "%-15s", name+":")
		fmt.Fprintf(out, " %s\n", strings.Join(versions[name], ", "))
	}
	return nil
}
