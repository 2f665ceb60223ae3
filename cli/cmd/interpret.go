package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rvrun/rvrun/internal/types"
	"github.com/spf13/cobra"
)

// APIError is a failed interpret request as reported by the server
type APIError struct {
	Status   int
	Response types.ErrorResponse
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("request failed with status %d", e.Status)
	if e.Response.Kind != "" {
		msg += fmt.Sprintf(" (%s)", e.Response.Kind)
	}
	if e.Response.Message != "" {
		msg += ": " + e.Response.Message
	}
	return msg
}

func NewInterpretCommand() *cobra.Command {
	var (
		version     string
		interactive bool
	)

	cmd := &cobra.Command{
		Use:     "interpret <file>",
		Aliases: []string{"run", "exec"},
		Short:   "Interpret a program file",
		Long: `Send a program to the rvrun server and print its tokens, AST sequence
and program output.

Examples:
  # Interpret a program
  rvrun interpret examples/simple_add.rv

  # Read the program from stdin
  cat simple_add.rv | rvrun interpret -

  # Require a specific interpreter version
  rvrun interpret simple_add.rv -l ">=0.2"

  # Stream the sections over WebSocket
  rvrun interpret simple_add.rv -t`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readProgram(args[0])
			if err != nil {
				return err
			}

			url, _ := cmd.Flags().GetString("url")
			verbose, _ := cmd.Flags().GetBool("verbose")
			output, _ := cmd.Flags().GetString("output")

			request := &types.InterpretRequest{Code: code, Version: version}
			if interactive {
				return interpretWS(url, request, verbose)
			}

			result, err := interpretRemote(url, request)
			if err != nil {
				printFailure(err)
				return err
			}
			return printResult(os.Stdout, result, output)
		},
	}

	cmd.Flags().StringVarP(&version, "language-version", "l", "", "Interpreter version constraint")
	cmd.Flags().BoolVarP(&interactive, "interactive", "t", false, "Stream sections using WebSocket")

	return cmd
}

// readProgram reads a program file, or stdin when name is "-", as lines
func readProgram(name string) ([]string, error) {
	var r io.Reader = os.Stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read program: %w", err)
		}
		defer f.Close()
		r = f
	}

	code := []string{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		code = append(code, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read program: %w", err)
	}
	return code, nil
}

// interpretRemote posts one program to the server
func interpretRemote(baseURL string, request *types.InterpretRequest) (*types.ParsedResult, error) {
	reqBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Post(strings.TrimRight(baseURL, "/")+"/api/v1/interpret", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(body, &apiErr.Response); err != nil {
			apiErr.Response.Message = strings.TrimSpace(string(body))
		}
		return nil, apiErr
	}

	var result types.ParsedResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// printResult writes result in the requested format (auto, plain or json)
func printResult(w io.Writer, result *types.ParsedResult, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	bold := color.New(color.Bold)
	if format == "plain" {
		bold.DisableColor()
	}

	bold.Fprintln(w, "== Tokens ==")
	for _, token := range result.Tokens {
		fmt.Fprintf(w, "    %s\n", strings.Join(token, ", "))
	}

	bold.Fprintln(w, "== AST ==")
	for _, node := range result.ASTSequence {
		fmt.Fprintf(w, "    %s\n", node)
	}

	bold.Fprintln(w, "== Output ==")
	for _, line := range result.ProgramOutput {
		fmt.Fprintf(w, "    %s\n", line)
	}
	return nil
}

// printFailure prints the interpreter's stderr for interpreter errors
func printFailure(err error) {
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Response.Stderr == "" {
		return
	}

	red := color.New(color.FgRed, color.Bold)
	red.Fprintln(os.Stderr, "== Interpreter Error ==")
	fmt.Fprint(os.Stderr, indentLines(apiErr.Response.Stderr))
}

func indentLines(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = "    " + line
	}
	return strings.Join(lines, "\n") + "\n"
}
