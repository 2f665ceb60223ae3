package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/google/shlex"
	"github.com/rvrun/rvrun/internal/types"
	"github.com/spf13/cobra"
)

const replHelp = `Enter program lines; they are collected until :run.

  :run              interpret the collected program
  :show             print the collected program
  :clear            discard the collected program
  :undo             drop the last line
  :load <file>      replace the program with a file's lines
  :version <range>  require an interpreter version ("" for any)
  :help             show this help
  :quit             leave the REPL`

var errQuit = errors.New("quit")

// Session is one REPL session's program buffer
type Session struct {
	Code    []string
	Version string

	send   func(*types.InterpretRequest) (*types.ParsedResult, error)
	out    io.Writer
	format string
}

// NewSession creates a session that interprets through send
func NewSession(send func(*types.InterpretRequest) (*types.ParsedResult, error), out io.Writer, format string) *Session {
	return &Session{send: send, out: out, format: format}
}

func NewReplCommand() *cobra.Command {
	var historyFile string

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Build and interpret programs interactively",
		Long: `Start an interactive session. Program lines are collected and sent to the
rvrun server with :run.

Example:
  rvrun repl
  rv> x = 1
  rv> print(x)
  rv> :run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			output, _ := cmd.Flags().GetString("output")

			session := NewSession(func(req *types.InterpretRequest) (*types.ParsedResult, error) {
				return interpretRemote(url, req)
			}, os.Stdout, output)
			return session.Run(historyFile)
		},
	}

	home, _ := os.UserHomeDir()
	cmd.Flags().StringVar(&historyFile, "history", filepath.Join(home, ".rvrun_history"), "History file")

	return cmd
}

// Run reads lines until :quit, Ctrl-D or Ctrl-C on an empty line
func (s *Session) Run(historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "rv> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       ":quit",
	})
	if err != nil {
		return fmt.Errorf("failed to start line editor: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(s.out, "rvrun REPL, :help for commands")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if err := s.HandleLine(line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			color.New(color.FgRed).Fprintf(s.out, "error: %v\n", err)
			printFailure(err)
		}
	}
}

// HandleLine appends a program line or runs a :command
func (s *Session) HandleLine(line string) error {
	if !strings.HasPrefix(strings.TrimSpace(line), ":") {
		s.Code = append(s.Code, line)
		return nil
	}

	tokens, err := shlex.Split(strings.TrimPrefix(strings.TrimSpace(line), ":"))
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return fmt.Errorf("empty command, see :help")
	}

	switch tokens[0] {
	case "run":
		if len(s.Code) == 0 {
			return fmt.Errorf("no program lines entered")
		}
		result, err := s.send(&types.InterpretRequest{Code: s.Code, Version: s.Version})
		if err != nil {
			return err
		}
		return printResult(s.out, result, s.format)

	case "show":
		for i, line := range s.Code {
			fmt.Fprintf(s.out, "%3d  %s\n", i+1, line)
		}

	case "clear":
		s.Code = nil

	case "undo":
		if len(s.Code) > 0 {
			s.Code = s.Code[:len(s.Code)-1]
		}

	case "load":
		if len(tokens) != 2 {
			return fmt.Errorf("usage: :load <file>")
		}
		code, err := readProgram(tokens[1])
		if err != nil {
			return err
		}
		s.Code = code
		fmt.Fprintf(s.out, "loaded %d lines\n", len(code))

	case "version":
		if len(tokens) > 2 {
			return fmt.Errorf("usage: :version <range>")
		}
		s.Version = ""
		if len(tokens) == 2 {
			s.Version = tokens[1]
		}

	case "help":
		fmt.Fprintln(s.out, replHelp)

	case "quit", "exit", "q":
		return errQuit

	default:
		return fmt.Errorf("unknown command :%s, see :help", tokens[0])
	}

	return nil
}
