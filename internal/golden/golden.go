// Package golden runs the interpreter over a library of programs and compares
// its complete output with stored expected output files.
//
// A case named "simple_add" reads test_code/simple_add.rv and is expected to
// print exactly test_outputs/expected_simple_add.txt, ignoring trailing
// whitespace at the very end of either text.
package golden

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/rvrun/rvrun/internal/build"
	"github.com/rvrun/rvrun/internal/process"
	"github.com/rvrun/rvrun/internal/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	codeDirectory   = "test_code"
	outputDirectory = "test_outputs"
	programExt      = ".rv"
	expectedPrefix  = "expected_"
	expectedExt     = ".txt"
)

// DefaultArgs are passed after the input file on every case run
var DefaultArgs = []string{"--output-lexer", "--output-parser"}

// DefaultCaseNames is the interpreter's regression suite
var DefaultCaseNames = []string{
	"simple_add",
	"simple_seq",
	"simple_ooo",
	"simple_if",
	"simple_reassign",
	"complex_if",
	"simple_while",
	"complex_while",
	"simple_string",
	"complex_string",
	"simple_array",
	"simple_size",
	"simple_function",
	"complex_function",
}

// Case is one program and the output it must produce
type Case struct {
	Name               string
	InputFile          string
	ExpectedOutputFile string
}

// NewCase returns the case for name using the standard layout under dir
func NewCase(dir, name string) Case {
	return Case{
		Name:               name,
		InputFile:          filepath.Join(dir, codeDirectory, name+programExt),
		ExpectedOutputFile: filepath.Join(dir, outputDirectory, expectedPrefix+name+expectedExt),
	}
}

// NamedCases returns the standard-layout cases for names
func NamedCases(dir string, names []string) []Case {
	cases := make([]Case, 0, len(names))
	for _, name := range names {
		cases = append(cases, NewCase(dir, name))
	}
	return cases
}

// LoadCases discovers every program under dir/test_code that has an expected
// output file, sorted by name
func LoadCases(dir string) ([]Case, error) {
	entries, err := os.ReadDir(filepath.Join(dir, codeDirectory))
	if err != nil {
		return nil, fmt.Errorf("failed to list test programs: %w", err)
	}

	var cases []Case
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != programExt {
			continue
		}

		c := NewCase(dir, strings.TrimSuffix(entry.Name(), programExt))
		if _, err := os.Stat(c.ExpectedOutputFile); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat expected output for %s: %w", c.Name, err)
		}
		cases = append(cases, c)
	}

	sort.Slice(cases, func(i, j int) bool {
		return cases[i].Name < cases[j].Name
	})
	return cases, nil
}

// Result is the outcome of one case
type Result struct {
	Name     string
	Passed   bool
	ExitCode int
	Actual   string
	Expected string
	Stderr   string
	Diff     string
	Err      error
	Elapsed  time.Duration
}

// Failure describes why the case failed, or returns "" for a passing case
func (r *Result) Failure() string {
	if r.Passed {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "case %s failed", r.Name)
	switch {
	case r.Err != nil:
		fmt.Fprintf(&b, ": %v", r.Err)
		return b.String()
	case r.ExitCode != 0:
		fmt.Fprintf(&b, ": interpreter exited with code %d", r.ExitCode)
		if stderr := strings.TrimSpace(r.Stderr); stderr != "" {
			fmt.Fprintf(&b, "\nstderr:\n%s", stderr)
		}
		return b.String()
	}

	fmt.Fprintf(&b, ": output mismatch\nexpected:\n%s\nactual:\n%s", r.Expected, r.Actual)
	if r.Diff != "" {
		fmt.Fprintf(&b, "\ndiff:\n%s", r.Diff)
	}
	return b.String()
}

// Report collects the results of a suite run in case order
type Report struct {
	Build   *types.BuildResult
	Results []*Result
	Elapsed time.Duration
}

// Failed returns the failing results
func (r *Report) Failed() []*Result {
	var failed []*Result
	for _, res := range r.Results {
		if !res.Passed {
			failed = append(failed, res)
		}
	}
	return failed
}

// Passed reports whether every case passed
func (r *Report) Passed() bool {
	return len(r.Failed()) == 0
}

// Suite runs a set of cases against one interpreter executable
type Suite struct {
	Binary      string
	Args        []string
	Cases       []Case
	Builder     *build.Builder
	Parallelism int
	Timeout     time.Duration

	logger *logrus.Entry
	once   sync.Once
}

func (s *Suite) log() *logrus.Entry {
	s.once.Do(func() {
		if s.logger == nil {
			s.logger = logrus.WithField("component", "golden")
		}
	})
	return s.logger
}

// Run builds the interpreter once, if a builder is set, and then runs every
// case. A failing build aborts the suite; a failing case never does.
func (s *Suite) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{Results: make([]*Result, len(s.Cases))}

	if s.Builder != nil {
		res, err := s.Builder.Build(ctx)
		report.Build = res
		if err != nil {
			return report, fmt.Errorf("compilation failed: %w", err)
		}
	}

	binary, err := filepath.Abs(s.Binary)
	if err != nil {
		return report, fmt.Errorf("failed to resolve interpreter path: %w", err)
	}

	args := s.Args
	if args == nil {
		args = DefaultArgs
	}

	limit := s.Parallelism
	if limit <= 0 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, c := range s.Cases {
		i, c := i, c
		g.Go(func() error {
			report.Results[i] = s.runCase(gctx, binary, args, c)
			return nil
		})
	}
	// runCase records its own failures; Wait only returns once all are done
	_ = g.Wait()

	report.Elapsed = time.Since(start)
	s.log().WithFields(logrus.Fields{
		"cases":   len(report.Results),
		"failed":  len(report.Failed()),
		"elapsed": report.Elapsed,
	}).Info("Golden suite finished")

	return report, ctx.Err()
}

// runCase runs one case in its own scratch working directory
func (s *Suite) runCase(ctx context.Context, binary string, args []string, c Case) *Result {
	result := &Result{Name: c.Name}
	logger := s.log().WithField("case", c.Name)

	expected, err := os.ReadFile(c.ExpectedOutputFile)
	if err != nil {
		result.Err = fmt.Errorf("failed to read expected output: %w", err)
		return result
	}
	result.Expected = string(expected)

	input, err := filepath.Abs(c.InputFile)
	if err != nil {
		result.Err = fmt.Errorf("failed to resolve input file: %w", err)
		return result
	}

	workDir, err := os.MkdirTemp("", "rvrun-golden-")
	if err != nil {
		result.Err = fmt.Errorf("failed to create working directory: %w", err)
		return result
	}
	defer os.RemoveAll(workDir)

	res, err := process.Run(ctx, process.Command{
		Path:    binary,
		Args:    append([]string{input}, args...),
		Dir:     workDir,
		Timeout: s.Timeout,
	})
	if err != nil {
		result.Err = err
		logger.WithError(err).Warn("Case did not run")
		return result
	}

	result.ExitCode = res.ExitCode
	result.Actual = res.Stdout
	result.Stderr = res.Stderr
	result.Elapsed = res.WallTime

	if res.ExitCode != 0 {
		logger.WithField("exit_code", res.ExitCode).Info("Case failed")
		return result
	}

	result.Passed, result.Diff = Compare(result.Actual, result.Expected)
	if result.Passed {
		logger.Debug("Case passed")
	} else {
		logger.Info("Case output mismatch")
	}
	return result
}

// Compare reports whether actual matches expected once trailing whitespace is
// removed from both, and returns a unified diff when it does not
func Compare(actual, expected string) (bool, string) {
	actual = strings.TrimRight(actual, " \t\r\n")
	expected = strings.TrimRight(expected, " \t\r\n")
	if actual == expected {
		return true, ""
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected),
		B:        difflib.SplitLines(actual),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  3,
	})
	if err != nil {
		diff = fmt.Sprintf("failed to compute diff: %v", err)
	}
	return false, diff
}
