package build

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/rvrun/rvrun/internal/config"
	"github.com/rvrun/rvrun/internal/process"
	"github.com/rvrun/rvrun/internal/types"
	"github.com/sirupsen/logrus"
)

// Error reports a build command that ran but failed
type Error struct {
	Result *types.BuildResult
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("build command %q exited with code %d", strings.Join(e.Result.Command, " "), e.Result.ExitCode)
	if stderr := strings.TrimSpace(e.Result.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// Builder builds the interpreter executable
type Builder struct {
	Command string
	Dir     string
	Output  string
	Timeout time.Duration
	logger  *logrus.Entry
}

// NewBuilder creates a builder from configuration
func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{
		Command: cfg.BuildCommand,
		Dir:     cfg.InterpreterDirectory,
		Output:  cfg.BuildOutput,
		Timeout: cfg.BuildTimeout,
		logger:  logrus.WithField("component", "build"),
	}
}

// Build runs the build command and checksums the produced executable
func (b *Builder) Build(ctx context.Context) (*types.BuildResult, error) {
	logger := b.logger
	if logger == nil {
		logger = logrus.WithField("component", "build")
	}

	argv, err := shlex.Split(b.Command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse build command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("build command is empty")
	}

	logger.Infof("Building interpreter with %q", b.Command)

	res, err := process.Run(ctx, process.Command{
		Path:    argv[0],
		Args:    argv[1:],
		Dir:     b.Dir,
		Timeout: b.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build failed: %w", err)
	}

	result := &types.BuildResult{
		Command:  argv,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		WallTime: res.WallTime,
	}

	if res.ExitCode != 0 {
		return result, &Error{Result: result}
	}

	if b.Output != "" {
		checksum, err := Checksum(b.OutputPath())
		if err != nil {
			return result, fmt.Errorf("build produced no usable executable: %w", err)
		}
		result.Checksum = checksum
	}

	logger.WithFields(logrus.Fields{
		"elapsed":  result.WallTime,
		"checksum": result.Checksum,
	}).Info("Interpreter built")

	return result, nil
}

// OutputPath returns the path of the executable the build produces
func (b *Builder) OutputPath() string {
	if filepath.IsAbs(b.Output) || b.Dir == "" {
		return b.Output
	}
	return filepath.Join(b.Dir, b.Output)
}

// Checksum returns the SHA256 checksum of a file
func Checksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
