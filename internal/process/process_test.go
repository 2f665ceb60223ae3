package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rvrun/rvrun/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesResult(t *testing.T) {
	dir := t.TempDir()
	script := testutil.WriteScript(t, dir, "interp", `echo "lexer output"
echo "undefined variable y" >&2
exit 2`)

	result, err := Run(context.Background(), Command{Path: script, Timeout: 5 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, 2, result.ExitCode)
	assert.Equal(t, "lexer output\n", result.Stdout)
	assert.Equal(t, "undefined variable y\n", result.Stderr)
	assert.Greater(t, result.WallTime, time.Duration(0))
}

func TestRunPassesArguments(t *testing.T) {
	dir := t.TempDir()
	program := testutil.WriteFile(t, dir, "program.rv", "x = 1\nprint(x)\n")
	script := testutil.WriteScript(t, dir, "interp", `cat "$1"; echo "$2"`)

	result, err := Run(context.Background(), Command{
		Path: script,
		Args: []string{program, "--output-lexer"},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "x = 1\nprint(x)\n--output-lexer\n", result.Stdout)
}

func TestRunUsesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	script := testutil.WriteScript(t, dir, "interp", `pwd`)
	workDir := t.TempDir()

	result, err := Run(context.Background(), Command{Path: script, Dir: workDir})
	require.NoError(t, err)

	expected, err := filepath.EvalSymlinks(workDir)
	require.NoError(t, err)
	actual, err := filepath.EvalSymlinks(strings.TrimSpace(result.Stdout))
	require.NoError(t, err)
	assert.Equal(t, expected, actual)
}

func TestRunDoesNotTruncateOutput(t *testing.T) {
	dir := t.TempDir()
	script := testutil.WriteScript(t, dir, "interp", `yes "0123456789" | head -n 100000`)

	result, err := Run(context.Background(), Command{Path: script, Timeout: 30 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, 100000*11, len(result.Stdout))
}

func TestRunLaunchErrors(t *testing.T) {
	dir := t.TempDir()
	notExecutable := testutil.WriteFile(t, dir, "interp.txt", "#!/bin/sh\necho hi\n")

	tests := []struct {
		name string
		path string
	}{
		{name: "missing executable", path: filepath.Join(dir, "does-not-exist")},
		{name: "not executable", path: notExecutable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Run(context.Background(), Command{Path: tt.path})
			require.Error(t, err)
			assert.Nil(t, result)

			var launchErr *LaunchError
			require.True(t, errors.As(err, &launchErr))
			assert.Equal(t, tt.path, launchErr.Path)
		})
	}

	_, err := Run(context.Background(), Command{Path: filepath.Join(dir, "does-not-exist")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunTimeout(t *testing.T) {
	dir := t.TempDir()
	script := testutil.WriteScript(t, dir, "interp", `echo started
exec sleep 10`)

	start := time.Now()
	result, err := Run(context.Background(), Command{Path: script, Timeout: 200 * time.Millisecond})
	assert.Nil(t, result)
	assert.Less(t, time.Since(start), 5*time.Second)

	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, 200*time.Millisecond, timeoutErr.Timeout)
	require.NotNil(t, timeoutErr.Result)
	assert.Equal(t, "started\n", timeoutErr.Result.Stdout)
}

func TestRunCancelled(t *testing.T) {
	dir := t.TempDir()
	script := testutil.WriteScript(t, dir, "interp", `exec sleep 10`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := Run(ctx, Command{Path: script, Timeout: 5 * time.Second})
	assert.ErrorIs(t, err, context.Canceled)
}
