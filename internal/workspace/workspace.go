package workspace

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"
)

// ProgramFileName is the name of the program file inside a workspace
const ProgramFileName = "program.rv"

// Workspace is the filesystem state owned by one request
type Workspace struct {
	ID          string
	Dir         string
	ProgramPath string
	release     func() error
}

// Allocator hands out workspaces to requests
type Allocator interface {
	Acquire(ctx context.Context, id string) (*Workspace, error)
}

// Write materializes the program into the workspace's program file
func (w *Workspace) Write(lines []string) error {
	return WriteProgram(w.ProgramPath, lines)
}

// Release gives the workspace back. It is safe to call more than once.
func (w *Workspace) Release() error {
	if w.release == nil {
		return nil
	}
	release := w.release
	w.release = nil
	return release()
}

// ValidateProgram rejects lines that would not survive a one-line-per-entry round trip
func ValidateProgram(lines []string) error {
	for i, line := range lines {
		trimmed := strings.TrimRightFunc(line, unicode.IsSpace)
		if strings.ContainsAny(trimmed, "\r\n") {
			return fmt.Errorf("code[%d] must not contain line breaks", i)
		}
	}
	return nil
}

// WriteProgram truncates the file at path and writes one right-trimmed,
// newline-terminated line per entry
func WriteProgram(path string, lines []string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open program file: %w", err)
	}

	w := bufio.NewWriter(file)
	for _, line := range lines {
		w.WriteString(strings.TrimRightFunc(line, unicode.IsSpace))
		w.WriteByte('\n')
	}

	if err := w.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("failed to write program file: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close program file: %w", err)
	}

	return nil
}

// isolatedAllocator creates a fresh directory per request
type isolatedAllocator struct {
	root   string
	logger *logrus.Entry
}

// NewIsolated returns an allocator that gives every request its own directory under root
func NewIsolated(root string) Allocator {
	return &isolatedAllocator{
		root:   root,
		logger: logrus.WithField("component", "workspace"),
	}
}

// Acquire creates <root>/<id>. The directory is removed on release.
func (a *isolatedAllocator) Acquire(ctx context.Context, id string) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Prevent path traversal
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return nil, fmt.Errorf("invalid workspace id: %q", id)
	}

	root, err := filepath.Abs(a.root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}

	dir := filepath.Join(root, id)
	if err := os.Mkdir(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create workspace %s: %w", id, err)
	}

	return &Workspace{
		ID:          id,
		Dir:         dir,
		ProgramPath: filepath.Join(dir, ProgramFileName),
		release: func() error {
			if err := os.RemoveAll(dir); err != nil {
				a.logger.WithError(err).Errorf("Failed to remove workspace %s", dir)
				return err
			}
			return nil
		},
	}, nil
}

// sharedAllocator hands out the same program path to every request. With a nil
// lock concurrent requests overwrite each other's programs.
type sharedAllocator struct {
	path string
	lock chan struct{}
}

// NewSerialized returns an allocator that reuses one program path and admits a
// single request at a time, from Acquire until Release
func NewSerialized(path string) Allocator {
	return &sharedAllocator{
		path: path,
		lock: make(chan struct{}, 1),
	}
}

// Acquire waits for the shared path to become free
func (a *sharedAllocator) Acquire(ctx context.Context, id string) (*Workspace, error) {
	if a.lock != nil {
		select {
		case a.lock <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	unlock := func() error {
		if a.lock != nil {
			<-a.lock
		}
		return nil
	}

	path, err := filepath.Abs(a.path)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("failed to resolve shared program path: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		unlock()
		return nil, fmt.Errorf("failed to create shared workspace: %w", err)
	}

	return &Workspace{
		ID:          id,
		Dir:         dir,
		ProgramPath: path,
		release:     unlock,
	}, nil
}
