// Package testutil holds helpers shared by package tests that need a fake
// interpreter executable.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// WriteScript writes an executable /bin/sh script into dir and returns its path
func WriteScript(t testing.TB, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script interpreters are not available on windows")
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("failed to write script %s: %v", path, err)
	}
	return path
}

// WriteFile writes content to dir/name, creating parent directories
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// ProtocolScript returns a script body that prints stdout verbatim and exits 0.
// stdout must end with a newline.
func ProtocolScript(stdout string) string {
	return "cat <<'RVRUN_EOF'\n" + stdout + "RVRUN_EOF"
}
