// Package testutil provides small filesystem helpers for tests that need
// to exercise a real on-disk path rather than an in-memory fixture (the
// reload codec's Detect/Decode functions take raw bytes either way, but
// CLI-facing tests want to prove the same codepath works against an
// actual file).
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// TempDir creates a temporary directory for a test, cleaned up automatically.
func TempDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// WriteFile creates a file with the given content under dir, creating
// parent directories as needed, and returns its path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create parent dirs for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
	return path
}
