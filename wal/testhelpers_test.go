package wal

import (
	"os"
	"testing"
)

// setupTempLog creates a Log rooted in a fresh temp directory, following
// the table-driven, cleanup-registering style used across this module's
// tests.
func setupTempLog(tb testing.TB, opts ...Option) (*Log, string) {
	tb.Helper()

	dir, err := os.MkdirTemp("", "wal_test_*")
	if err != nil {
		tb.Fatalf("MkdirTemp: %v", err)
	}

	l, err := Open(dir, opts...)
	if err != nil {
		_ = os.RemoveAll(dir)
		tb.Fatalf("Open(%q): %v", dir, err)
	}

	tb.Cleanup(func() {
		_ = l.Close()
		_ = os.RemoveAll(dir)
	})

	return l, dir
}
