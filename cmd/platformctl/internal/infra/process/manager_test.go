// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package process unit tests.

# Testing Strategy

These tests verify:
  - DefaultManager executes real commands and reports exit codes
  - Timeout enforcement through context deadlines
  - Environment variable injection and key validation
  - MockManager call recording for test doubles
*/
package process

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// DefaultManager
// -----------------------------------------------------------------------------

func TestDefaultManagerRunInDirCapturesStdout(t *testing.T) {
	pm := NewDefaultManager()

	stdout, stderr, code, err := pm.RunInDir(context.Background(), t.TempDir(), nil, "echo", "hello")
	if err != nil {
		t.Fatalf("RunInDir() unexpected error: %v", err)
	}
	if code != 0 {
		t.Errorf("RunInDir() code = %d, want 0", code)
	}
	if got := strings.TrimSpace(stdout); got != "hello" {
		t.Errorf("RunInDir() stdout = %q, want %q", got, "hello")
	}
	if stderr != "" {
		t.Errorf("RunInDir() stderr = %q, want empty", stderr)
	}
}

func TestDefaultManagerRunInDirRunsInDirectory(t *testing.T) {
	pm := NewDefaultManager()
	dir := t.TempDir()

	stdout, _, _, err := pm.RunInDir(context.Background(), dir, nil, "pwd")
	if err != nil {
		t.Fatalf("RunInDir() unexpected error: %v", err)
	}
	// macOS puts temp dirs under /private; compare by suffix.
	if got := strings.TrimSpace(stdout); !strings.HasSuffix(got, dir) {
		t.Errorf("RunInDir() ran in %q, want %q", got, dir)
	}
}

func TestDefaultManagerRunInDirInjectsEnv(t *testing.T) {
	pm := NewDefaultManager()

	stdout, _, _, err := pm.RunInDir(context.Background(), t.TempDir(),
		[]string{"PLATFORM_TEST_VAR=injected"}, "sh", "-c", "echo $PLATFORM_TEST_VAR")
	if err != nil {
		t.Fatalf("RunInDir() unexpected error: %v", err)
	}
	if got := strings.TrimSpace(stdout); got != "injected" {
		t.Errorf("RunInDir() env var = %q, want %q", got, "injected")
	}
}

func TestDefaultManagerRunInDirNonZeroExit(t *testing.T) {
	pm := NewDefaultManager()

	_, _, code, err := pm.RunInDir(context.Background(), t.TempDir(), nil, "sh", "-c", "exit 3")
	if err == nil {
		t.Fatal("RunInDir() expected error for non-zero exit, got nil")
	}
	if code != 3 {
		t.Errorf("RunInDir() code = %d, want 3", code)
	}
}

func TestDefaultManagerRunInDirCommandNotFound(t *testing.T) {
	pm := NewDefaultManager()

	_, _, _, err := pm.RunInDir(context.Background(), t.TempDir(), nil, "nonexistent-command-12345")
	if err == nil {
		t.Fatal("RunInDir() expected error for missing command, got nil")
	}
}

func TestDefaultManagerRunInDirTimeout(t *testing.T) {
	pm := NewDefaultManager()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, _, _, err := pm.RunInDir(ctx, t.TempDir(), nil, "sleep", "10")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("RunInDir() error = %v, want ErrTimeout", err)
	}
}

func TestDefaultManagerRunStreamingExitCode(t *testing.T) {
	pm := NewDefaultManager()

	code, err := pm.RunStreaming(context.Background(), t.TempDir(), nil, "true")
	if err != nil {
		t.Fatalf("RunStreaming() unexpected error: %v", err)
	}
	if code != 0 {
		t.Errorf("RunStreaming() code = %d, want 0", code)
	}

	code, err = pm.RunStreaming(context.Background(), t.TempDir(), nil, "false")
	if err == nil {
		t.Fatal("RunStreaming() expected error for failing command, got nil")
	}
	if code != 1 {
		t.Errorf("RunStreaming() code = %d, want 1", code)
	}
}

func TestDefaultManagerLookPath(t *testing.T) {
	pm := NewDefaultManager()

	if _, err := pm.LookPath("sh"); err != nil {
		t.Errorf("LookPath(sh) unexpected error: %v", err)
	}
	if _, err := pm.LookPath("nonexistent-command-12345"); err == nil {
		t.Error("LookPath() expected error for missing command, got nil")
	}
}

// -----------------------------------------------------------------------------
// Environment key validation
// -----------------------------------------------------------------------------

func TestValidEnvKey(t *testing.T) {
	valid := []string{"PLATFORM_ENV", "_private", "db2Host", "A"}
	for _, k := range valid {
		if !ValidEnvKey(k) {
			t.Errorf("ValidEnvKey(%q) = false, want true", k)
		}
	}

	invalid := []string{"", "2fast", "has-dash", "has space", "semi;colon", "a=b"}
	for _, k := range invalid {
		if ValidEnvKey(k) {
			t.Errorf("ValidEnvKey(%q) = true, want false", k)
		}
	}
}

// -----------------------------------------------------------------------------
// MockManager
// -----------------------------------------------------------------------------

func TestMockManagerDelegatesAndRecords(t *testing.T) {
	mock := &MockManager{
		RunInDirFunc: func(_ context.Context, _ string, _ []string, _ string, _ ...string) (string, string, int, error) {
			return "out", "err", 2, nil
		},
	}

	stdout, stderr, code, err := mock.RunInDir(context.Background(), "/tmp", []string{"K=v"}, "tool", "arg1")
	if err != nil {
		t.Fatalf("RunInDir() unexpected error: %v", err)
	}
	if stdout != "out" || stderr != "err" || code != 2 {
		t.Errorf("RunInDir() = (%q, %q, %d), want (out, err, 2)", stdout, stderr, code)
	}

	calls := mock.GetCalls()
	if len(calls) != 1 {
		t.Fatalf("GetCalls() len = %d, want 1", len(calls))
	}
	c := calls[0]
	if c.Method != "RunInDir" || c.Dir != "/tmp" || c.Name != "tool" || len(c.Args) != 1 {
		t.Errorf("recorded call = %+v, want RunInDir /tmp tool [arg1]", c)
	}
}

func TestMockManagerDefaultsAreBenign(t *testing.T) {
	mock := &MockManager{}

	if _, _, code, err := mock.RunInDir(context.Background(), "", nil, "tool"); code != 0 || err != nil {
		t.Errorf("RunInDir() defaults = (%d, %v), want (0, nil)", code, err)
	}
	if path, err := mock.LookPath("terraform"); err != nil || path == "" {
		t.Errorf("LookPath() defaults = (%q, %v), want non-empty path, nil", path, err)
	}

	mock.Reset()
	if len(mock.GetCalls()) != 0 {
		t.Error("Reset() did not clear recorded calls")
	}
}
