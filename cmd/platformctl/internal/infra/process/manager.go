// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package process executes external tools with explicit argument lists.
//
// Every subprocess the CLI spawns (terraform, kubectl, pg_dump, hook
// scripts) goes through Manager. Commands are built from typed argv slices,
// never interpolated into a shell, and every invocation captures exit code,
// stdout and stderr uniformly. Timeouts are enforced through the context.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"time"
)

// ErrTimeout is returned when a command is killed by its context deadline.
var ErrTimeout = errors.New("command timed out")

// envKeyRegex validates environment variable key names before injection.
// Prevents config injection through malformed keys.
var envKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidEnvKey reports whether key is a well-formed environment variable name.
func ValidEnvKey(key string) bool {
	return envKeyRegex.MatchString(key)
}

// Manager abstracts external process execution for testability.
//
// # Description
//
// Manager is the only path to the operating system's process facilities.
// Implementations must be safe for concurrent use.
//
// # Example
//
//	pm := process.NewDefaultManager()
//	stdout, stderr, code, err := pm.RunInDir(ctx, workDir, nil,
//	    "terraform", "plan", "-input=false")
type Manager interface {
	// RunInDir executes a command in dir with extra environment variables
	// appended to the parent environment. A non-zero exit is reported both
	// in code and err; stdout/stderr are always returned as captured.
	RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (stdout, stderr string, code int, err error)

	// RunStreaming executes a command with stdout/stderr attached to the
	// calling process, for long-running tool output the operator should see
	// live (terraform apply, kubectl drain). Returns the exit code.
	RunStreaming(ctx context.Context, dir string, env []string, name string, args ...string) (int, error)

	// LookPath reports whether an executable is available on PATH.
	LookPath(name string) (string, error)
}

// DefaultManager implements Manager using os/exec.
type DefaultManager struct{}

// NewDefaultManager creates a production process manager.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

func (m *DefaultManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	code := exitCodeOf(cmd, err)

	if ctx.Err() == context.DeadlineExceeded {
		return stdout.String(), stderr.String(), code,
			fmt.Errorf("%w: %s after %s", ErrTimeout, name, deadlineOf(ctx))
	}
	if err != nil {
		return stdout.String(), stderr.String(), code,
			fmt.Errorf("%s %v: %w", name, args, err)
	}
	return stdout.String(), stderr.String(), code, nil
}

func (m *DefaultManager) RunStreaming(ctx context.Context, dir string, env []string, name string, args ...string) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	code := exitCodeOf(cmd, err)

	if ctx.Err() == context.DeadlineExceeded {
		return code, fmt.Errorf("%w: %s", ErrTimeout, name)
	}
	if err != nil {
		return code, fmt.Errorf("%s %v: %w", name, args, err)
	}
	return code, nil
}

func (m *DefaultManager) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func exitCodeOf(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

func deadlineOf(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl).Round(time.Second)
	}
	return 0
}

// Compile-time interface check
var _ Manager = (*DefaultManager)(nil)

// MockManager is a configurable mock for unit tests.
//
// All methods delegate to their function fields when set and record every
// call for later assertion.
type MockManager struct {
	RunInDirFunc     func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error)
	RunStreamingFunc func(ctx context.Context, dir string, env []string, name string, args ...string) (int, error)
	LookPathFunc     func(name string) (string, error)

	mu    sync.Mutex
	Calls []Call
}

// Call records a single Manager invocation.
type Call struct {
	Method string
	Dir    string
	Env    []string
	Name   string
	Args   []string
}

func (m *MockManager) record(method, dir string, env []string, name string, args []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, Call{Method: method, Dir: dir, Env: env, Name: name, Args: args})
}

func (m *MockManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	m.record("RunInDir", dir, env, name, args)
	if m.RunInDirFunc != nil {
		return m.RunInDirFunc(ctx, dir, env, name, args...)
	}
	return "", "", 0, nil
}

func (m *MockManager) RunStreaming(ctx context.Context, dir string, env []string, name string, args ...string) (int, error) {
	m.record("RunStreaming", dir, env, name, args)
	if m.RunStreamingFunc != nil {
		return m.RunStreamingFunc(ctx, dir, env, name, args...)
	}
	return 0, nil
}

func (m *MockManager) LookPath(name string) (string, error) {
	m.record("LookPath", "", nil, name, nil)
	if m.LookPathFunc != nil {
		return m.LookPathFunc(name)
	}
	return "/usr/bin/" + name, nil
}

// GetCalls returns a copy of recorded calls.
func (m *MockManager) GetCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.Calls))
	copy(out, m.Calls)
	return out
}

// Reset clears recorded calls.
func (m *MockManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

var _ Manager = (*MockManager)(nil)
