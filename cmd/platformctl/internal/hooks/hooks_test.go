// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package hooks

import (
	"context"
	"errors"
	"testing"
	"time"
)

// =============================================================================
// Test hooks
// =============================================================================

type stubHook struct {
	name    string
	vars    map[string]string
	err     error
	gotVars map[string]string
	calls   int
}

func (s *stubHook) Name() string { return s.name }

func (s *stubHook) Run(_ context.Context, hctx Context) (map[string]string, error) {
	s.calls++
	s.gotVars = hctx.Vars
	return s.vars, s.err
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}

func newRunner(registry *Registry) *Runner {
	return NewRunner(registry, 5*time.Second, nopLogger{})
}

// =============================================================================
// Pre hooks
// =============================================================================

func TestRunPreForwardsVars(t *testing.T) {
	registry := NewRegistry()
	first := &stubHook{name: "first", vars: map[string]string{"DNS_ZONE": "dev.covecloud.io"}}
	second := &stubHook{name: "second", vars: map[string]string{"EXTRA": "1"}}
	registry.Register(EventSetup, WhenPre, first)
	registry.Register(EventSetup, WhenPre, second)

	forwarded, err := newRunner(registry).RunPre(context.Background(), EventSetup, Context{Environment: "dev"})
	if err != nil {
		t.Fatalf("RunPre failed: %v", err)
	}
	if forwarded["DNS_ZONE"] != "dev.covecloud.io" || forwarded["EXTRA"] != "1" {
		t.Errorf("expected merged forwarded vars, got %v", forwarded)
	}
	// The second hook must see the first hook's output.
	if second.gotVars["DNS_ZONE"] != "dev.covecloud.io" {
		t.Errorf("second hook did not receive forwarded vars: %v", second.gotVars)
	}
}

func TestRunPreVetoStopsChainAndDiscardsVars(t *testing.T) {
	registry := NewRegistry()
	first := &stubHook{name: "first", vars: map[string]string{"KEY": "value"}}
	failing := &stubHook{name: "failing", err: errors.New("policy check failed")}
	after := &stubHook{name: "after"}
	registry.Register(EventTeardown, WhenPre, first)
	registry.Register(EventTeardown, WhenPre, failing)
	registry.Register(EventTeardown, WhenPre, after)

	forwarded, err := newRunner(registry).RunPre(context.Background(), EventTeardown, Context{Environment: "prod"})
	if !errors.Is(err, ErrVetoed) {
		t.Fatalf("expected ErrVetoed, got %v", err)
	}
	if forwarded != nil {
		t.Errorf("veto must discard forwarded vars, got %v", forwarded)
	}
	if after.calls != 0 {
		t.Error("hooks after a veto must not run")
	}
}

// =============================================================================
// Post hooks
// =============================================================================

func TestRunPostFailuresDoNotStopChain(t *testing.T) {
	registry := NewRegistry()
	failing := &stubHook{name: "failing", err: errors.New("webhook unreachable")}
	after := &stubHook{name: "after"}
	registry.Register(EventSetup, WhenPost, failing)
	registry.Register(EventSetup, WhenPost, after)

	failed := newRunner(registry).RunPost(context.Background(), EventSetup, Context{Environment: "dev"})
	if failed != 1 {
		t.Errorf("expected 1 failed post hook, got %d", failed)
	}
	if after.calls != 1 {
		t.Error("post hooks after a failure must still run")
	}
}

func TestRegistrySlotsAreIndependent(t *testing.T) {
	registry := NewRegistry()
	registry.Register(EventSetup, WhenPre, &stubHook{name: "pre-setup"})

	if got := registry.For(EventSetup, WhenPost); len(got) != 0 {
		t.Errorf("post-setup slot should be empty, got %d hooks", len(got))
	}
	if got := registry.For(EventTeardown, WhenPre); len(got) != 0 {
		t.Errorf("pre-teardown slot should be empty, got %d hooks", len(got))
	}
	if got := registry.For(EventSetup, WhenPre); len(got) != 1 {
		t.Errorf("expected 1 registered hook, got %d", len(got))
	}
}
