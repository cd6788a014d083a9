// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/covecloud/platformctl/cmd/platformctl/internal/backend"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/hooks"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/infra/kube"
)

// stubHook counts invocations and can veto its event.
type stubHook struct {
	name  string
	err   error
	calls int
}

func (h *stubHook) Name() string { return h.name }

func (h *stubHook) Run(context.Context, hooks.Context) (map[string]string, error) {
	h.calls++
	return nil, h.err
}

// scriptedPrompter answers confirmation prompts in sequence.
type scriptedPrompter struct {
	answers []string
	asked   int
}

func (p *scriptedPrompter) ReadLine(_ string) (string, error) {
	if p.asked >= len(p.answers) {
		return "", errors.New("no more scripted answers")
	}
	answer := p.answers[p.asked]
	p.asked++
	return answer, nil
}

func testTeardown(t *testing.T, env string, runners *runnerSet, prompter Prompter) *Teardown {
	t.Helper()
	return &Teardown{
		Env:            env,
		Backend:        &fakeBackend{},
		NewRunner:      runners.factory,
		Hooks:          emptyHooks(),
		Prompt:         prompter,
		KubeconfigPath: filepath.Join(t.TempDir(), "kubeconfig"),
		Namespace:      "workspaces",
		Selector:       "app=workspace",
		DrainTimeout:   time.Second,
		DelayWindow:    time.Millisecond,
		Log:            testLogger{},
	}
}

func TestTeardownDestroysReverseOrderAndVerifies(t *testing.T) {
	runners := newRunnerSet()
	td := testTeardown(t, "dev", runners, &scriptedPrompter{answers: []string{"dev"}})

	result, err := td.Run(context.Background(), TeardownOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Final != StateDone {
		t.Errorf("expected done, got %s", result.Final)
	}
	// App phase destroys before infra.
	if len(runners.order) < 2 || runners.order[0] != backend.PhaseApp || runners.order[1] != backend.PhaseInfra {
		t.Errorf("destroy order wrong: %v", runners.order)
	}
	if runners.app.destroys != 1 || runners.infra.destroys != 1 {
		t.Errorf("destroys: app=%d infra=%d", runners.app.destroys, runners.infra.destroys)
	}
	wantStates := []State{StateRequested, StateWorkloadCheck, StateConfirmed, StateDelayWindow, StateDestroying, StateVerified, StateDone}
	if len(result.States) != len(wantStates) {
		t.Fatalf("states: expected %v, got %v", wantStates, result.States)
	}
	for i := range wantStates {
		if result.States[i] != wantStates[i] {
			t.Errorf("state %d: expected %s, got %s", i, wantStates[i], result.States[i])
		}
	}
}

func TestTeardownArchivesStateBeforeDestroy(t *testing.T) {
	runners := newRunnerSet()
	be := &fakeBackend{}
	td := testTeardown(t, "dev", runners, &scriptedPrompter{answers: []string{"dev"}})
	td.Backend = be

	if _, err := td.Run(context.Background(), TeardownOptions{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(be.archived) != 2 {
		t.Errorf("expected both phase states archived, got %v", be.archived)
	}
}

func TestTeardownWrongConfirmationAborts(t *testing.T) {
	runners := newRunnerSet()
	td := testTeardown(t, "dev", runners, &scriptedPrompter{answers: []string{"prod"}})

	_, err := td.Run(context.Background(), TeardownOptions{})
	if !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
	if runners.app.destroys != 0 || runners.infra.destroys != 0 {
		t.Error("nothing may destroy without confirmation")
	}
}

func TestTeardownProdRequiresPhrase(t *testing.T) {
	// Right env name, wrong phrase.
	runners := newRunnerSet()
	td := testTeardown(t, "prod", runners, &scriptedPrompter{answers: []string{"prod", "yes"}})

	if _, err := td.Run(context.Background(), TeardownOptions{}); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}

	// Both answers correct.
	runners = newRunnerSet()
	td = testTeardown(t, "prod", runners, &scriptedPrompter{answers: []string{"prod", "destroy-production-data"}})
	result, err := td.Run(context.Background(), TeardownOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Final != StateDone {
		t.Errorf("expected done, got %s", result.Final)
	}
}

func TestTeardownActiveWorkloadsBlock(t *testing.T) {
	runners := newRunnerSet()
	td := testTeardown(t, "dev", runners, &scriptedPrompter{answers: []string{"dev"}})
	td.NewCluster = func(string) (ClusterGate, error) {
		return &fakeCluster{workloads: []kube.Workload{{Name: "ws-1", Phase: "Running"}}}, nil
	}

	_, err := td.Run(context.Background(), TeardownOptions{})
	if !errors.Is(err, ErrActiveWorkloads) {
		t.Fatalf("expected ErrActiveWorkloads, got %v", err)
	}
	if runners.app.destroys != 0 {
		t.Error("active workloads must block destruction")
	}
}

func TestTeardownForceSkipsWorkloadGateNotConfirmation(t *testing.T) {
	runners := newRunnerSet()
	cluster := &fakeCluster{workloads: []kube.Workload{{Name: "ws-1", Phase: "Running"}}}
	td := testTeardown(t, "dev", runners, &scriptedPrompter{answers: []string{"dev"}})
	td.NewCluster = func(string) (ClusterGate, error) { return cluster, nil }

	result, err := td.Run(context.Background(), TeardownOptions{Force: true})
	if err != nil {
		t.Fatalf("forced teardown failed: %v", err)
	}
	if result.Final != StateDone {
		t.Errorf("expected done, got %s", result.Final)
	}
	// Confirmation still happened: the scripted answer was consumed.
	prompter := td.Prompt.(*scriptedPrompter)
	if prompter.asked != 1 {
		t.Error("force must not skip typed confirmation")
	}
	// Force skips the delay window state.
	for _, s := range result.States {
		if s == StateDelayWindow {
			t.Error("force must skip the delay window")
		}
	}
}

func TestTeardownEmergencySkipsConfirmationAndDrain(t *testing.T) {
	runners := newRunnerSet()
	cluster := &fakeCluster{}
	// No scripted answers: any prompt would error the run.
	prompter := &scriptedPrompter{}
	td := testTeardown(t, "dev", runners, prompter)
	td.NewCluster = func(string) (ClusterGate, error) { return cluster, nil }

	result, err := td.Run(context.Background(), TeardownOptions{Emergency: true})
	if err != nil {
		t.Fatalf("emergency teardown failed: %v", err)
	}
	if result.Final != StateDone {
		t.Errorf("expected done, got %s", result.Final)
	}
	if prompter.asked != 0 {
		t.Error("emergency must not prompt for confirmation")
	}
	if cluster.drains != 0 {
		t.Error("emergency must skip the drain")
	}
	for _, s := range result.States {
		if s == StateConfirmed || s == StateDelayWindow {
			t.Errorf("emergency must skip the %s state", s)
		}
	}
}

func TestTeardownEmergencyStillRunsHooks(t *testing.T) {
	runners := newRunnerSet()
	pre := &stubHook{name: "pre-teardown"}
	post := &stubHook{name: "post-teardown"}
	registry := hooks.NewRegistry()
	registry.Register(hooks.EventTeardown, hooks.WhenPre, pre)
	registry.Register(hooks.EventTeardown, hooks.WhenPost, post)
	td := testTeardown(t, "dev", runners, &scriptedPrompter{})
	td.Hooks = hooks.NewRunner(registry, time.Second, testLogger{})

	if _, err := td.Run(context.Background(), TeardownOptions{Emergency: true}); err != nil {
		t.Fatalf("emergency teardown failed: %v", err)
	}
	if pre.calls != 1 || post.calls != 1 {
		t.Errorf("hooks must run on emergency: pre=%d post=%d", pre.calls, post.calls)
	}
}

func TestTeardownEmergencyVetoedByPreHook(t *testing.T) {
	runners := newRunnerSet()
	registry := hooks.NewRegistry()
	registry.Register(hooks.EventTeardown, hooks.WhenPre,
		&stubHook{name: "hold-the-line", err: errors.New("open incident")})
	td := testTeardown(t, "dev", runners, &scriptedPrompter{})
	td.Hooks = hooks.NewRunner(registry, time.Second, testLogger{})

	_, err := td.Run(context.Background(), TeardownOptions{Emergency: true})
	if !errors.Is(err, hooks.ErrVetoed) {
		t.Fatalf("expected ErrVetoed, got %v", err)
	}
	if runners.app.destroys != 0 || runners.infra.destroys != 0 {
		t.Error("a vetoed emergency teardown must destroy nothing")
	}
}

func TestTeardownIncompleteOnDestroyFailure(t *testing.T) {
	runners := newRunnerSet()
	runners.app.destroyErr = errors.New("dependency violation")
	td := testTeardown(t, "dev", runners, &scriptedPrompter{answers: []string{"dev"}})

	result, err := td.Run(context.Background(), TeardownOptions{Force: true})
	if !errors.Is(err, ErrTeardownIncomplete) {
		t.Fatalf("expected ErrTeardownIncomplete, got %v", err)
	}
	if result.Final != StateIncomplete {
		t.Errorf("expected incomplete, got %s", result.Final)
	}
	if result.FailedPhase != "app" {
		t.Errorf("expected failed phase app, got %q", result.FailedPhase)
	}
	if runners.infra.destroys != 0 {
		t.Error("infra must not destroy after app destroy failed")
	}
}

func TestTeardownIncompleteWhenResourcesRemain(t *testing.T) {
	runners := newRunnerSet()
	runners.infra.stateIDs = []string{"aws_s3_bucket.data"}
	td := testTeardown(t, "dev", runners, &scriptedPrompter{answers: []string{"dev"}})

	result, err := td.Run(context.Background(), TeardownOptions{Force: true})
	if !errors.Is(err, ErrTeardownIncomplete) {
		t.Fatalf("expected ErrTeardownIncomplete, got %v", err)
	}
	if result.Final != StateIncomplete {
		t.Errorf("expected incomplete, got %s", result.Final)
	}
}

func TestTeardownPreserveDataRequiresCompleteBackup(t *testing.T) {
	runners := newRunnerSet()
	td := testTeardown(t, "dev", runners, &scriptedPrompter{answers: []string{"dev"}})
	td.TakeBackup = func(_ context.Context, _ string) (bool, error) { return false, nil }

	_, err := td.Run(context.Background(), TeardownOptions{Force: true, PreserveData: true})
	if !errors.Is(err, ErrTeardownIncomplete) {
		t.Fatalf("incomplete backup must abort, got %v", err)
	}
	if runners.app.destroys != 0 {
		t.Error("nothing may destroy after an incomplete backup")
	}

	// Complete backup proceeds.
	runners = newRunnerSet()
	td = testTeardown(t, "dev", runners, &scriptedPrompter{answers: []string{"dev"}})
	backups := 0
	td.TakeBackup = func(_ context.Context, name string) (bool, error) {
		backups++
		if name != "pre-teardown" {
			t.Errorf("unexpected backup name %q", name)
		}
		return true, nil
	}
	if _, err := td.Run(context.Background(), TeardownOptions{Force: true, PreserveData: true}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if backups != 1 {
		t.Errorf("expected one backup, got %d", backups)
	}
}

func TestTeardownBackupRunsByDefaultAndIsBestEffort(t *testing.T) {
	runners := newRunnerSet()
	td := testTeardown(t, "dev", runners, &scriptedPrompter{answers: []string{"dev"}})
	backups := 0
	td.TakeBackup = func(_ context.Context, _ string) (bool, error) {
		backups++
		return false, errors.New("credentials rotated")
	}

	// Without --preserve-data a failed backup is a warning, not a gate.
	result, err := td.Run(context.Background(), TeardownOptions{Force: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Final != StateDone {
		t.Errorf("expected done, got %s", result.Final)
	}
	if backups != 1 {
		t.Errorf("expected the default backup attempt, got %d", backups)
	}
}

func TestTeardownNoBackupSkipsCapture(t *testing.T) {
	runners := newRunnerSet()
	td := testTeardown(t, "dev", runners, &scriptedPrompter{answers: []string{"dev"}})
	backups := 0
	td.TakeBackup = func(_ context.Context, _ string) (bool, error) {
		backups++
		return true, nil
	}

	if _, err := td.Run(context.Background(), TeardownOptions{Force: true, NoBackup: true}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if backups != 0 {
		t.Errorf("--no-backup must skip the capture, got %d", backups)
	}
}

func TestTeardownPreserveDataPassesPreserveVar(t *testing.T) {
	runners := newRunnerSet()
	td := testTeardown(t, "dev", runners, &scriptedPrompter{answers: []string{"dev"}})
	td.TakeBackup = func(_ context.Context, _ string) (bool, error) { return true, nil }

	if _, err := td.Run(context.Background(), TeardownOptions{Force: true, PreserveData: true}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if runners.app.vars["preserve_data"] != "true" {
		t.Errorf("app destroy vars missing preserve_data: %v", runners.app.vars)
	}
	if runners.infra.vars["preserve_data"] != "true" {
		t.Errorf("infra destroy vars missing preserve_data: %v", runners.infra.vars)
	}

	// A plain teardown never sets it.
	runners = newRunnerSet()
	td = testTeardown(t, "dev", runners, &scriptedPrompter{answers: []string{"dev"}})
	if _, err := td.Run(context.Background(), TeardownOptions{Force: true, NoBackup: true}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, ok := runners.app.vars["preserve_data"]; ok {
		t.Error("preserve_data must only be set with --preserve-data")
	}
}

func TestTeardownCancelDuringDelayWindow(t *testing.T) {
	runners := newRunnerSet()
	td := testTeardown(t, "dev", runners, &scriptedPrompter{answers: []string{"dev"}})
	td.DelayWindow = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := td.Run(ctx, TeardownOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if runners.app.destroys != 0 || runners.infra.destroys != 0 {
		t.Error("cancellation during the delay window must destroy nothing")
	}
}
