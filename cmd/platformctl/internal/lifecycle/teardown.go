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
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/covecloud/platformctl/cmd/platformctl/internal/backend"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/hooks"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/infra/kube"
)

// State is a step in the teardown progression. Transitions only move
// forward; a failure lands the run in StateIncomplete and nothing resets.
type State string

const (
	StateRequested     State = "requested"
	StateWorkloadCheck State = "workload-check"
	StateConfirmed     State = "confirmed"
	StateDelayWindow   State = "delay-window"
	StateDestroying    State = "destroying"
	StateVerified      State = "verified"
	StateDone          State = "done"
	StateIncomplete    State = "incomplete"
)

var (
	// ErrActiveWorkloads blocks a teardown while user work is running.
	ErrActiveWorkloads = errors.New("environment has active workloads")

	// ErrNotConfirmed is returned when the typed confirmation does not
	// match what the environment requires.
	ErrNotConfirmed = errors.New("teardown not confirmed")

	// ErrTeardownIncomplete marks a teardown that destroyed some but not
	// all resources. The environment needs manual attention.
	ErrTeardownIncomplete = errors.New("teardown incomplete")
)

// productionPhrase is the extra literal a prod teardown must type.
const productionPhrase = "destroy-production-data"

// Prompter collects typed confirmation from the operator.
type Prompter interface {
	// ReadLine shows prompt and returns the operator's answer.
	ReadLine(prompt string) (string, error)
}

// TeardownOptions are the per-run knobs from the command line.
type TeardownOptions struct {
	// Force skips the active-workload gate and the delay window. The
	// typed confirmation still runs.
	Force bool
	// Emergency additionally skips the typed confirmation and the
	// pre-destroy drain, for tearing down an environment whose cluster is
	// already gone. Hooks still run and a pre-teardown hook can veto.
	Emergency bool
	// NoBackup skips the pre-destroy backup that otherwise runs by
	// default. Ignored when PreserveData is set.
	NoBackup bool
	// PreserveData requires the pre-destroy backup to be complete and
	// passes preserve flags into the destroy so data-bearing resources
	// are retained rather than deleted.
	PreserveData bool
	// Delay overrides the cancellation window. Zero uses the default.
	Delay time.Duration
}

// TeardownResult is the recorded outcome of a teardown run.
type TeardownResult struct {
	RunID       string        `json:"run_id"`
	Environment string        `json:"environment"`
	States      []State       `json:"states"`
	Final       State         `json:"final"`
	Duration    time.Duration `json:"duration_ns"`
	// FailedPhase is set when destruction stopped partway.
	FailedPhase string `json:"failed_phase,omitempty"`
}

// BackupFunc captures a pre-destroy backup and reports whether the
// capture was complete.
type BackupFunc func(ctx context.Context, name string) (complete bool, err error)

// Teardown drives the destruction of one environment.
type Teardown struct {
	Env            string
	Backend        StateBackend
	NewRunner      RunnerFactory
	NewCluster     ClusterFactory
	Hooks          *hooks.Runner
	Prompt         Prompter
	TakeBackup     BackupFunc
	KubeconfigPath string
	Namespace      string
	Selector       string
	DrainTimeout   time.Duration
	DelayWindow    time.Duration
	Metrics        Recorder
	Log            Logger

	result *TeardownResult
}

// Run walks the state machine to completion. The returned result is
// non-nil even on failure so the caller can report how far the run got.
func (t *Teardown) Run(ctx context.Context, opts TeardownOptions) (*TeardownResult, error) {
	if t.Metrics == nil {
		t.Metrics = NopRecorder{}
	}
	started := time.Now()
	t.result = &TeardownResult{
		RunID:       uuid.NewString(),
		Environment: t.Env,
	}
	defer func() {
		t.result.Duration = time.Since(started)
	}()

	t.Metrics.DestroyEvent(t.Env, destroyReason(opts))
	t.enter(StateRequested)
	t.Log.Info("teardown requested", "environment", t.Env, "run_id", t.result.RunID,
		"force", opts.Force, "emergency", opts.Emergency)

	hookVars, err := t.Hooks.RunPre(ctx, hooks.EventTeardown, hooks.Context{Environment: t.Env})
	if err != nil {
		t.Metrics.TeardownFinished(t.Env, false)
		return t.result, err
	}
	_ = hookVars // teardown phases take no hook-forwarded inputs

	// Active workload gate.
	t.enter(StateWorkloadCheck)
	var cluster ClusterGate
	if !opts.Emergency && t.NewCluster != nil {
		var err error
		cluster, err = t.NewCluster(t.KubeconfigPath)
		if err != nil {
			// No artifact or unreachable cluster: nothing to gate on.
			t.Log.Warn("cluster not reachable for workload check, continuing", "error", err.Error())
			cluster = nil
		}
	}
	if cluster != nil && !opts.Force {
		active, err := cluster.ActiveWorkloads(ctx, t.Namespace, t.Selector)
		if err != nil {
			return t.result, t.fail("", err)
		}
		if len(active) > 0 {
			names := make([]string, 0, len(active))
			for _, w := range active {
				names = append(names, w.Name)
			}
			t.Metrics.TeardownFinished(t.Env, false)
			return t.result, fmt.Errorf("%w: %d running (%v); stop them or use --force", ErrActiveWorkloads, len(active), names)
		}
	}

	// An emergency run goes straight past confirmation and the delay
	// window; the audit trail records that it did.
	if opts.Emergency {
		t.Log.Warn("emergency teardown, skipping confirmation and delay window",
			"environment", t.Env, "run_id", t.result.RunID)
	} else {
		if err := t.confirm(); err != nil {
			t.Metrics.TeardownFinished(t.Env, false)
			return t.result, err
		}
		t.enter(StateConfirmed)
	}

	// Pre-destroy backup runs by default; --preserve-data hardens it into
	// a gate, --no-backup skips it.
	if opts.PreserveData && t.TakeBackup == nil {
		return t.result, t.fail("", errors.New("--preserve-data requested but no backup manager available"))
	}
	if t.TakeBackup != nil && (opts.PreserveData || !opts.NoBackup) {
		complete, err := t.TakeBackup(ctx, "pre-teardown")
		switch {
		case err != nil && opts.PreserveData:
			return t.result, t.fail("", fmt.Errorf("pre-destroy backup: %w", err))
		case err != nil:
			t.Log.Warn("pre-destroy backup failed, continuing", "error", err.Error())
		case !complete && opts.PreserveData:
			return t.result, t.fail("", errors.New("pre-destroy backup incomplete, refusing to destroy"))
		case !complete:
			t.Log.Warn("pre-destroy backup incomplete, continuing", "environment", t.Env)
		default:
			t.Log.Info("pre-destroy backup captured", "environment", t.Env)
		}
	}

	// Cancellation window: the operator can still ctrl-c out.
	if !opts.Force && !opts.Emergency {
		t.enter(StateDelayWindow)
		delay := opts.Delay
		if delay <= 0 {
			delay = t.DelayWindow
		}
		if delay > 0 {
			t.Log.Info("teardown begins shortly, interrupt to cancel", "delay", delay.String())
			if err := t.wait(ctx, delay); err != nil {
				t.Metrics.TeardownFinished(t.Env, false)
				return t.result, err
			}
		}
	}

	if cluster != nil && !opts.Emergency {
		drainCtx, cancel := context.WithTimeout(ctx, t.DrainTimeout)
		err := cluster.DrainWorkspaces(drainCtx, t.Namespace, t.Selector, 30*time.Second)
		cancel()
		if err != nil {
			t.Log.Warn("workspace drain did not converge, destroying anyway", "error", err.Error())
		}
	}

	t.enter(StateDestroying)
	vars := map[string]string{"environment": t.Env}
	if opts.PreserveData {
		vars["preserve_data"] = "true"
	}
	if err := t.destroyPhases(ctx, vars); err != nil {
		return t.result, err
	}

	if err := t.verify(ctx, vars); err != nil {
		return t.result, err
	}
	t.enter(StateVerified)

	if err := kube.RemoveKubeconfig(t.KubeconfigPath); err != nil {
		t.Log.Warn("could not remove kubeconfig artifact", "error", err.Error())
	}

	if failed := t.Hooks.RunPost(ctx, hooks.EventTeardown, hooks.Context{Environment: t.Env}); failed > 0 {
		t.Metrics.HookFailed(string(hooks.EventTeardown), string(hooks.WhenPost))
	}

	t.enter(StateDone)
	t.result.Final = StateDone
	t.Metrics.TeardownFinished(t.Env, true)
	t.Log.Info("teardown complete", "environment", t.Env, "run_id", t.result.RunID)
	return t.result, nil
}

// wait blocks for the delay window, logging the remaining time every 30s
// so an attached operator can still change their mind.
func (t *Teardown) wait(ctx context.Context, delay time.Duration) error {
	deadline := time.NewTimer(delay)
	defer deadline.Stop()
	tick := time.NewTicker(30 * time.Second)
	defer tick.Stop()
	started := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			t.Log.Info("teardown pending", "remaining", (delay - time.Since(started)).Round(time.Second).String())
		case <-deadline.C:
			return nil
		}
	}
}

// confirm requires the environment name typed back, and for production
// the additional destroy phrase.
func (t *Teardown) confirm() error {
	answer, err := t.Prompt.ReadLine(fmt.Sprintf("Type the environment name (%s) to confirm teardown: ", t.Env))
	if err != nil {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if answer != t.Env {
		return fmt.Errorf("%w: expected %q", ErrNotConfirmed, t.Env)
	}
	if t.Env == "prod" {
		answer, err := t.Prompt.ReadLine(fmt.Sprintf("This is PRODUCTION. Type %q to proceed: ", productionPhrase))
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		if answer != productionPhrase {
			return fmt.Errorf("%w: production phrase mismatch", ErrNotConfirmed)
		}
	}
	return nil
}

// destroyPhases destroys in reverse provisioning order: the application
// phase depends on the infrastructure phase, so it goes first. Each
// phase's final state is archived before its destroy.
func (t *Teardown) destroyPhases(ctx context.Context, vars map[string]string) error {
	for _, phase := range []backend.Phase{backend.PhaseApp, backend.PhaseInfra} {
		ptr, err := t.Backend.Resolve(ctx, t.Env, phase)
		if err != nil {
			return t.fail(string(phase), err)
		}
		if err := t.Backend.ArchiveState(ctx, ptr, t.result.RunID); err != nil {
			t.Log.Warn("state archival failed", "phase", string(phase), "error", err.Error())
		}

		runner, err := t.NewRunner(phase, ptr, vars)
		if err != nil {
			return t.fail(string(phase), err)
		}
		t.Log.Info("destroying phase", "environment", t.Env, "phase", string(phase))
		phaseStart := time.Now()
		if err := runner.Destroy(ctx); err != nil {
			return t.fail(string(phase), err)
		}
		t.Metrics.ObservePhase(t.Env, "destroy-"+string(phase), time.Since(phaseStart))
	}
	return nil
}

// verify confirms no resources remain under management in either phase.
func (t *Teardown) verify(ctx context.Context, vars map[string]string) error {
	for _, phase := range []backend.Phase{backend.PhaseInfra, backend.PhaseApp} {
		ptr, err := t.Backend.Resolve(ctx, t.Env, phase)
		if err != nil {
			return t.fail(string(phase), err)
		}
		runner, err := t.NewRunner(phase, ptr, vars)
		if err != nil {
			return t.fail(string(phase), err)
		}
		remaining, err := runner.StateList(ctx)
		if err != nil {
			return t.fail(string(phase), err)
		}
		if len(remaining) > 0 {
			return t.fail(string(phase), fmt.Errorf("%d resources still in state", len(remaining)))
		}
	}
	return nil
}

// fail records the incomplete terminal state. The log marker is what
// operators and alerts grep for.
func (t *Teardown) fail(phase string, err error) error {
	t.Metrics.TeardownFinished(t.Env, false)
	t.enter(StateIncomplete)
	t.result.Final = StateIncomplete
	t.result.FailedPhase = phase
	t.Log.Error("TEARDOWN INCOMPLETE",
		"environment", t.Env,
		"run_id", t.result.RunID,
		"phase", phase,
		"error", err.Error(),
	)
	return fmt.Errorf("%w: %v", ErrTeardownIncomplete, err)
}

func (t *Teardown) enter(s State) {
	t.result.States = append(t.result.States, s)
}

func destroyReason(opts TeardownOptions) string {
	switch {
	case opts.Emergency:
		return "emergency"
	case opts.Force:
		return "forced"
	default:
		return "requested"
	}
}
