// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/covecloud/platformctl/cmd/platformctl/internal/backend"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/hooks"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/infra/kube"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/infra/terraform"
)

// =============================================================================
// Shared fakes
// =============================================================================

type fakeBackend struct {
	mu        sync.Mutex
	resolveFn func(env string, phase backend.Phase) (*backend.Pointer, error)
	archived  []string
}

func (f *fakeBackend) Resolve(_ context.Context, env string, phase backend.Phase) (*backend.Pointer, error) {
	if f.resolveFn != nil {
		return f.resolveFn(env, phase)
	}
	return &backend.Pointer{
		Bucket: "state-" + env,
		Key:    phase.Key(),
		Region: "us-west-2",
	}, nil
}

func (f *fakeBackend) ArchiveState(_ context.Context, ptr *backend.Pointer, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, ptr.Key)
	return nil
}

// fakeRunner scripts one phase's terraform behavior.
type fakeRunner struct {
	phase backend.Phase

	planSummary *terraform.PlanSummary
	planErr     error
	applyErr    error
	destroyErr  error
	outputs     terraform.Outputs
	outputErr   error
	stateIDs    []string
	stateErr    error

	plans    int
	applies  int
	destroys int
	vars     map[string]string
}

func (f *fakeRunner) Plan(_ context.Context) (*terraform.PlanSummary, error) {
	f.plans++
	if f.planErr != nil {
		return nil, f.planErr
	}
	if f.planSummary != nil {
		return f.planSummary, nil
	}
	return &terraform.PlanSummary{Add: 3, HasChanges: true, PlanFile: "plan.out"}, nil
}

func (f *fakeRunner) Apply(_ context.Context, _ string) error {
	f.applies++
	return f.applyErr
}

func (f *fakeRunner) Destroy(_ context.Context) error {
	f.destroys++
	return f.destroyErr
}

func (f *fakeRunner) Output(_ context.Context) (terraform.Outputs, error) {
	if f.outputErr != nil {
		return nil, f.outputErr
	}
	if f.outputs != nil {
		return f.outputs, nil
	}
	return clusterOutputs(), nil
}

func (f *fakeRunner) StateList(_ context.Context) ([]string, error) {
	return f.stateIDs, f.stateErr
}

func clusterOutputs() terraform.Outputs {
	return terraform.Outputs{
		"cluster_endpoint":       {Value: "https://abc.eks.us-west-2.amazonaws.com"},
		"cluster_ca_certificate": {Value: "Y2EtZGF0YQ=="},
		"cluster_name":           {Value: "covecloud-dev"},
	}
}

// runnerSet builds a RunnerFactory handing out per-phase fakes and
// recording the vars each phase received.
type runnerSet struct {
	mu      sync.Mutex
	infra   *fakeRunner
	app     *fakeRunner
	factErr error
	order   []backend.Phase
}

func newRunnerSet() *runnerSet {
	return &runnerSet{
		infra: &fakeRunner{phase: backend.PhaseInfra},
		app:   &fakeRunner{phase: backend.PhaseApp},
	}
}

func (s *runnerSet) factory(phase backend.Phase, _ *backend.Pointer, vars map[string]string) (PhaseRunner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.factErr != nil {
		return nil, s.factErr
	}
	s.order = append(s.order, phase)
	switch phase {
	case backend.PhaseInfra:
		s.infra.vars = vars
		return s.infra, nil
	default:
		s.app.vars = vars
		return s.app, nil
	}
}

type fakeCluster struct {
	reachableErr error
	storageErr   error
	workloads    []kube.Workload
	workloadsErr error
	drainErr     error
	drains       int
}

func (f *fakeCluster) ServerReachable(_ context.Context) (string, error) {
	if f.reachableErr != nil {
		return "", f.reachableErr
	}
	return "v1.31.0", nil
}

func (f *fakeCluster) CheckStorageClasses(_ context.Context, _ []string) error {
	return f.storageErr
}

func (f *fakeCluster) ActiveWorkloads(_ context.Context, _, _ string) ([]kube.Workload, error) {
	return f.workloads, f.workloadsErr
}

func (f *fakeCluster) DrainWorkspaces(_ context.Context, _, _ string, _ time.Duration) error {
	f.drains++
	return f.drainErr
}

type testLogger struct{}

func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

func emptyHooks() *hooks.Runner {
	return hooks.NewRunner(hooks.NewRegistry(), time.Second, testLogger{})
}

type fixedEstimator struct {
	estimate float64
	err      error
}

func (f *fixedEstimator) EstimateMonthly(_ context.Context, _ string) (float64, error) {
	return f.estimate, f.err
}
