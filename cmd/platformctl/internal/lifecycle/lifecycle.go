// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lifecycle orchestrates environment setup and teardown.
//
// Setup provisions in two ordered phases, infrastructure then application,
// each with its own remote state. Teardown walks an explicit state machine
// that gates destruction behind workload checks, typed confirmation, and a
// cancellation window before destroying the phases in reverse order.
package lifecycle

import (
	"context"
	"time"

	"github.com/covecloud/platformctl/cmd/platformctl/internal/backend"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/infra/kube"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/infra/terraform"
)

// PhaseRunner is the slice of the terraform runner the orchestrators
// drive. One runner exists per (environment, phase).
type PhaseRunner interface {
	Plan(ctx context.Context) (*terraform.PlanSummary, error)
	Apply(ctx context.Context, planFile string) error
	Destroy(ctx context.Context) error
	Output(ctx context.Context) (terraform.Outputs, error)
	StateList(ctx context.Context) ([]string, error)
}

// RunnerFactory builds a PhaseRunner against a resolved backend pointer.
// extraVars become -var inputs for the phase.
type RunnerFactory func(phase backend.Phase, ptr *backend.Pointer, extraVars map[string]string) (PhaseRunner, error)

// StateBackend is the slice of the backend coordinator the orchestrators
// use.
type StateBackend interface {
	Resolve(ctx context.Context, env string, phase backend.Phase) (*backend.Pointer, error)
	ArchiveState(ctx context.Context, ptr *backend.Pointer, runID string) error
}

// ClusterGate is the slice of the cluster client the orchestrators use:
// preflight between setup phases, workload gate and drain during teardown.
type ClusterGate interface {
	ServerReachable(ctx context.Context) (string, error)
	CheckStorageClasses(ctx context.Context, required []string) error
	ActiveWorkloads(ctx context.Context, namespace, selector string) ([]kube.Workload, error)
	DrainWorkspaces(ctx context.Context, namespace, selector string, grace time.Duration) error
}

// ClusterFactory opens a ClusterGate from a kubeconfig artifact. Called
// lazily because the artifact only exists after the infrastructure phase.
type ClusterFactory func(kubeconfigPath string) (ClusterGate, error)

// KubeconfigWriter persists cluster access material as an artifact.
// Injectable so tests avoid touching real client config machinery.
type KubeconfigWriter func(path string, access kube.ClusterAccess, region string) error

// Logger is the subset of the logging interface this package needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Recorder receives operation metrics. diagnostics.Metrics satisfies it.
type Recorder interface {
	ObservePhase(env, phase string, d time.Duration)
	SetupFinished(env string, ok bool)
	TeardownFinished(env string, ok bool)
	DestroyEvent(env, reason string)
	HookFailed(event, when string)
}

// NopRecorder discards all observations.
type NopRecorder struct{}

func (NopRecorder) ObservePhase(string, string, time.Duration) {}
func (NopRecorder) SetupFinished(string, bool)                 {}
func (NopRecorder) TeardownFinished(string, bool)              {}
func (NopRecorder) DestroyEvent(string, string)                {}
func (NopRecorder) HookFailed(string, string)                  {}

var _ Recorder = (NopRecorder{})
