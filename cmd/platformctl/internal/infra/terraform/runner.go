// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package terraform wraps the terraform CLI for the two provisioning phases.
//
// The runner treats terraform as a black box with a known contract:
// init against a remote backend, plan, apply, destroy, and typed output
// retrieval. All invocations go through process.Manager with explicit
// argument lists and bounded timeouts.
package terraform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/covecloud/platformctl/cmd/platformctl/internal/infra/process"
)

var (
	// ErrTerraformNotFound is returned when the terraform binary is not on PATH.
	ErrTerraformNotFound = errors.New("terraform not found")

	// ErrModuleDirMissing is returned when a phase module directory doesn't exist.
	ErrModuleDirMissing = errors.New("module directory not found")

	// ErrInitFailed is returned when backend initialization fails.
	ErrInitFailed = errors.New("terraform init failed")

	// ErrPlanFailed is returned when plan fails outright (not a diff).
	ErrPlanFailed = errors.New("terraform plan failed")

	// ErrApplyFailed is returned when apply fails.
	ErrApplyFailed = errors.New("terraform apply failed")

	// ErrDestroyFailed is returned when destroy fails.
	ErrDestroyFailed = errors.New("terraform destroy failed")

	// ErrOutputMissing is returned when a required output is absent.
	ErrOutputMissing = errors.New("terraform output missing")
)

// Output is one typed terraform output value.
type Output struct {
	Value     any  `json:"value"`
	Sensitive bool `json:"sensitive"`
}

// Outputs maps output names to values as returned by `terraform output -json`.
type Outputs map[string]Output

// String returns the output's value as a string, empty when absent or not a
// string.
func (o Outputs) String(name string) string {
	v, ok := o[name]
	if !ok {
		return ""
	}
	s, _ := v.Value.(string)
	return s
}

// Require returns the named string output or ErrOutputMissing.
func (o Outputs) Require(name string) (string, error) {
	s := o.String(name)
	if s == "" {
		return "", fmt.Errorf("%w: %s", ErrOutputMissing, name)
	}
	return s, nil
}

// PlanSummary condenses `terraform show -json <planfile>` for the operator
// confirmation step.
type PlanSummary struct {
	Add     int
	Change  int
	Destroy int
	// HasChanges is false when the plan is empty (idempotent re-run).
	HasChanges bool
	// PlanFile is the path to the saved plan, applied verbatim later.
	PlanFile string
}

// RunnerConfig configures a phase-scoped runner.
type RunnerConfig struct {
	// Binary is the terraform executable. Required.
	Binary string
	// Dir is the phase module directory. Required.
	Dir string
	// BackendArgs are -backend-config key=value pairs from the backend
	// coordinator.
	BackendArgs []string
	// VarFiles are -var-file arguments (template tfvars).
	VarFiles []string
	// Vars are -var key=value pairs (phase inputs, remote state pointers).
	Vars map[string]string
	// Timeout bounds every apply/destroy invocation.
	Timeout time.Duration
}

// Runner drives terraform for one phase of one environment.
//
// # Description
//
// A Runner is created per (environment, phase) with the backend pointer
// already resolved. Init is lazy: the first plan/apply/destroy triggers it.
// Apply and Destroy stream tool output to the operator; Plan and Output
// capture it.
//
// # Thread Safety
//
// A Runner is not safe for concurrent use; the orchestration layer
// drives phases one at a time.
type Runner struct {
	cfg    RunnerConfig
	proc   process.Manager
	inited bool
}

// NewRunner creates a runner after validating the configuration.
func NewRunner(cfg RunnerConfig, proc process.Manager) (*Runner, error) {
	if cfg.Binary == "" {
		cfg.Binary = "terraform"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Minute
	}
	if _, err := proc.LookPath(cfg.Binary); err != nil {
		return nil, fmt.Errorf("%w: %q is not installed or not on PATH", ErrTerraformNotFound, cfg.Binary)
	}
	if info, err := os.Stat(cfg.Dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrModuleDirMissing, cfg.Dir)
	}
	return &Runner{cfg: cfg, proc: proc}, nil
}

// Init runs `terraform init` with the backend pointer. Idempotent per runner.
func (r *Runner) Init(ctx context.Context) error {
	if r.inited {
		return nil
	}
	args := []string{"init", "-input=false", "-reconfigure"}
	for _, bc := range r.cfg.BackendArgs {
		args = append(args, "-backend-config="+bc)
	}
	stdout, stderr, code, err := r.run(ctx, args...)
	if err != nil || code != 0 {
		return fmt.Errorf("%w in %s: %w", ErrInitFailed, r.cfg.Dir,
			process.NewCommandError(r.cfg.Binary+" init", code, firstNonEmpty(stderr, stdout), err))
	}
	r.inited = true
	return nil
}

// Plan writes a plan file and summarizes it. An empty diff is not an error.
func (r *Runner) Plan(ctx context.Context) (*PlanSummary, error) {
	if err := r.Init(ctx); err != nil {
		return nil, err
	}
	planFile := filepath.Join(r.cfg.Dir, ".platformctl.tfplan")
	args := []string{"plan", "-input=false", "-detailed-exitcode", "-out=" + planFile}
	args = append(args, r.varArgs()...)

	_, stderr, code, err := r.run(ctx, args...)
	// -detailed-exitcode: 0 = empty diff, 2 = diff present, 1 = failure.
	switch code {
	case 0:
		return &PlanSummary{HasChanges: false, PlanFile: planFile}, nil
	case 2:
		summary, serr := r.summarizePlan(ctx, planFile)
		if serr != nil {
			// The plan itself succeeded; a summary failure only degrades
			// the confirmation display.
			return &PlanSummary{HasChanges: true, PlanFile: planFile}, nil
		}
		return summary, nil
	default:
		return nil, fmt.Errorf("%w in %s: %w", ErrPlanFailed, r.cfg.Dir,
			process.NewCommandError(r.cfg.Binary+" plan", code, stderr, err))
	}
}

// summarizePlan parses `terraform show -json` for the saved plan.
func (r *Runner) summarizePlan(ctx context.Context, planFile string) (*PlanSummary, error) {
	stdout, _, code, err := r.run(ctx, "show", "-json", planFile)
	if err != nil || code != 0 {
		return nil, fmt.Errorf("terraform show failed: %v", err)
	}
	var doc struct {
		ResourceChanges []struct {
			Change struct {
				Actions []string `json:"actions"`
			} `json:"change"`
		} `json:"resource_changes"`
	}
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse plan json: %w", err)
	}
	s := &PlanSummary{HasChanges: true, PlanFile: planFile}
	for _, rc := range doc.ResourceChanges {
		for _, a := range rc.Change.Actions {
			switch a {
			case "create":
				s.Add++
			case "update":
				s.Change++
			case "delete":
				s.Destroy++
			}
		}
	}
	return s, nil
}

// Apply applies a saved plan file, or the full configuration when planFile
// is empty. Output streams to the operator.
func (r *Runner) Apply(ctx context.Context, planFile string) error {
	if err := r.Init(ctx); err != nil {
		return err
	}
	applyCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	args := []string{"apply", "-input=false"}
	if planFile != "" {
		args = append(args, planFile)
	} else {
		args = append(args, "-auto-approve")
		args = append(args, r.varArgs()...)
	}
	code, err := r.proc.RunStreaming(applyCtx, r.cfg.Dir, nil, r.cfg.Binary, args...)
	if err != nil || code != 0 {
		// Streamed output went to the operator already; the error carries
		// the command and exit code.
		return fmt.Errorf("%w in %s: %w", ErrApplyFailed, r.cfg.Dir,
			process.NewCommandError(r.cfg.Binary+" apply", code, "", err))
	}
	return nil
}

// Destroy destroys the phase's resources. Output streams to the operator.
func (r *Runner) Destroy(ctx context.Context) error {
	if err := r.Init(ctx); err != nil {
		return err
	}
	destroyCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	args := []string{"destroy", "-input=false", "-auto-approve"}
	args = append(args, r.varArgs()...)
	code, err := r.proc.RunStreaming(destroyCtx, r.cfg.Dir, nil, r.cfg.Binary, args...)
	if err != nil || code != 0 {
		return fmt.Errorf("%w in %s: %w", ErrDestroyFailed, r.cfg.Dir,
			process.NewCommandError(r.cfg.Binary+" destroy", code, "", err))
	}
	return nil
}

// Output retrieves all outputs as typed values.
func (r *Runner) Output(ctx context.Context) (Outputs, error) {
	if err := r.Init(ctx); err != nil {
		return nil, err
	}
	stdout, stderr, code, err := r.run(ctx, "output", "-json")
	if err != nil || code != 0 {
		return nil, fmt.Errorf("terraform output failed in %s: %w", r.cfg.Dir,
			process.NewCommandError(r.cfg.Binary+" output", code, stderr, err))
	}
	out := Outputs{}
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		return nil, fmt.Errorf("failed to parse terraform output json: %w", err)
	}
	return out, nil
}

// StateList returns the resource addresses present in remote state. An empty
// list after destroy is the success signal the destroyer verifies.
func (r *Runner) StateList(ctx context.Context) ([]string, error) {
	if err := r.Init(ctx); err != nil {
		return nil, err
	}
	stdout, stderr, code, err := r.run(ctx, "state", "list")
	if code != 0 {
		// `state list` on an empty state exits non-zero on some versions;
		// treat "no state" stderr as empty.
		if strings.Contains(stderr, "No state file") || strings.TrimSpace(stdout) == "" && err == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("terraform state list failed in %s: %w", r.cfg.Dir,
			process.NewCommandError(r.cfg.Binary+" state list", code, stderr, err))
	}
	var resources []string
	for _, line := range strings.Split(stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			resources = append(resources, line)
		}
	}
	return resources, nil
}

func (r *Runner) varArgs() []string {
	var args []string
	for _, vf := range r.cfg.VarFiles {
		args = append(args, "-var-file="+vf)
	}
	// Deterministic order keeps reruns and tests stable.
	for _, k := range sortedKeys(r.cfg.Vars) {
		args = append(args, fmt.Sprintf("-var=%s=%s", k, r.cfg.Vars[k]))
	}
	return args
}

func (r *Runner) run(ctx context.Context, args ...string) (string, string, int, error) {
	return r.proc.RunInDir(ctx, r.cfg.Dir, nil, r.cfg.Binary, args...)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
