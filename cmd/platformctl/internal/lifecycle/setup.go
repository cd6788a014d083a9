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
	"strconv"
	"strings"
	"time"

	"github.com/covecloud/platformctl/cmd/platformctl/config"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/backend"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/hooks"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/infra/kube"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/infra/terraform"
)

var (
	// ErrBudgetExceeded aborts a setup whose estimated monthly cost is
	// above the environment's ceiling.
	ErrBudgetExceeded = errors.New("estimated cost exceeds environment budget")

	// ErrPreflightFailed aborts the application phase when the cluster
	// provisioned by the infrastructure phase is not usable.
	ErrPreflightFailed = errors.New("cluster preflight failed")
)

// PhaseError wraps a failure with the phase it happened in, so partial
// setups report exactly where to resume from.
type PhaseError struct {
	Phase backend.Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s phase: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// SetupOptions are the per-run knobs from the command line.
type SetupOptions struct {
	// Template selects a named tfvars template.
	Template string
	// DryRun plans both phases without applying.
	DryRun bool
	// AutoApprove downgrades a budget overrun from an abort to a warning.
	AutoApprove bool
	// NoBackup skips the post-setup snapshot.
	NoBackup bool
	// Budget overrides the environment's configured ceiling; negative
	// means "use config".
	Budget float64
	// AlertThreshold overrides the configured warning fraction of the
	// budget; zero means "use config".
	AlertThreshold float64
	// EnableMonitoring and EnableHA override the environment's configured
	// feature toggles when non-nil.
	EnableMonitoring *bool
	EnableHA         *bool
}

// PhaseResult records what one phase did.
type PhaseResult struct {
	Phase   backend.Phase         `json:"phase"`
	Summary terraform.PlanSummary `json:"summary"`
	Applied bool                  `json:"applied"`
	// Duration covers plan and apply together.
	Duration time.Duration `json:"duration_ns"`
}

// SetupResult is the outcome of a setup run.
type SetupResult struct {
	Environment    string            `json:"environment"`
	Template       string            `json:"template,omitempty"`
	DryRun         bool              `json:"dry_run"`
	Phases         []PhaseResult     `json:"phases"`
	KubeconfigPath string            `json:"kubeconfig_path,omitempty"`
	EstimatedCost  float64           `json:"estimated_cost,omitempty"`
	Outputs        map[string]string `json:"outputs,omitempty"`
	// ValidationFailed is set when the post-setup validation run reported
	// at least one hard failure. The environment is provisioned; the
	// operator should look at the validation report.
	ValidationFailed bool `json:"validation_failed,omitempty"`
	// HookVars are the variables pre-setup hooks forwarded into the run.
	HookVars map[string]string `json:"-"`
}

// ValidateFunc runs the post-setup validation suite and reports whether
// every check passed or warned. Individual check failures are aggregated
// inside; ok is false when at least one check failed hard.
type ValidateFunc func(ctx context.Context) (ok bool, err error)

// Setup orchestrates the two-phase provisioning of one environment.
type Setup struct {
	Env            string
	Cfg            config.PlatformConfig
	Backend        StateBackend
	NewRunner      RunnerFactory
	NewCluster     ClusterFactory
	Hooks          *hooks.Runner
	Estimator      terraform.CostEstimator
	WriteArtifact  KubeconfigWriter
	KubeconfigPath string
	// Validate runs after both phases apply. Nil disables it.
	Validate ValidateFunc
	// TakeBackup captures the post-setup snapshot. Nil disables it.
	TakeBackup BackupFunc
	Metrics    Recorder
	Log        Logger
}

// Run executes setup end to end. A failure after the infrastructure phase
// applied leaves the kubeconfig artifact in place so the operator can
// inspect the half-built environment and re-run setup to converge.
func (s *Setup) Run(ctx context.Context, opts SetupOptions) (*SetupResult, error) {
	if s.Metrics == nil {
		s.Metrics = NopRecorder{}
	}
	if s.WriteArtifact == nil {
		s.WriteArtifact = kube.WriteKubeconfig
	}

	result := &SetupResult{Environment: s.Env, Template: opts.Template, DryRun: opts.DryRun}

	hookVars, err := s.Hooks.RunPre(ctx, hooks.EventSetup, hooks.Context{
		Environment: s.Env,
		Template:    opts.Template,
	})
	if err != nil {
		s.Metrics.SetupFinished(s.Env, false)
		return nil, err
	}
	result.HookVars = hookVars

	infraOutputs, err := s.runInfraPhase(ctx, opts, hookVars, result)
	if err != nil {
		s.Metrics.SetupFinished(s.Env, false)
		return result, err
	}

	if !opts.DryRun && s.NewCluster != nil {
		if err := s.preflight(ctx); err != nil {
			s.Metrics.SetupFinished(s.Env, false)
			return result, &PhaseError{Phase: backend.PhaseApp, Err: err}
		}
	}

	if err := s.runAppPhase(ctx, opts, hookVars, infraOutputs, result); err != nil {
		s.Metrics.SetupFinished(s.Env, false)
		return result, err
	}

	if opts.DryRun {
		return result, nil
	}

	if s.Validate != nil {
		ok, err := s.Validate(ctx)
		switch {
		case err != nil:
			s.Log.Warn("post-setup validation could not run", "environment", s.Env, "error", err.Error())
		case !ok:
			result.ValidationFailed = true
			s.Log.Warn("post-setup validation reported failures", "environment", s.Env)
		}
	}

	if !opts.NoBackup && s.TakeBackup != nil {
		complete, err := s.TakeBackup(ctx, "post-setup")
		if err != nil {
			s.Log.Warn("post-setup snapshot failed", "environment", s.Env, "error", err.Error())
		} else if !complete {
			s.Log.Warn("post-setup snapshot incomplete", "environment", s.Env)
		}
	}

	if failed := s.Hooks.RunPost(ctx, hooks.EventSetup, hooks.Context{
		Environment: s.Env,
		Template:    opts.Template,
		Vars:        hookVars,
	}); failed > 0 {
		s.Metrics.HookFailed(string(hooks.EventSetup), string(hooks.WhenPost))
	}

	s.Metrics.SetupFinished(s.Env, true)
	s.Log.Info("setup complete", "environment", s.Env, "phases", len(result.Phases))
	return result, nil
}

// runInfraPhase plans (and unless dry-running, applies) the infrastructure
// phase, enforces the budget gate, and materializes the kubeconfig
// artifact from the phase outputs.
func (s *Setup) runInfraPhase(ctx context.Context, opts SetupOptions, hookVars map[string]string, result *SetupResult) (terraform.Outputs, error) {
	started := time.Now()
	phase := backend.PhaseInfra

	ptr, err := s.Backend.Resolve(ctx, s.Env, phase)
	if err != nil {
		return nil, &PhaseError{Phase: phase, Err: err}
	}
	if ptr.Legacy {
		s.Log.Warn("using legacy state layout", "bucket", ptr.Bucket, "key", ptr.Key)
	}

	runner, err := s.NewRunner(phase, ptr, s.phaseVars(opts, hookVars, nil))
	if err != nil {
		return nil, &PhaseError{Phase: phase, Err: err}
	}

	summary, err := runner.Plan(ctx)
	if err != nil {
		return nil, &PhaseError{Phase: phase, Err: err}
	}

	if err := s.budgetGate(ctx, opts, summary, result); err != nil {
		return nil, err
	}

	phaseResult := PhaseResult{Phase: phase, Summary: *summary}
	if opts.DryRun || !summary.HasChanges {
		if !summary.HasChanges {
			s.Log.Info("infrastructure phase already converged", "environment", s.Env)
		}
	} else {
		s.Log.Info("applying infrastructure phase",
			"environment", s.Env, "add", summary.Add, "change", summary.Change, "destroy", summary.Destroy)
		if err := runner.Apply(ctx, summary.PlanFile); err != nil {
			phaseResult.Duration = time.Since(started)
			result.Phases = append(result.Phases, phaseResult)
			return nil, &PhaseError{Phase: phase, Err: err}
		}
		phaseResult.Applied = true
	}
	phaseResult.Duration = time.Since(started)
	result.Phases = append(result.Phases, phaseResult)
	s.Metrics.ObservePhase(s.Env, string(phase), phaseResult.Duration)

	outputs, err := runner.Output(ctx)
	if err != nil {
		if opts.DryRun {
			// A dry run against a never-applied environment has no
			// outputs yet; the app phase plan is skipped below.
			return nil, nil
		}
		return nil, &PhaseError{Phase: phase, Err: err}
	}

	if !opts.DryRun {
		if err := s.writeArtifact(outputs); err != nil {
			return nil, &PhaseError{Phase: phase, Err: err}
		}
		result.KubeconfigPath = s.KubeconfigPath
	}
	return outputs, nil
}

// runAppPhase wires the infrastructure outputs and remote state pointer
// into the application phase, then plans and applies it.
func (s *Setup) runAppPhase(ctx context.Context, opts SetupOptions, hookVars map[string]string, infraOutputs terraform.Outputs, result *SetupResult) error {
	phase := backend.PhaseApp
	if infraOutputs == nil {
		// Dry run against a fresh environment: nothing to chain from.
		s.Log.Info("application phase plan unavailable until infrastructure applies", "environment", s.Env)
		return nil
	}
	started := time.Now()

	infraPtr, err := s.Backend.Resolve(ctx, s.Env, backend.PhaseInfra)
	if err != nil {
		return &PhaseError{Phase: phase, Err: err}
	}
	ptr, err := s.Backend.Resolve(ctx, s.Env, phase)
	if err != nil {
		return &PhaseError{Phase: phase, Err: err}
	}

	chained := map[string]string{
		"infra_state_bucket": infraPtr.Bucket,
		"infra_state_key":    infraPtr.Key,
		"infra_state_region": infraPtr.Region,
		"cluster_name":       infraOutputs.String("cluster_name"),
		"cluster_endpoint":   infraOutputs.String("cluster_endpoint"),
	}
	runner, err := s.NewRunner(phase, ptr, s.phaseVars(opts, hookVars, chained))
	if err != nil {
		return &PhaseError{Phase: phase, Err: err}
	}

	summary, err := runner.Plan(ctx)
	if err != nil {
		return &PhaseError{Phase: phase, Err: err}
	}

	phaseResult := PhaseResult{Phase: phase, Summary: *summary}
	if !opts.DryRun && summary.HasChanges {
		s.Log.Info("applying application phase",
			"environment", s.Env, "add", summary.Add, "change", summary.Change, "destroy", summary.Destroy)
		if err := runner.Apply(ctx, summary.PlanFile); err != nil {
			phaseResult.Duration = time.Since(started)
			result.Phases = append(result.Phases, phaseResult)
			return &PhaseError{Phase: phase, Err: err}
		}
		phaseResult.Applied = true
	}
	phaseResult.Duration = time.Since(started)
	result.Phases = append(result.Phases, phaseResult)
	s.Metrics.ObservePhase(s.Env, string(phase), phaseResult.Duration)

	if !opts.DryRun {
		outputs, err := runner.Output(ctx)
		if err == nil {
			result.Outputs = make(map[string]string, len(outputs))
			for name, out := range outputs {
				if out.Sensitive {
					continue
				}
				result.Outputs[name] = outputs.String(name)
			}
		}
	}
	return nil
}

// budgetGate estimates the monthly cost and aborts when it exceeds the
// effective budget. A missing estimator or estimate degrades to a warning;
// the gate only blocks on a confirmed overrun.
func (s *Setup) budgetGate(ctx context.Context, opts SetupOptions, summary *terraform.PlanSummary, result *SetupResult) error {
	budget := opts.Budget
	envCfg := s.Cfg.ForEnvironment(s.Env)
	if budget < 0 {
		budget = envCfg.Budget
	}
	if budget == 0 {
		return nil
	}
	if s.Estimator == nil {
		s.Log.Warn("no cost estimator available, budget gate degraded to warning",
			"environment", s.Env, "budget", budget)
		return nil
	}

	estimate, err := s.Estimator.EstimateMonthly(ctx, s.Cfg.Terraform.InfraDir)
	if err != nil {
		if errors.Is(err, terraform.ErrNoEstimate) {
			s.Log.Warn("cost estimate unavailable, budget gate degraded to warning",
				"environment", s.Env, "budget", budget)
			return nil
		}
		return &PhaseError{Phase: backend.PhaseInfra, Err: err}
	}
	result.EstimatedCost = estimate

	if estimate > budget {
		if !opts.AutoApprove {
			return fmt.Errorf("%w: estimated $%.2f/month over budget $%.2f/month", ErrBudgetExceeded, estimate, budget)
		}
		s.Log.Warn("estimated cost over budget, continuing with auto-approve",
			"environment", s.Env,
			"estimate", fmt.Sprintf("%.2f", estimate),
			"budget", fmt.Sprintf("%.2f", budget),
		)
		return nil
	}
	threshold := opts.AlertThreshold
	if threshold <= 0 {
		threshold = envCfg.AlertThreshold
	}
	if threshold > 0 && estimate > budget*threshold {
		s.Log.Warn("estimated cost approaching budget",
			"environment", s.Env,
			"estimate", fmt.Sprintf("%.2f", estimate),
			"budget", fmt.Sprintf("%.2f", budget),
		)
	}
	return nil
}

func (s *Setup) preflight(ctx context.Context) error {
	cluster, err := s.NewCluster(s.KubeconfigPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPreflightFailed, err)
	}
	version, err := cluster.ServerReachable(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPreflightFailed, err)
	}
	s.Log.Info("cluster reachable", "environment", s.Env, "version", version)
	if required := s.Cfg.Cluster.RequiredStorageClasses; len(required) > 0 {
		if err := cluster.CheckStorageClasses(ctx, required); err != nil {
			return fmt.Errorf("%w: %v", ErrPreflightFailed, err)
		}
	}
	return nil
}

func (s *Setup) writeArtifact(outputs terraform.Outputs) error {
	endpoint, err := outputs.Require("cluster_endpoint")
	if err != nil {
		return err
	}
	ca, err := outputs.Require("cluster_ca_certificate")
	if err != nil {
		return err
	}
	name, err := outputs.Require("cluster_name")
	if err != nil {
		return err
	}
	access := kube.ClusterAccess{Endpoint: endpoint, CACertificate: ca, ClusterName: name}
	if err := s.WriteArtifact(s.KubeconfigPath, access, s.Cfg.Backend.Region); err != nil {
		return fmt.Errorf("write kubeconfig artifact: %w", err)
	}
	s.Log.Info("kubeconfig artifact written", "path", s.KubeconfigPath)
	return nil
}

// phaseVars assembles the -var inputs common to both phases: environment
// identity, feature toggles from config (overridable per run), chained
// values, and variables forwarded by pre hooks (lowercased to match
// variable naming).
func (s *Setup) phaseVars(opts SetupOptions, hookVars, chained map[string]string) map[string]string {
	envCfg := s.Cfg.ForEnvironment(s.Env)
	monitoring := envCfg.EnableMonitoring
	if opts.EnableMonitoring != nil {
		monitoring = *opts.EnableMonitoring
	}
	ha := envCfg.EnableHA
	if opts.EnableHA != nil {
		ha = *opts.EnableHA
	}
	vars := map[string]string{
		"environment":       s.Env,
		"enable_monitoring": strconv.FormatBool(monitoring),
		"enable_ha":         strconv.FormatBool(ha),
	}
	for k, v := range hookVars {
		vars[strings.ToLower(k)] = v
	}
	for k, v := range chained {
		vars[k] = v
	}
	return vars
}
