// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/covecloud/platformctl/cmd/platformctl/config"
	"github.com/covecloud/platformctl/cmd/platformctl/gcs"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/backend"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/backup"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/diagnostics"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/hooks"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/infra/kube"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/infra/process"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/infra/terraform"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/lifecycle"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/validate"
	"github.com/covecloud/platformctl/pkg/logging"
)

// =============================================================================
// INTERFACES
// =============================================================================

// PlatformFactory creates Platform instances with all required dependencies.
//
// This interface enables dependency injection for testing - production code
// uses DefaultPlatformFactory, while tests can provide mock implementations.
type PlatformFactory interface {
	// CreatePlatform wires a Platform for one environment.
	//
	// # Description
	//
	// Builds every shared dependency the commands need: the process
	// manager, the S3 state backend coordinator, the terraform runner
	// factory, the cluster gate factory, the hook runner, and the
	// operation metrics registry.
	//
	// # Inputs
	//
	//   - ctx: Used for AWS credential resolution, not retained.
	//   - cfg: The loaded platform configuration.
	//   - env: The target environment (dev, staging, prod).
	//   - log: The process-wide logger.
	//
	// # Outputs
	//
	//   - *Platform: Ready-to-use dependency container.
	//   - error: Non-nil if any dependency creation fails.
	CreatePlatform(ctx context.Context, cfg config.PlatformConfig, env string, log *logging.Logger) (*Platform, error)
}

// =============================================================================
// STRUCTS
// =============================================================================

// Platform holds the wired dependencies for one environment's commands.
type Platform struct {
	Env     string
	Cfg     config.PlatformConfig
	EnvCfg  config.EnvironmentConfig
	Proc    process.Manager
	Log     *logging.Logger
	Metrics *diagnostics.Metrics

	Coordinator    *backend.Coordinator
	Hooks          *hooks.Runner
	Estimator      terraform.CostEstimator
	KubeconfigPath string
}

// DefaultPlatformFactory is the production implementation of PlatformFactory.
type DefaultPlatformFactory struct{}

// =============================================================================
// METHODS
// =============================================================================

// NewDefaultPlatformFactory creates a new DefaultPlatformFactory instance.
func NewDefaultPlatformFactory() *DefaultPlatformFactory {
	return &DefaultPlatformFactory{}
}

// CreatePlatform builds a fully configured Platform with production
// dependencies.
//
// # Description
//
// Wires components in dependency order:
//
//	ProcessManager -> S3 client -> backend.Coordinator ->
//	hook discovery -> metrics -> Platform
//
// The terraform runners and cluster gate are built lazily per operation
// because they need a resolved state pointer and a kubeconfig artifact
// that may not exist yet.
//
// # Limitations
//
//   - AWS credentials must resolve from the standard chain (env vars,
//     shared config, instance role).
func (f *DefaultPlatformFactory) CreatePlatform(ctx context.Context, cfg config.PlatformConfig, env string, log *logging.Logger) (*Platform, error) {
	if !config.IsKnownEnvironment(env) {
		return nil, fmt.Errorf("unknown environment %q, expected one of %v", env, config.KnownEnvironments)
	}

	proc := process.NewDefaultManager()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Backend.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	coordinator := backend.NewCoordinator(s3.NewFromConfig(awsCfg), cfg.Backend.BucketPrefix, cfg.Backend.Region)

	home, err := config.HomeDir()
	if err != nil {
		return nil, err
	}

	registry := hooks.NewRegistry()
	hooksDir := cfg.Hooks.Dir
	if hooksDir == "" {
		hooksDir = filepath.Join(home, "hooks")
	}
	if err := hooks.DiscoverScripts(hooksDir, registry, proc); err != nil {
		return nil, fmt.Errorf("hook discovery failed: %w", err)
	}
	hookRunner := hooks.NewRunner(registry, time.Duration(cfg.Hooks.TimeoutSeconds)*time.Second, log)

	return &Platform{
		Env:            env,
		Cfg:            cfg,
		EnvCfg:         cfg.ForEnvironment(env),
		Proc:           proc,
		Log:            log,
		Metrics:        diagnostics.NewMetrics(),
		Coordinator:    coordinator,
		Hooks:          hookRunner,
		Estimator:      terraform.NewInfracostEstimator(proc),
		KubeconfigPath: filepath.Join(home, "kubeconfig-"+env),
	}, nil
}

// RunnerFactory returns a lifecycle.RunnerFactory that builds phase-scoped
// terraform runners. The template choice becomes a -var-file argument when
// the template directory holds a matching tfvars file.
func (p *Platform) RunnerFactory(template string) lifecycle.RunnerFactory {
	return func(phase backend.Phase, ptr *backend.Pointer, extraVars map[string]string) (lifecycle.PhaseRunner, error) {
		dir := p.Cfg.Terraform.InfraDir
		if phase == backend.PhaseApp {
			dir = p.Cfg.Terraform.AppDir
		}
		var varFiles []string
		if template != "" && p.Cfg.Terraform.TemplateDir != "" {
			varFiles = append(varFiles, filepath.Join(p.Cfg.Terraform.TemplateDir, template+".tfvars"))
		}
		return terraform.NewRunner(terraform.RunnerConfig{
			Binary:      p.Cfg.Terraform.Binary,
			Dir:         dir,
			BackendArgs: ptr.BackendArgs(),
			VarFiles:    varFiles,
			Vars:        extraVars,
			Timeout:     time.Duration(p.Cfg.Terraform.ApplyTimeoutMinutes) * time.Minute,
		}, p.Proc)
	}
}

// ClusterFactory opens a cluster gate from the kubeconfig artifact.
func (p *Platform) ClusterFactory() lifecycle.ClusterFactory {
	return func(kubeconfigPath string) (lifecycle.ClusterGate, error) {
		return kube.NewClientFromKubeconfig(kubeconfigPath)
	}
}

// Setup builds the setup orchestrator for this environment.
func (p *Platform) Setup(template string) *lifecycle.Setup {
	return &lifecycle.Setup{
		Env:            p.Env,
		Cfg:            p.Cfg,
		Backend:        p.Coordinator,
		NewRunner:      p.RunnerFactory(template),
		NewCluster:     p.ClusterFactory(),
		Hooks:          p.Hooks,
		Estimator:      p.Estimator,
		KubeconfigPath: p.KubeconfigPath,
		Validate:       p.validateFunc(),
		TakeBackup:     p.backupFunc(),
		Metrics:        p.Metrics,
		Log:            p.Log,
	}
}

// validateFunc adapts the validation engine into the lifecycle's
// post-setup callback. The standard suite runs against whatever the
// freshly applied environment exposes.
func (p *Platform) validateFunc() lifecycle.ValidateFunc {
	return func(ctx context.Context) (bool, error) {
		engine, _ := p.ValidationEngine(ctx)
		report, err := engine.Run(ctx, p.Env, nil, validate.DepthStandard)
		if err != nil {
			return false, err
		}
		return report.Overall != validate.StatusFail, nil
	}
}

// backupFunc adapts the backup manager into the lifecycle's snapshot
// callback. The manager is built per call so it sees the components
// available at that moment (the kubeconfig may appear mid-setup).
func (p *Platform) backupFunc() lifecycle.BackupFunc {
	return func(ctx context.Context, name string) (bool, error) {
		mgr, err := p.BackupManager(ctx, backup.AutoConfirmer{})
		if err != nil {
			return false, err
		}
		manifest, err := mgr.Backup(ctx, name, nil)
		if err != nil {
			return false, err
		}
		return manifest.Complete, nil
	}
}

// defaultDelayWindow is the cancellation countdown before destruction
// starts, absent an explicit --delay.
const defaultDelayWindow = 5 * time.Minute

// Teardown builds the teardown orchestrator for this environment.
func (p *Platform) Teardown(prompt lifecycle.Prompter, delay time.Duration) *lifecycle.Teardown {
	if delay <= 0 {
		delay = defaultDelayWindow
	}
	t := &lifecycle.Teardown{
		Env:            p.Env,
		Backend:        p.Coordinator,
		NewRunner:      p.RunnerFactory(""),
		NewCluster:     p.ClusterFactory(),
		Hooks:          p.Hooks,
		Prompt:         prompt,
		KubeconfigPath: p.KubeconfigPath,
		Namespace:      p.Cfg.Cluster.AppNamespace,
		Selector:       p.Cfg.Cluster.WorkloadSelector,
		DrainTimeout:   time.Duration(p.Cfg.Cluster.DrainTimeoutMinutes) * time.Minute,
		DelayWindow:    delay,
		Metrics:        p.Metrics,
		Log:            p.Log,
	}
	t.TakeBackup = p.backupFunc()
	return t
}

// BackupManager assembles the backup manager with every component this
// environment can capture. Cluster and database components are only
// included when the environment's access material is available;
// infrastructure state is always captured.
func (p *Platform) BackupManager(ctx context.Context, confirm backup.Confirmer) (backup.Manager, error) {
	home, err := config.HomeDir()
	if err != nil {
		return nil, err
	}
	dir := p.Cfg.Backup.Dir
	if dir == "" {
		dir = filepath.Join(home, "backups")
	}

	components := []backup.Component{
		&backup.StateComponent{Store: p.Coordinator, Environment: p.Env},
	}
	if _, err := os.Stat(p.KubeconfigPath); err == nil {
		components = append(components,
			&backup.ManifestsComponent{
				Proc:       p.Proc,
				Kubeconfig: p.KubeconfigPath,
				Namespace:  p.Cfg.Cluster.AppNamespace,
			},
			&backup.VolumesComponent{
				Proc:       p.Proc,
				Kubeconfig: p.KubeconfigPath,
				Namespace:  p.Cfg.Cluster.AppNamespace,
				Selector:   p.Cfg.Cluster.WorkloadSelector,
				DataPath:   "/workspace",
			},
		)
	} else {
		p.Log.Warn("no kubeconfig artifact, skipping cluster backup components", "path", p.KubeconfigPath)
	}
	if db := p.databaseAccess(ctx); db != nil {
		components = append(components, db)
	}

	var uploader backup.Uploader
	if p.Cfg.Backup.OffsiteBucket != "" {
		client, err := gcs.NewClient(ctx, p.Cfg.Backup.OffsiteProject, p.Cfg.Backup.OffsiteBucket, p.Cfg.Backup.OffsiteKeyPath)
		if err != nil {
			return nil, fmt.Errorf("offsite uploader unavailable: %w", err)
		}
		uploader = client
	}

	return backup.NewManager(backup.Config{
		Environment: p.Env,
		Dir:         dir,
		Keep:        p.Cfg.Backup.Keep,
		Components:  components,
		Uploader:    uploader,
		Confirm:     confirm,
		Log:         p.Log,
	}), nil
}

// databaseAccess reads database coordinates from the infrastructure phase
// outputs. Returns nil when the outputs are unavailable, which downgrades
// the data dump to "not captured" rather than failing the whole backup.
func (p *Platform) databaseAccess(ctx context.Context) backup.Component {
	outputs, err := p.infraOutputs(ctx)
	if err != nil {
		p.Log.Warn("infrastructure outputs unavailable, skipping database dump", "error", err)
		return nil
	}
	host := outputs.String("database_host")
	if host == "" {
		return nil
	}
	return &backup.DataDumpComponent{
		Proc:     p.Proc,
		Host:     host,
		Port:     outputs.String("database_port"),
		Database: outputs.String("database_name"),
		User:     outputs.String("database_user"),
		Password: outputs.String("database_password"),
	}
}

// infraOutputs resolves the infrastructure phase pointer and fetches its
// terraform outputs.
func (p *Platform) infraOutputs(ctx context.Context) (terraform.Outputs, error) {
	ptr, err := p.Coordinator.Resolve(ctx, p.Env, backend.PhaseInfra)
	if err != nil {
		return nil, err
	}
	runner, err := p.RunnerFactory("")(backend.PhaseInfra, ptr, nil)
	if err != nil {
		return nil, err
	}
	return runner.Output(ctx)
}

// ValidationEngine assembles the check registry for this environment.
// Checks whose dependencies are missing (no kubeconfig, no outputs) are
// left out; the engine reports on what is actually inspectable.
func (p *Platform) ValidationEngine(ctx context.Context) (*validate.Engine, *validate.Registry) {
	registry := validate.NewRegistry()

	registry.Register(&validate.StateBackendCheck{Resolver: p.Coordinator, Environment: p.Env})
	registry.Register(&validate.KubeconfigPermissionsCheck{Path: p.KubeconfigPath})

	if ptr, err := p.Coordinator.Resolve(ctx, p.Env, backend.PhaseInfra); err == nil {
		if runner, err := p.RunnerFactory("")(backend.PhaseInfra, ptr, nil); err == nil {
			registry.Register(&validate.TerraformStateCheck{Lister: runner})
		}
	}

	if cluster, err := kube.NewClientFromKubeconfig(p.KubeconfigPath); err == nil {
		registry.Register(&validate.APIServerCheck{Cluster: cluster})
		registry.Register(&validate.StorageClassCheck{
			Cluster:  cluster,
			Required: p.Cfg.Cluster.RequiredStorageClasses,
		})
		registry.Register(&validate.WorkspaceNamespaceCheck{
			Cluster:   cluster,
			Namespace: p.Cfg.Cluster.AppNamespace,
			Selector:  p.Cfg.Cluster.WorkloadSelector,
		})
		registry.Register(&validate.NodeUtilizationCheck{Proc: p.Proc, Kubeconfig: p.KubeconfigPath})
	} else {
		p.Log.Warn("cluster checks unavailable", "error", err)
	}

	dbCheck := &validate.DatabaseReadyCheck{Proc: p.Proc}
	latencyCheck := &validate.DatabaseLatencyCheck{Proc: p.Proc}
	monCheck := &validate.MonitoringEndpointCheck{Enabled: p.EnvCfg.EnableMonitoring}
	if outputs, err := p.infraOutputs(ctx); err == nil {
		if endpoint := outputs.String("cluster_endpoint"); endpoint != "" {
			registry.Register(&validate.DNSResolutionCheck{Endpoint: endpoint})
			registry.Register(&validate.TLSExpiryCheck{
				Endpoint:    endpoint,
				WarnWithin:  30 * 24 * time.Hour,
				DialTimeout: 10 * time.Second,
			})
		}
		dbCheck.Host = outputs.String("database_host")
		dbCheck.Port = outputs.String("database_port")
		latencyCheck.Host = dbCheck.Host
		latencyCheck.Port = dbCheck.Port
		latencyCheck.Database = outputs.String("database_name")
		latencyCheck.User = outputs.String("database_user")
		monCheck.URL = outputs.String("monitoring_url")
	} else {
		p.Log.Warn("output-derived checks degraded", "error", err)
	}
	registry.Register(dbCheck)
	registry.Register(latencyCheck)
	registry.Register(monCheck)

	return validate.NewEngine(registry, p.Log), registry
}

// CreateProductionPlatform is the convenience entry the commands use.
func CreateProductionPlatform(ctx context.Context, env string, log *logging.Logger) (*Platform, error) {
	return NewDefaultPlatformFactory().CreatePlatform(ctx, config.Global, env, log)
}

// Compile-time interface check
var _ PlatformFactory = (*DefaultPlatformFactory)(nil)
