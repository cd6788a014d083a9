// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// KnownEnvironments are the environments the platform manages. The
// orchestrator refuses anything else before touching a single external tool.
var KnownEnvironments = []string{"dev", "staging", "prod"}

// IsKnownEnvironment reports whether env is one of dev/staging/prod.
func IsKnownEnvironment(env string) bool {
	for _, e := range KnownEnvironments {
		if e == env {
			return true
		}
	}
	return false
}

type PlatformConfig struct {
	// Backend: where remote terraform state lives
	Backend BackendConfig `yaml:"backend" validate:"required"`

	// Terraform: tool location and module directories per phase
	Terraform TerraformConfig `yaml:"terraform" validate:"required"`

	// Cluster: kubernetes expectations for the app phase
	Cluster ClusterConfig `yaml:"cluster"`

	// Backup: archive location and retention
	Backup BackupConfig `yaml:"backup"`

	// Hooks: extension point configuration
	Hooks HooksConfig `yaml:"hooks"`

	// Environments: per-environment overrides keyed by dev/staging/prod
	Environments map[string]EnvironmentConfig `yaml:"environments"`
}

type BackendConfig struct {
	// BucketPrefix is prefixed to the environment name to form the state
	// container, e.g. "covecloud-platform-state" -> "covecloud-platform-state-dev".
	BucketPrefix string `yaml:"bucket_prefix" validate:"required"`
	Region       string `yaml:"region" validate:"required"`
}

type TerraformConfig struct {
	// Binary defaults to "terraform" on PATH.
	Binary string `yaml:"binary"`
	// InfraDir and AppDir hold the phase module roots.
	InfraDir string `yaml:"infra_dir" validate:"required"`
	AppDir   string `yaml:"app_dir" validate:"required"`
	// TemplateDir holds named tfvars templates selectable via --template.
	TemplateDir string `yaml:"template_dir"`
	// ApplyTimeoutMinutes bounds a single apply/destroy run. Default 60.
	ApplyTimeoutMinutes int `yaml:"apply_timeout_minutes"`
}

type ClusterConfig struct {
	// AppNamespace is where workspace workloads run. Default "workspaces".
	AppNamespace string `yaml:"app_namespace"`
	// WorkloadSelector identifies dependent workloads during the teardown
	// active-workload check. Default "app=workspace".
	WorkloadSelector string `yaml:"workload_selector"`
	// RequiredStorageClasses must exist before the app phase applies.
	RequiredStorageClasses []string `yaml:"required_storage_classes"`
	// DrainTimeoutMinutes bounds the workload drain. Default 10.
	DrainTimeoutMinutes int `yaml:"drain_timeout_minutes"`
}

type BackupConfig struct {
	// Dir overrides the archive location. Default ~/.platformctl/backups.
	Dir string `yaml:"dir"`
	// Keep is the number of archives retained per environment. Default 10.
	Keep int `yaml:"keep"`
	// OffsiteBucket enables GCS upload of finished archives when set.
	OffsiteBucket string `yaml:"offsite_bucket"`
	// OffsiteProject and OffsiteKeyPath configure the GCS client.
	OffsiteProject string `yaml:"offsite_project"`
	OffsiteKeyPath string `yaml:"offsite_key_path"`
}

type HooksConfig struct {
	// Dir holds the optional hook executables. Default ~/.platformctl/hooks.
	Dir string `yaml:"dir"`
	// TimeoutSeconds bounds each hook run. Default 120.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type EnvironmentConfig struct {
	// Budget is the monthly cost ceiling in whole currency units; 0 disables
	// the budget gate. Overridable per run via --budget.
	Budget float64 `yaml:"budget"`
	// AlertThreshold is the fraction of budget that triggers a warning.
	AlertThreshold float64 `yaml:"alert_threshold"`
	// EnableMonitoring and EnableHA feed phase variables.
	EnableMonitoring bool `yaml:"enable_monitoring"`
	EnableHA         bool `yaml:"enable_ha"`
}

// HomeDir returns the platformctl state directory (~/.platformctl).
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".platformctl"), nil
}

func DefaultConfig() PlatformConfig {
	return PlatformConfig{
		Backend: BackendConfig{
			BucketPrefix: "covecloud-platform-state",
			Region:       "us-east-1",
		},
		Terraform: TerraformConfig{
			Binary:              "terraform",
			InfraDir:            "infrastructure/terraform",
			AppDir:              "infrastructure/app",
			TemplateDir:         "infrastructure/templates",
			ApplyTimeoutMinutes: 60,
		},
		Cluster: ClusterConfig{
			AppNamespace:           "workspaces",
			WorkloadSelector:       "app=workspace",
			RequiredStorageClasses: []string{"gp3"},
			DrainTimeoutMinutes:    10,
		},
		Backup: BackupConfig{
			Keep: 10,
		},
		Hooks: HooksConfig{
			TimeoutSeconds: 120,
		},
		Environments: map[string]EnvironmentConfig{
			"dev":     {Budget: 500, AlertThreshold: 0.8},
			"staging": {Budget: 1500, AlertThreshold: 0.8, EnableMonitoring: true},
			"prod":    {Budget: 5000, AlertThreshold: 0.8, EnableMonitoring: true, EnableHA: true},
		},
	}
}

// ForEnvironment returns the per-environment overrides, zero-valued when the
// environment has no section.
func (c PlatformConfig) ForEnvironment(env string) EnvironmentConfig {
	if c.Environments == nil {
		return EnvironmentConfig{}
	}
	return c.Environments[env]
}
