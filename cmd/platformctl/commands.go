// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"time"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	verboseLogs bool
	quietLogs   bool
	jsonLogs    bool
	metricsFile string

	setupTemplate         string
	setupDryRun           bool
	setupAutoApprove      bool
	setupNoBackup         bool
	setupEnableMonitoring bool
	setupEnableHA         bool
	setupBudget           float64
	setupAlertThreshold   float64

	teardownForce        bool
	teardownEmergency    bool
	teardownNoBackup     bool
	teardownPreserveData bool
	teardownDelay        time.Duration

	validateComponents []string
	validateDepth      string
	validateJSON       bool
	validateOutput     string

	backupName        string
	backupComponents  []string
	restoreComponents []string
	restoreYes        bool
	restoreDryRun     bool
	backupsPrune      bool

	rootCmd = &cobra.Command{
		Use:   "platformctl",
		Short: "A cli to manage Cove Cloud development environments",
		Long: `platformctl provisions, validates, backs up, and tears down the
				Cove Cloud development platform: a two-phase terraform deployment
				(shared infrastructure, then the workspace application layer) with
				remote state in S3.`,
	}

	// --- Lifecycle ---
	setupCmd = &cobra.Command{
		Use:   "setup [environment]",
		Short: "Provision an environment: infrastructure phase, then application phase",
		Args:  cobra.ExactArgs(1),
		Run:   runSetup, // Defined in cmd_setup.go
	}
	teardownCmd = &cobra.Command{
		Use:   "teardown [environment]",
		Short: "DANGER: Destroy an environment's infrastructure AND data",
		Args:  cobra.ExactArgs(1),
		Run:   runTeardown, // Defined in cmd_teardown.go
	}

	// --- Validation ---
	validateCmd = &cobra.Command{
		Use:   "validate [environment]",
		Short: "Run health checks against a provisioned environment",
		Args:  cobra.ExactArgs(1),
		Run:   runValidate, // Defined in cmd_validate.go
	}
	statusCmd = &cobra.Command{
		Use:   "status [environment]",
		Short: "Show tool availability and a quick environment summary",
		Args:  cobra.ExactArgs(1),
		Run:   runStatus, // Defined in cmd_validate.go
	}

	// --- Backups ---
	backupCmd = &cobra.Command{
		Use:   "backup [environment]",
		Short: "Capture a backup of an environment's state, manifests, data, and volumes",
		Args:  cobra.ExactArgs(1),
		Run:   runBackup, // Defined in cmd_backup.go
	}
	restoreCmd = &cobra.Command{
		Use:   "restore [environment] [backup]",
		Short: "Restore an environment from a backup (defaults to the latest)",
		Args:  cobra.RangeArgs(1, 2),
		Run:   runRestore, // Defined in cmd_backup.go
	}
	backupsCmd = &cobra.Command{
		Use:   "backups [environment]",
		Short: "List an environment's backups, newest first",
		Args:  cobra.ExactArgs(1),
		Run:   runListBackups, // Defined in cmd_backup.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseLogs, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quietLogs, "quiet", "q", false, "Suppress stderr logging (file logs still written)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit stderr logs as JSON objects")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write operation metrics to this file in Prometheus text format")

	rootCmd.AddCommand(setupCmd)
	setupCmd.Flags().StringVar(&setupTemplate, "template", "", "Named tfvars template to apply (e.g. 'minimal', 'full')")
	setupCmd.Flags().BoolVar(&setupDryRun, "dry-run", false, "Plan both phases without applying anything")
	setupCmd.Flags().BoolVar(&setupAutoApprove, "auto-approve", false, "Proceed past a budget overrun with a warning instead of aborting")
	setupCmd.Flags().BoolVar(&setupNoBackup, "no-backup", false, "Skip the post-setup snapshot")
	setupCmd.Flags().BoolVar(&setupEnableMonitoring, "enable-monitoring", false, "Override the environment's monitoring toggle for this run")
	setupCmd.Flags().BoolVar(&setupEnableHA, "enable-ha", false, "Override the environment's high-availability toggle for this run")
	setupCmd.Flags().Float64Var(&setupBudget, "budget", -1, "Monthly cost ceiling override; 0 disables the gate, negative uses config")
	setupCmd.Flags().Float64Var(&setupAlertThreshold, "alert-threshold", 0, "Warn when the estimate exceeds this fraction of the budget; 0 uses config")

	rootCmd.AddCommand(teardownCmd)
	teardownCmd.Flags().BoolVar(&teardownForce, "force", false, "Skip the active-workload gate and the delay window (confirmation still required)")
	teardownCmd.Flags().BoolVar(&teardownEmergency, "emergency", false, "Also skip the typed confirmation and the drain, for environments whose cluster is already gone")
	teardownCmd.Flags().BoolVar(&teardownNoBackup, "no-backup", false, "Skip the pre-destroy backup that otherwise runs by default")
	teardownCmd.Flags().BoolVar(&teardownPreserveData, "preserve-data", false, "Require a complete pre-destroy backup and retain data-bearing resources")
	teardownCmd.Flags().DurationVar(&teardownDelay, "delay", 0, "Override the cancellation window before destruction starts")

	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringSliceVar(&validateComponents, "components", nil,
		"Components to check (infrastructure, cluster, application, database, monitoring, network, security); empty means all")
	validateCmd.Flags().StringVar(&validateDepth, "depth", "standard", "Check depth: quick, standard, or comprehensive")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Print the report as JSON")
	validateCmd.Flags().StringVar(&validateOutput, "output", "", "Also write the JSON report to this file")
	rootCmd.AddCommand(statusCmd)

	rootCmd.AddCommand(backupCmd)
	backupCmd.Flags().StringVar(&backupName, "name", "", "Backup name (defaults to a timestamped name)")
	backupCmd.Flags().StringSliceVar(&backupComponents, "components", nil,
		"Components to capture (infrastructure-state, cluster-manifests, data-dump, workspace-volumes); empty captures all")

	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().StringSliceVar(&restoreComponents, "components", nil, "Components to restore; empty restores everything captured")
	restoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "Skip the restore confirmation prompt")
	restoreCmd.Flags().BoolVar(&restoreDryRun, "dry-run", false, "Show what would be restored without touching anything")

	rootCmd.AddCommand(backupsCmd)
	backupsCmd.Flags().BoolVar(&backupsPrune, "prune", false, "Also prune backups beyond the retention count")
}
