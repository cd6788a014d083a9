// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/covecloud/platformctl/cmd/platformctl/internal/hooks"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/lifecycle"
)

// runSetup provisions an environment in two phases. The infrastructure
// phase (VPC, cluster, database) applies first; its outputs materialize a
// kubeconfig artifact and chain into the application phase as variables.
func runSetup(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	env := args[0]

	platform, err := CreateProductionPlatform(ctx, env, appLog)
	if err != nil {
		fatal(exitFailure, err)
	}

	opts := lifecycle.SetupOptions{
		Template:       setupTemplate,
		DryRun:         setupDryRun,
		AutoApprove:    setupAutoApprove,
		NoBackup:       setupNoBackup,
		Budget:         setupBudget,
		AlertThreshold: setupAlertThreshold,
	}
	// Toggles only override config when given explicitly.
	if cmd.Flags().Changed("enable-monitoring") {
		opts.EnableMonitoring = &setupEnableMonitoring
	}
	if cmd.Flags().Changed("enable-ha") {
		opts.EnableHA = &setupEnableHA
	}

	result, err := platform.Setup(setupTemplate).Run(ctx, opts)
	writeMetrics(platform.Metrics)
	if err != nil {
		switch {
		case errors.Is(err, hooks.ErrVetoed):
			appLog.Error("setup vetoed by a pre-setup hook", "environment", env)
		case errors.Is(err, lifecycle.ErrBudgetExceeded):
			appLog.Error("setup blocked by the budget gate, re-run with --budget to override", "environment", env)
		}
		var phaseErr *lifecycle.PhaseError
		if errors.As(err, &phaseErr) && result != nil {
			fmt.Printf("Setup failed during the %s phase. Completed phases are preserved;\n", phaseErr.Phase)
			fmt.Println("fix the cause and re-run setup to converge.")
		}
		fatal(exitFailure, err)
	}

	printSetupResult(result)
}

func printSetupResult(result *lifecycle.SetupResult) {
	if result.DryRun {
		fmt.Printf("Dry run for %s complete. No changes were applied.\n", result.Environment)
	} else {
		fmt.Printf("Environment %s is ready.\n", result.Environment)
	}
	for _, phase := range result.Phases {
		action := "applied"
		if !phase.Applied {
			action = "planned"
		}
		fmt.Printf("  %s phase %s: +%d ~%d -%d (%s)\n",
			phase.Phase, action,
			phase.Summary.Add, phase.Summary.Change, phase.Summary.Destroy,
			phase.Duration.Round(time.Second))
	}
	if result.EstimatedCost > 0 {
		fmt.Printf("  estimated monthly cost: %.2f\n", result.EstimatedCost)
	}
	if result.KubeconfigPath != "" {
		fmt.Printf("  kubeconfig: %s\n", result.KubeconfigPath)
	}
	for name, value := range result.Outputs {
		fmt.Printf("  output %s = %s\n", name, value)
	}
	if result.ValidationFailed {
		fmt.Printf("WARNING: post-setup validation reported failures. Run 'platformctl validate %s' for the report.\n",
			result.Environment)
	}
}
