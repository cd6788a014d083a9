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

	"github.com/spf13/cobra"

	"github.com/covecloud/platformctl/cmd/platformctl/internal/infra/process"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/validate"
)

// runValidate executes the configured checks and prints a report. Exit is
// non-zero only on hard failures; warnings leave the exit code at zero.
func runValidate(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	env := args[0]

	platform, err := CreateProductionPlatform(ctx, env, appLog)
	if err != nil {
		fatal(exitFailure, err)
	}

	engine, _ := platform.ValidationEngine(ctx)
	report, err := engine.Run(ctx, env, validateComponents, validate.Depth(validateDepth))
	if err != nil {
		fatal(exitFailure, err)
	}

	if validateJSON {
		doc, err := report.JSON()
		if err != nil {
			fatal(exitFailure, err)
		}
		fmt.Println(doc)
	} else {
		printReport(report)
	}

	if validateOutput != "" {
		doc, err := report.JSON()
		if err != nil {
			fatal(exitFailure, err)
		}
		if err := os.WriteFile(validateOutput, []byte(doc+"\n"), 0o600); err != nil {
			fatal(exitFailure, fmt.Errorf("write report: %w", err))
		}
	}

	if report.Overall == validate.StatusFail {
		closeLogger()
		os.Exit(exitFailure)
	}
}

func printReport(report *validate.Report) {
	fmt.Printf("Validation of %s (%s depth): %s\n", report.Environment, report.Depth, report.Overall)
	for _, r := range report.Results {
		marker := "ok  "
		switch r.Status {
		case validate.StatusWarn:
			marker = "warn"
		case validate.StatusFail:
			marker = "FAIL"
		}
		fmt.Printf("  [%s] %-12s %-22s %s\n", marker, r.Component, r.Check, r.Message)
	}
	fmt.Printf("%d passed, %d warned, %d failed (%.0f%% success)\n",
		report.Passed, report.Warned, report.Failed, report.SuccessRate*100)
}

// runStatus reports which external tools are available and whether the
// environment's access material is in place. Cheaper than validate: no
// cloud calls beyond resolving the state pointer.
func runStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	env := args[0]

	platform, err := CreateProductionPlatform(ctx, env, appLog)
	if err != nil {
		fatal(exitFailure, err)
	}

	fmt.Printf("Environment: %s\n", env)

	for _, tool := range []struct {
		name string
		args []string
	}{
		{platform.Cfg.Terraform.Binary, []string{"version"}},
		{"kubectl", []string{"version", "--client"}},
		{"infracost", []string{"--version"}},
	} {
		if _, lookErr := platform.Proc.LookPath(tool.name); lookErr != nil {
			fmt.Printf("  tool %-10s missing\n", tool.name)
			continue
		}
		_, stderr, code, runErr := platform.Proc.RunInDir(ctx, ".", nil, tool.name, tool.args...)
		if runErr != nil || code != 0 {
			cmdErr := process.NewCommandError(tool.name+" "+tool.args[0], code, stderr, runErr)
			fmt.Printf("  tool %-10s broken: %v\n", tool.name, cmdErr)
			continue
		}
		fmt.Printf("  tool %-10s ok\n", tool.name)
	}

	if _, statErr := os.Stat(platform.KubeconfigPath); statErr == nil {
		fmt.Printf("  kubeconfig present at %s\n", platform.KubeconfigPath)
	} else {
		fmt.Println("  kubeconfig absent (environment not provisioned?)")
	}
}
