// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/covecloud/platformctl/cmd/platformctl/internal/backup"
)

// stdinConfirmer asks a yes/no question on the terminal.
type stdinConfirmer struct{}

func (stdinConfirmer) Confirm(prompt string) (bool, error) {
	fmt.Printf("%s (yes/no): ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(strings.ToLower(line)) == "yes", nil
}

var _ backup.Confirmer = (stdinConfirmer{})

// runBackup captures the requested components, or every available one.
// Individual component failures are recorded in the manifest, not fatal;
// an incomplete backup still exits zero so a partially reachable
// environment can be captured.
func runBackup(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	env := args[0]

	platform, err := CreateProductionPlatform(ctx, env, appLog)
	if err != nil {
		fatal(exitFailure, err)
	}
	mgr, err := platform.BackupManager(ctx, backup.AutoConfirmer{})
	if err != nil {
		fatal(exitFailure, err)
	}

	started := time.Now()
	manifest, err := mgr.Backup(ctx, backupName, backupComponents)
	if err != nil {
		fatal(exitFailure, err)
	}
	platform.Metrics.ObserveBackup(time.Since(started))
	writeMetrics(platform.Metrics)

	printManifest(manifest)
	if !manifest.Complete {
		fmt.Println("Backup is INCOMPLETE; failed components are listed above.")
	}
}

// runRestore replays a backup in dependency order and stops at the first
// component failure.
func runRestore(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	env := args[0]
	which := "latest"
	if len(args) > 1 {
		which = args[1]
	}

	platform, err := CreateProductionPlatform(ctx, env, appLog)
	if err != nil {
		fatal(exitFailure, err)
	}

	var confirm backup.Confirmer = stdinConfirmer{}
	if restoreYes {
		confirm = backup.AutoConfirmer{}
	}
	mgr, err := platform.BackupManager(ctx, confirm)
	if err != nil {
		fatal(exitFailure, err)
	}

	if restoreDryRun {
		plan, err := mgr.RestorePlan(which, restoreComponents)
		if err != nil {
			fatal(exitFailure, err)
		}
		fmt.Printf("Restore of %s onto %s would replay, in order:\n", which, env)
		for _, name := range plan {
			fmt.Printf("  %s\n", name)
		}
		return
	}

	if err := mgr.Restore(ctx, which, restoreComponents); err != nil {
		switch {
		case errors.Is(err, backup.ErrRestoreDeclined):
			fmt.Println("Restore cancelled.")
			closeLogger()
			os.Exit(exitFailure)
		case errors.Is(err, backup.ErrBackupNotFound), errors.Is(err, backup.ErrNoBackups):
			fmt.Printf("No matching backup for %s. Run 'platformctl backups %s' to see what exists.\n", env, env)
		}
		fatal(exitFailure, err)
	}

	fmt.Printf("Environment %s restored from %s.\n", env, which)
}

// runListBackups prints an environment's backups, newest first.
func runListBackups(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	env := args[0]

	platform, err := CreateProductionPlatform(ctx, env, appLog)
	if err != nil {
		fatal(exitFailure, err)
	}
	mgr, err := platform.BackupManager(ctx, backup.AutoConfirmer{})
	if err != nil {
		fatal(exitFailure, err)
	}

	manifests, err := mgr.List()
	if err != nil {
		fatal(exitFailure, err)
	}
	if len(manifests) == 0 {
		fmt.Printf("No backups for %s.\n", env)
		return
	}
	for _, m := range manifests {
		status := "complete"
		if !m.Complete {
			status = "INCOMPLETE"
		}
		fmt.Printf("  %s  %s  %s  (%d components, %s)\n",
			m.CreatedAt.Format(time.RFC3339), m.ID, m.Name, len(m.Components), status)
	}

	if backupsPrune {
		removed, err := mgr.Prune()
		if err != nil {
			fatal(exitFailure, err)
		}
		fmt.Printf("Pruned %d backups beyond the retention count.\n", removed)
	}
}

func printManifest(m *backup.Manifest) {
	fmt.Printf("Backup %s (%s) captured at %s:\n", m.Name, m.ID, m.Path())
	for _, c := range m.Components {
		if c.Status == "ok" {
			fmt.Printf("  %-22s ok\n", c.Name)
		} else {
			fmt.Printf("  %-22s FAILED: %s\n", c.Name, c.Error)
		}
	}
}
