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
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/covecloud/platformctl/cmd/platformctl/internal/lifecycle"
)

// stdinPrompter reads confirmation answers from the terminal.
type stdinPrompter struct {
	reader *bufio.Reader
}

func newStdinPrompter() *stdinPrompter {
	return &stdinPrompter{reader: bufio.NewReader(os.Stdin)}
}

func (p *stdinPrompter) ReadLine(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := p.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

var _ lifecycle.Prompter = (*stdinPrompter)(nil)

// runTeardown destroys an environment: application phase first, then
// infrastructure, with state archived before each destroy. Ctrl-C during
// the delay window cancels the run with nothing destroyed.
func runTeardown(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	env := args[0]

	platform, err := CreateProductionPlatform(ctx, env, appLog)
	if err != nil {
		fatal(exitFailure, err)
	}

	opts := lifecycle.TeardownOptions{
		Force:        teardownForce,
		Emergency:    teardownEmergency,
		NoBackup:     teardownNoBackup,
		PreserveData: teardownPreserveData,
		Delay:        teardownDelay,
	}

	teardown := platform.Teardown(newStdinPrompter(), teardownDelay)
	result, err := teardown.Run(ctx, opts)
	writeMetrics(platform.Metrics)
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrNotConfirmed):
			fmt.Println("Teardown cancelled: confirmation did not match.")
			closeLogger()
			os.Exit(exitFailure)
		case errors.Is(err, lifecycle.ErrActiveWorkloads):
			fmt.Println("Teardown blocked: active workloads found. Stop them first or use --force.")
			fatal(exitFailure, err)
		case errors.Is(err, lifecycle.ErrTeardownIncomplete):
			fmt.Printf("Teardown of %s is INCOMPLETE", env)
			if result != nil && result.FailedPhase != "" {
				fmt.Printf(" (failed during the %s phase)", result.FailedPhase)
			}
			fmt.Println(". Cloud resources may remain; inspect the archived state and re-run teardown.")
			fatal(exitIncomplete, err)
		}
		fatal(exitFailure, err)
	}

	fmt.Printf("Environment %s destroyed (run %s).\n", result.Environment, result.RunID)
}
