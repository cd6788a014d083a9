// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/covecloud/platformctl/cmd/platformctl/internal/diagnostics"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/infra/process"
)

// Exit codes. Commands exit 0 on success and exitFailure on any error;
// teardown exits exitIncomplete when destruction stopped partway, so
// automation can tell "nothing happened" from "resources may remain".
const (
	exitFailure    = 1
	exitIncomplete = 3
)

// fatal reports err and terminates with the given code. When the error
// chain carries captured stderr from an external tool, it is printed so
// the operator sees the tool's own diagnosis, not just an exit code.
func fatal(code int, err error) {
	appLog.Error("command failed", "error", err)
	if stderr := process.ExtractStderr(err); stderr != "" {
		fmt.Fprintln(os.Stderr, stderr)
	}
	closeLogger()
	os.Exit(code)
}

// writeMetrics dumps the operation metrics when --metrics-file was given.
func writeMetrics(m *diagnostics.Metrics) {
	if metricsFile == "" || m == nil {
		return
	}
	f, err := os.Create(metricsFile)
	if err != nil {
		appLog.Warn("could not write metrics file", "path", metricsFile, "error", err)
		return
	}
	defer f.Close()
	if err := m.Dump(f); err != nil {
		appLog.Warn("metrics dump failed", "error", err)
	}
}
