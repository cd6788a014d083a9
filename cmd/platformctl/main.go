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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/covecloud/platformctl/cmd/platformctl/config"
	"github.com/covecloud/platformctl/pkg/logging"
)

// appLog is the process-wide logger, initialized before any command runs.
var appLog *logging.Logger

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		closeLogger()
		os.Exit(1)
	}
	closeLogger()
}

func closeLogger() {
	if appLog != nil {
		_ = appLog.Close()
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := logging.LevelInfo
		if verboseLogs {
			level = logging.LevelDebug
		}
		logDir := ""
		if home, err := config.HomeDir(); err == nil {
			logDir = filepath.Join(home, "logs")
		}
		appLog = logging.New(logging.Config{
			Level:   level,
			LogDir:  logDir,
			Service: "platformctl",
			JSON:    jsonLogs,
			Quiet:   quietLogs,
		})

		if err := config.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			closeLogger()
			os.Exit(1)
		}
	}
}
