// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"

	"github.com/AleutianAI/aggtree/cmd/aggtree/config"
	"github.com/AleutianAI/aggtree/pkg/logging"
)

var (
	configPath string
	logLevel   string
	jsonLogs   bool
	outputMode string

	benchNoSave           bool
	benchFailOnRegression bool
	benchThreshold        float64

	serveAddr string

	historyKind      string
	historyLimit     int
	compareThreshold float64

	// Set by setup before any command runs.
	appConfig *config.Config
	appLogger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "aggtree",
		Short: "Incremental aggregation engine: benchmarks, history and API server",
		Long: `aggtree drives the incremental aggregation engine. It runs the
scenario suite and records timings, serves the scenario and task graph API,
and inspects stored runs.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: teardown,
	}

	benchCmd = &cobra.Command{
		Use:   "bench [scenario...]",
		Short: "Run the configured scenarios and compare them with the previous run",
		RunE:  runBench, // Defined in cmd_bench.go
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Inspect stored scenario runs",
	}
	historyListCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE:  runHistoryList, // Defined in cmd_history.go
	}
	historyShowCmd = &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryShow,
	}
	historyCompareCmd = &cobra.Command{
		Use:   "compare <baseline-id> <current-id>",
		Short: "Compare two stored runs",
		Args:  cobra.ExactArgs(2),
		RunE:  runHistoryCompare,
	}
	historyDeleteCmd = &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryDelete,
	}

	versionCmd = &cobra.Command{
		Use:               "version",
		Short:             "Print the version",
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run:               runVersion, // Defined in cmd_version.go
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.aggtree/aggtree.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&jsonLogs, "json-logs", false, "write logs as JSON")
	pf.StringVarP(&outputMode, "output", "o", "auto", "output mode: auto, styled, machine")

	benchCmd.Flags().BoolVar(&benchNoSave, "no-save", false, "do not record results in history")
	benchCmd.Flags().BoolVar(&benchFailOnRegression, "fail-on-regression", false, "exit non-zero when a run regressed")
	benchCmd.Flags().Float64Var(&benchThreshold, "threshold", 0, "slowdown ratio counted as a regression (default from config)")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")

	historyListCmd.Flags().StringVar(&historyKind, "kind", "", "only list runs of this kind")
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum runs to list, 0 for all")
	historyCompareCmd.Flags().Float64Var(&compareThreshold, "threshold", 0, "slowdown ratio counted as a regression (default from config)")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyCompareCmd, historyDeleteCmd)
	rootCmd.AddCommand(benchCmd, serveCmd, historyCmd, versionCmd)
}
