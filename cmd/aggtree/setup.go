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
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/aggtree/cmd/aggtree/config"
	"github.com/AleutianAI/aggtree/pkg/logging"
	"github.com/AleutianAI/aggtree/pkg/ux"
	"github.com/AleutianAI/aggtree/services/history"
)

var errUnknownOutput = errors.New("unknown output mode")

// setup loads the configuration and installs the process logger. Flags
// override the file.
func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		if _, err := logging.ParseLevel(logLevel); err != nil {
			return err
		}
		cfg.Logging.Level = strings.ToLower(logLevel)
	}
	if jsonLogs {
		cfg.Logging.JSON = true
	}

	appConfig = cfg
	appLogger = logging.New(cfg.LoggingOptions(cmd.Name()))
	appLogger.SetDefault()
	appLogger.Debug("configuration loaded", "path", configPath, "command", cmd.CommandPath())
	return nil
}

func teardown(*cobra.Command, []string) {
	if appLogger != nil {
		_ = appLogger.Close()
	}
}

// resolvedConfigPath is the file setup read.
func resolvedConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultPath()
}

// newPrinter builds the printer for the command's stdout. Auto mode styles
// output only when stdout is a terminal.
func newPrinter(cmd *cobra.Command) (*ux.Printer, error) {
	out := cmd.OutOrStdout()
	switch outputMode {
	case "styled":
		return ux.NewPrinter(out, ux.ModeStyled), nil
	case "machine":
		return ux.NewPrinter(out, ux.ModeMachine), nil
	case "", "auto":
		mode := ux.ModeMachine
		if f, ok := out.(*os.File); ok {
			mode = ux.DetectMode(f)
		}
		return ux.NewPrinter(out, mode), nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownOutput, outputMode)
	}
}

// openHistory opens the configured run history.
func openHistory() (*history.Store, error) {
	cfg := appConfig.HistoryOptions()
	cfg.Logger = appLogger.Slog()
	store, err := history.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open history at %s: %w", cfg.Path, err)
	}
	return store, nil
}
