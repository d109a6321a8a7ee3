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
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/aggtree/pkg/ux"
	"github.com/AleutianAI/aggtree/services/history"
	"github.com/AleutianAI/aggtree/services/scenario"
	"github.com/AleutianAI/aggtree/services/telemetry"
)

var (
	errBenchFailed     = errors.New("scenarios failed")
	errBenchRegressed  = errors.New("scenarios regressed")
	errUnknownScenario = errors.New("unknown scenario")
)

// benchRow is one line of the bench report.
type benchRow struct {
	Result     *scenario.Result
	Comparison *history.Comparison
	Saved      bool
}

func runBench(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	specs, err := selectScenarios(appConfig.Bench.Scenarios, args)
	if err != nil {
		return err
	}

	providers, err := telemetry.Setup(ctx, appConfig.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			appLogger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	var store *history.Store
	if appConfig.History.Enabled && !benchNoSave {
		store, err = openHistory()
		if err != nil {
			return err
		}
		defer store.Close()
	}

	threshold := benchThreshold
	if threshold == 0 {
		threshold = appConfig.History.RegressionThreshold
	}

	runner := scenario.NewRunner(appLogger.Slog())
	p.Title(fmt.Sprintf("aggtree bench: %d scenarios", len(specs)))

	var rows []benchRow
	failed, regressed := 0, 0
	for _, spec := range specs {
		runCtx, cancel := context.WithTimeout(ctx, appConfig.Bench.Timeout)
		result, err := runner.Run(runCtx, spec, progressPrinter(cmd, p, spec.Name))
		cancel()
		if err != nil {
			failed++
			p.Error(fmt.Sprintf("%s: %v", spec.Name, err))
			continue
		}
		if !result.Consistent {
			failed++
		}

		row := benchRow{Result: result}
		if store != nil {
			row.Comparison, row.Saved = record(ctx, store, p, result, threshold)
			if row.Comparison != nil && row.Comparison.Regressed {
				regressed++
			}
		}
		rows = append(rows, row)
	}

	renderBench(p, rows)

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errBenchFailed, failed, len(specs))
	}
	if regressed > 0 {
		p.Warning(fmt.Sprintf("%d scenarios regressed", regressed))
		if benchFailOnRegression {
			return fmt.Errorf("%w: %d of %d", errBenchRegressed, regressed, len(specs))
		}
	}
	return nil
}

// record compares result with the previous run of the same scenario and
// saves it.
func record(ctx context.Context, store *history.Store, p *ux.Printer, result *scenario.Result, threshold float64) (*history.Comparison, bool) {
	var cmp *history.Comparison
	prev, err := previousRun(ctx, store, result)
	switch {
	case err == nil:
		c := history.Compare(prev, result, threshold)
		cmp = &c
	case !errors.Is(err, history.ErrNotFound):
		appLogger.Warn("reading previous run failed", "name", result.Name, "error", err)
	}

	if err := store.Save(ctx, result); err != nil {
		p.Warning(fmt.Sprintf("%s: not saved: %v", result.Name, err))
		return cmp, false
	}
	return cmp, true
}

// previousRun finds the newest stored run with result's name and kind.
func previousRun(ctx context.Context, store *history.Store, result *scenario.Result) (*scenario.Result, error) {
	runs, err := store.List(ctx, result.Kind, 50)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if r.Name == result.Name && r.RunID != result.RunID {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: no previous %s run", history.ErrNotFound, result.Name)
}

// selectScenarios keeps the named scenarios, in configuration order. No
// names selects all.
func selectScenarios(all []scenario.Spec, names []string) ([]scenario.Spec, error) {
	if len(names) == 0 {
		return all, nil
	}
	for _, name := range names {
		if !slices.ContainsFunc(all, func(s scenario.Spec) bool { return s.Name == name }) {
			return nil, fmt.Errorf("%w: %q", errUnknownScenario, name)
		}
	}
	var out []scenario.Spec
	for _, s := range all {
		if slices.Contains(names, s.Name) {
			out = append(out, s)
		}
	}
	return out, nil
}

// progressPrinter redraws a progress bar on stderr in styled mode and logs
// at debug level otherwise.
func progressPrinter(cmd *cobra.Command, p *ux.Printer, name string) scenario.ProgressFunc {
	if p.Mode() != ux.ModeStyled {
		return func(pr scenario.Progress) {
			appLogger.Debug("scenario progress", "name", name, "step", pr.Step, "done", pr.Done, "total", pr.Total)
		}
	}
	errOut := cmd.ErrOrStderr()
	return func(pr scenario.Progress) {
		fmt.Fprintf(errOut, "\r%-14s %-12s %s", name, pr.Step, p.ProgressBar(pr.Done, pr.Total, 30))
		if pr.Done >= pr.Total {
			fmt.Fprintln(errOut)
		}
	}
}
