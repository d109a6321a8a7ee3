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
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/aggtree/services/history"
	"github.com/AleutianAI/aggtree/services/scenario"
)

var errAmbiguousRun = errors.New("ambiguous run id")

func runHistoryList(cmd *cobra.Command, _ []string) error {
	return withHistory(cmd, func(ctx context.Context, store *history.Store) error {
		runs, err := store.List(ctx, scenario.Kind(historyKind), historyLimit)
		if err != nil {
			return err
		}
		p, err := newPrinter(cmd)
		if err != nil {
			return err
		}
		renderRuns(p, runs)
		return nil
	})
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	return withHistory(cmd, func(ctx context.Context, store *history.Store) error {
		run, err := resolveRun(ctx, store, args[0])
		if err != nil {
			return err
		}
		p, err := newPrinter(cmd)
		if err != nil {
			return err
		}
		renderRun(p, run)
		return nil
	})
}

func runHistoryCompare(cmd *cobra.Command, args []string) error {
	return withHistory(cmd, func(ctx context.Context, store *history.Store) error {
		baseline, err := resolveRun(ctx, store, args[0])
		if err != nil {
			return err
		}
		current, err := resolveRun(ctx, store, args[1])
		if err != nil {
			return err
		}
		threshold := compareThreshold
		if threshold == 0 {
			threshold = appConfig.History.RegressionThreshold
		}
		p, err := newPrinter(cmd)
		if err != nil {
			return err
		}
		if baseline.Kind != current.Kind {
			p.Warning(fmt.Sprintf("comparing %s with %s", baseline.Kind, current.Kind))
		}
		renderComparison(p, history.Compare(baseline, current, threshold))
		return nil
	})
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	return withHistory(cmd, func(ctx context.Context, store *history.Store) error {
		run, err := resolveRun(ctx, store, args[0])
		if err != nil {
			return err
		}
		if err := store.Delete(ctx, run.RunID); err != nil {
			return err
		}
		p, err := newPrinter(cmd)
		if err != nil {
			return err
		}
		p.Success("deleted " + run.RunID)
		return nil
	})
}

func withHistory(cmd *cobra.Command, fn func(context.Context, *history.Store) error) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cmd.Context(), store)
}

// resolveRun accepts a full run ID or a unique prefix of at least four
// characters.
func resolveRun(ctx context.Context, store *history.Store, id string) (*scenario.Result, error) {
	run, err := store.Get(ctx, id)
	if err == nil || !errors.Is(err, history.ErrNotFound) || len(id) < 4 {
		return run, err
	}

	runs, lerr := store.List(ctx, "", 0)
	if lerr != nil {
		return nil, lerr
	}
	var match *scenario.Result
	for _, r := range runs {
		if !strings.HasPrefix(r.RunID, id) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("%w: %s", errAmbiguousRun, id)
		}
		match = r
	}
	if match == nil {
		return nil, err
	}
	return match, nil
}
