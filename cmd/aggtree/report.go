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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/aggtree/pkg/ux"
	"github.com/AleutianAI/aggtree/services/history"
	"github.com/AleutianAI/aggtree/services/scenario"
)

var benchHeaders = []string{"scenario", "kind", "nodes", "edges", "duration", "merges", "root", "ok", "vs prev"}

func renderBench(p *ux.Printer, rows []benchRow) {
	if len(rows) == 0 {
		p.Warning("no scenarios completed")
		return
	}
	table := make([][]string, 0, len(rows))
	for _, row := range rows {
		r := row.Result
		table = append(table, []string{
			r.Name,
			string(r.Kind),
			strconv.Itoa(r.Nodes),
			strconv.Itoa(r.Edges),
			formatDuration(r.Duration),
			strconv.FormatUint(r.Merges, 10),
			strconv.FormatInt(r.RootValue, 10),
			consistency(p, r),
			versus(p, row.Comparison),
		})
	}
	p.Table(benchHeaders, table)

	for _, row := range rows {
		if row.Result.InvariantError != "" {
			p.Error(fmt.Sprintf("%s: %s", row.Result.Name, row.Result.InvariantError))
		}
	}
}

var runHeaders = []string{"run", "name", "kind", "started", "nodes", "duration", "merges", "ok"}

func renderRuns(p *ux.Printer, runs []*scenario.Result) {
	if len(runs) == 0 {
		p.Info("no runs stored")
		return
	}
	table := make([][]string, 0, len(runs))
	for _, r := range runs {
		table = append(table, []string{
			shortID(p, r.RunID),
			r.Name,
			string(r.Kind),
			r.StartedAt.Local().Format(time.DateTime),
			strconv.Itoa(r.Nodes),
			formatDuration(r.Duration),
			strconv.FormatUint(r.Merges, 10),
			consistency(p, r),
		})
	}
	p.Table(runHeaders, table)
}

func renderRun(p *ux.Printer, r *scenario.Result) {
	var b strings.Builder
	fmt.Fprintf(&b, "kind       %s\n", r.Kind)
	fmt.Fprintf(&b, "started    %s\n", r.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(&b, "graph      %d nodes, %d edges\n", r.Nodes, r.Edges)
	fmt.Fprintf(&b, "duration   %s\n", formatDuration(r.Duration))
	fmt.Fprintf(&b, "merges     %d\n", r.Merges)
	fmt.Fprintf(&b, "root       %d (expected %d)\n", r.RootValue, r.ExpectedValue)
	if r.Covered > 0 {
		fmt.Fprintf(&b, "covered    %d\n", r.Covered)
	}
	if r.SlowBatches > 0 {
		fmt.Fprintf(&b, "slow       %d batches\n", r.SlowBatches)
	}
	fmt.Fprintf(&b, "structure  %d aggregating, %d leaves, max number %d, max uppers %d\n",
		r.Stats.Aggregating, r.Stats.Leaves, r.Stats.MaxNumber, r.Stats.MaxUppers)
	fmt.Fprintf(&b, "consistent %t", r.Consistent)
	if r.InvariantError != "" {
		fmt.Fprintf(&b, "\ninvariant  %s", r.InvariantError)
	}
	p.Box(fmt.Sprintf("%s  %s", r.Name, r.RunID), b.String())

	if len(r.Steps) == 0 {
		return
	}
	steps := make([][]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		steps = append(steps, []string{s.Name, formatDuration(s.Duration), strconv.FormatUint(s.Merges, 10)})
	}
	p.Table([]string{"step", "duration", "merges"}, steps)
}

func renderComparison(p *ux.Printer, c history.Comparison) {
	p.Table(
		[]string{"", "run", "duration", "merges", "ok"},
		[][]string{
			{"baseline", shortID(p, c.Baseline.RunID), formatDuration(c.Baseline.Duration), strconv.FormatUint(c.Baseline.Merges, 10), consistency(p, c.Baseline)},
			{"current", shortID(p, c.Current.RunID), formatDuration(c.Current.Duration), strconv.FormatUint(c.Current.Merges, 10), consistency(p, c.Current)},
		},
	)
	summary := fmt.Sprintf("duration x%.2f, merges %+d", c.DurationRatio, c.MergesDelta)
	if c.Regressed {
		p.Warning("regressed: " + summary)
		return
	}
	p.Success(summary)
}

func consistency(p *ux.Printer, r *scenario.Result) string {
	if p.Mode() == ux.ModeMachine {
		return strconv.FormatBool(r.Consistent)
	}
	if r.Consistent {
		return ux.IconSuccess.Render()
	}
	return ux.IconError.Render()
}

func versus(p *ux.Printer, c *history.Comparison) string {
	if c == nil {
		return "-"
	}
	text := fmt.Sprintf("x%.2f", c.DurationRatio)
	if p.Mode() == ux.ModeMachine {
		if c.Regressed {
			return text + " regressed"
		}
		return text
	}
	if c.Regressed {
		return ux.Styles.Warning.Render(text)
	}
	return ux.Styles.Muted.Render(text)
}

// shortID abbreviates run IDs for terminals; machine output keeps them whole.
func shortID(p *ux.Printer, id string) string {
	if p.Mode() == ux.ModeMachine || len(id) <= 8 {
		return id
	}
	return id[:8]
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	default:
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
}
