// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"slices"
	"time"

	"github.com/AleutianAI/aggtree/services/scenario"
)

func sortNewestFirst(runs []*scenario.Result) {
	slices.SortStableFunc(runs, func(a, b *scenario.Result) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
}

// Comparison relates a run to a baseline run of the same kind.
type Comparison struct {
	Baseline *scenario.Result `json:"baseline"`
	Current  *scenario.Result `json:"current"`

	// DurationRatio is current/baseline duration. Zero when the baseline
	// duration is zero.
	DurationRatio float64 `json:"duration_ratio"`

	// MergesDelta is current minus baseline merges.
	MergesDelta int64 `json:"merges_delta"`

	// Regressed is set when the run is more than threshold times slower or
	// lost consistency.
	Regressed bool `json:"regressed"`
}

// Compare relates current to baseline. threshold <= 1 uses 1.5.
func Compare(baseline, current *scenario.Result, threshold float64) Comparison {
	if threshold <= 1 {
		threshold = 1.5
	}
	c := Comparison{
		Baseline:    baseline,
		Current:     current,
		MergesDelta: int64(current.Merges) - int64(baseline.Merges),
	}
	if baseline.Duration > 0 {
		c.DurationRatio = float64(current.Duration) / float64(baseline.Duration)
	}
	slow := baseline.Duration > time.Millisecond && c.DurationRatio > threshold
	c.Regressed = slow || (baseline.Consistent && !current.Consistent)
	return c
}
