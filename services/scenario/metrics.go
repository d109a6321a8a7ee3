// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scenario

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("aleutian.scenario")

var (
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aggtree_scenario_duration_seconds",
		Help:    "Wall time of a scenario run",
		Buckets: []float64{0.001, 0.01, 0.1, 1, 10, 60},
	}, []string{"kind"})

	stepMerges = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aggtree_scenario_step_merges",
		Help:    "Merges into non-zero data per scenario step",
		Buckets: []float64{1, 10, 100, 1000, 10000, 100000},
	}, []string{"kind", "step"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aggtree_scenario_runs_total",
		Help: "Scenario runs by outcome",
	}, []string{"kind", "outcome"})
)
