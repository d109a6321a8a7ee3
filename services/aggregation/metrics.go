// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aggregation

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for aggregation operations.
var meter = otel.Meter("aleutian.aggregation")

// Structural event counters. Merges are not counted here; they are a
// property of the policy.
var (
	promotionsTotal  metric.Int64Counter
	levelingTotal    metric.Int64Counter
	conversionsTotal metric.Int64Counter
	lostRetriesTotal metric.Int64Counter
	duplicatesTotal  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		promotionsTotal, err = meter.Int64Counter(
			"aggregation_promotions_total",
			metric.WithDescription("Leaves promoted to aggregating nodes"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		levelingTotal, err = meter.Int64Counter(
			"aggregation_leveling_total",
			metric.WithDescription("Nodes raised because of upper fan-in"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		conversionsTotal, err = meter.Int64Counter(
			"aggregation_follower_conversions_total",
			metric.WithDescription("Followers converted to inner nodes after a number increase"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		lostRetriesTotal, err = meter.Int64Counter(
			"aggregation_lost_edge_retries_total",
			metric.WithDescription("Retries while retracting an edge observed mid-update"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		duplicatesTotal, err = meter.Int64Counter(
			"aggregation_duplicate_contributions_total",
			metric.WithDescription("Contributions cancelled because another path already carried them"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordPromotion(root bool) {
	if err := initMetrics(); err != nil {
		return
	}
	promotionsTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.Bool("root", root)))
}

func recordLeveling(leaf bool) {
	if err := initMetrics(); err != nil {
		return
	}
	levelingTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.Bool("leaf", leaf)))
}

func recordConversion() {
	if err := initMetrics(); err != nil {
		return
	}
	conversionsTotal.Add(context.Background(), 1)
}

func recordLostRetry() {
	if err := initMetrics(); err != nil {
		return
	}
	lostRetriesTotal.Add(context.Background(), 1)
}

func recordDuplicate() {
	if err := initMetrics(); err != nil {
		return
	}
	duplicatesTotal.Add(context.Background(), 1)
}
