// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tasks

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aleutian.tasks")
	meter  = otel.Meter("aleutian.tasks")
)

var (
	scheduledTotal  metric.Int64Counter
	transitionTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		scheduledTotal, err = meter.Int64Counter(
			"tasks_scheduled_total",
			metric.WithDescription("Dirty tasks handed to the scheduler"),
			metric.WithUnit("{task}"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		transitionTotal, err = meter.Int64Counter(
			"tasks_status_transitions_total",
			metric.WithDescription("Task status transitions by target status"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordScheduled(ctx context.Context, n int) {
	if err := initMetrics(); err != nil {
		return
	}
	scheduledTotal.Add(ctx, int64(n))
}

func recordTransition(ctx context.Context, to Status) {
	if err := initMetrics(); err != nil {
		return
	}
	transitionTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", to.String())))
}

// startSpan opens a span for a graph operation on one task.
func startSpan(ctx context.Context, name string, id TaskID) (context.Context, trace.Span) {
	return tracer.Start(ctx, "tasks.Graph."+name,
		trace.WithAttributes(attribute.Int64("task.id", int64(id))),
	)
}
