// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry tracing and metrics for aggtree.
//
// Setup installs the global TracerProvider and MeterProvider, so otel.Tracer
// and otel.Meter in the aggregation, task and scenario packages report
// through the configured exporters.
//
// # Exporters
//
// Traces: "otlp" (gRPC), "stdout" (stderr), or "none".
// Metrics: "prometheus" (served by Providers.MetricsHandler), "stdout", or "none".
//
// # Environment Variables
//
//   - AGGTREE_ENV: environment name (default: development)
//   - OTEL_TRACES_EXPORTER: trace exporter (default: none)
//   - OTEL_METRICS_EXPORTER: metric exporter (default: prometheus)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//
// # Usage
//
//	providers, err := telemetry.Setup(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer providers.Shutdown(context.Background())
package telemetry
