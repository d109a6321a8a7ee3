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

// PrepareAggregationData promotes ref to a root so its data covers
// everything reachable from it.
func PrepareAggregationData[R comparable, D, C any](ctx *Context[R, D, C], ref R) {
	IncreaseAggregationNumber(ctx, ref, RootNumber)
}

// DataGuard holds a root's lock and exposes its aggregated data.
//
// The data may be read and mutated until Release is called. Mutations that
// should reach other nodes go through ApplyChange instead.
type DataGuard[R comparable, D, C any] struct {
	guard Guard[R, D, C]
	data  *D
}

// Data returns the aggregated data.
func (g *DataGuard[R, D, C]) Data() *D {
	return g.data
}

// Guard returns the underlying node guard. Release the DataGuard, not the
// returned guard.
func (g *DataGuard[R, D, C]) Guard() Guard[R, D, C] {
	return g.guard
}

// Release gives the lock back to the host.
func (g *DataGuard[R, D, C]) Release() {
	g.guard.Release()
}

// AggregationData promotes ref to a root and returns its data with the lock
// held. The caller must call Release.
func AggregationData[R comparable, D, C any](ctx *Context[R, D, C], ref R) *DataGuard[R, D, C] {
	PrepareAggregationData(ctx, ref)
	g := ctx.node(ref)
	n := g.Aggregation()
	if n.agg == nil {
		g.Release()
		panic("aggregation: root is not aggregating after promotion")
	}
	return &DataGuard[R, D, C]{guard: g, data: &n.agg.data}
}
