// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aggregation maintains incremental summaries over a large, growing
// directed graph.
//
// Every host node embeds a Node. A node starts as a leaf and is promoted to an
// aggregating node once its aggregation number reaches LeafNumber. Aggregating
// nodes keep a data value covering their inner nodes, and a counted set of
// followers: descendants with a higher number whose contributions are carried
// by the node's uppers instead. Numbers only grow, and every upper edge points
// to a strictly higher number, so the structure forms a leveled DAG where each
// level summarizes the one below.
//
// # Locking
//
// The host owns one exclusive lock per node, handed to the engine through a
// Guard. The engine never holds two guards at once. Any operation that has to
// touch another node computes a Job under the current guard, releases the
// guard, and then applies the job, which acquires nodes one at a time.
//
// # Usage
//
//	ctx := aggregation.NewContext[*Task, Data, Change](policy)
//
//	parent.mu.Lock()
//	parent.children = append(parent.children, child)
//	job := aggregation.HandleNewEdge(ctx, &parent.agg, parent, child)
//	parent.mu.Unlock()
//	job.Apply(ctx)
//
//	dg := aggregation.AggregationData(ctx, root)
//	total := dg.Data().Value
//	dg.Release()
package aggregation
