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

// Flow tells QueryRootInfo whether to keep walking.
type Flow int

const (
	// Continue visits the remaining uppers.
	Continue Flow = iota
	// Break stops the walk immediately.
	Break
)

// RootQuery inspects aggregated data on the way from a node to its roots.
type RootQuery[D, T any] interface {
	// Query is called with the data of every aggregating node reached.
	Query(data *D) Flow

	// Result returns the answer once the walk ends.
	Result() T
}

// QueryRootInfo walks from start through uppers in breadth-first order and
// feeds each aggregating node's data to q. Every node is visited at most
// once. Only uppers are followed; followers and children are never visited.
//
// Call it with the result type spelled out, the rest is inferred:
//
//	active := aggregation.QueryRootInfo[bool](ctx, &activeQuery{}, node)
func QueryRootInfo[T any, R comparable, D, C any](ctx *Context[R, D, C], q RootQuery[D, T], start R) T {
	visited := map[R]struct{}{start: {}}
	queue := []R{start}
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]

		g := ctx.node(ref)
		n := g.Aggregation()
		if n.agg != nil && q.Query(&n.agg.data) == Break {
			g.Release()
			return q.Result()
		}
		for _, upper := range n.uppers.keys {
			if _, seen := visited[upper]; seen {
				continue
			}
			visited[upper] = struct{}{}
			queue = append(queue, upper)
		}
		g.Release()
	}
	return q.Result()
}
