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
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
)

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

type dagEdge struct {
	parent, child int
}

// randomEdges draws up to count distinct edges parent -> child with
// parent < child, which keeps the graph acyclic.
func randomEdges(rng *rand.Rand, nodes, count int) []dagEdge {
	if nodes < 2 {
		return nil
	}
	limit := nodes * (nodes - 1) / 2
	count = min(count, limit)
	seen := make(map[dagEdge]struct{}, count)
	edges := make([]dagEdge, 0, count)
	for len(edges) < count {
		a, b := rng.IntN(nodes), rng.IntN(nodes)
		if a == b {
			continue
		}
		e := dagEdge{parent: min(a, b), child: max(a, b)}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		edges = append(edges, e)
	}
	return edges
}

// randomDAG builds a seeded random DAG below a root that is promoted first,
// then inserts the edges from several goroutines at once. Every node hangs
// off the root directly or through a parent, so the root must cover all of
// them once the inserts settle.
func (r *run) randomDAG() ([]*SumNode, error) {
	g := r.graph
	n := r.spec.Size
	rng := newRand(r.spec.Seed)
	edges := randomEdges(rng, n, r.spec.Edges)

	nodes := make([]*SumNode, n)
	var expected int64
	for i := range nodes {
		nodes[i] = g.NewNode(int64(i + 1))
		expected += int64(i + 1)
	}
	hasParent := make([]bool, n)
	for _, e := range edges {
		hasParent[e.child] = true
	}

	root := g.NewNode(0)
	g.Prepare(root)
	sources := 0
	if err := r.step("sources", func() error {
		for i, node := range nodes {
			if !hasParent[i] {
				g.AddChild(root, node)
				sources++
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	workers := max(r.spec.Workers, 1)
	err := r.step("insert", func() error {
		eg, ctx := errgroup.WithContext(r.ctx)
		for w := 0; w < workers; w++ {
			eg.Go(func() error {
				for i := w; i < len(edges); i += workers {
					if i%1024 == w {
						if err := ctx.Err(); err != nil {
							return err
						}
						if w == 0 {
							r.report("insert", i, len(edges))
						}
					}
					e := edges[i]
					g.AddChild(nodes[e.parent], nodes[e.child])
				}
				return nil
			})
		}
		return eg.Wait()
	})
	if err != nil {
		return nil, err
	}

	var data SumData
	if err := r.step("read", func() error {
		data = g.Aggregate(root)
		return nil
	}); err != nil {
		return nil, err
	}

	r.result.Nodes = n + 1
	r.result.Edges = len(edges) + sources
	r.result.RootValue = data.Value
	r.result.ExpectedValue = expected
	r.result.Consistent = Exact(data, g.Recompute(root))
	if r.spec.TrackMembers {
		// The root itself contributes a member entry.
		r.result.Covered = len(data.Members)
		r.result.Consistent = r.result.Consistent && r.result.Covered == n+1
	}
	return []*SumNode{root}, nil
}
