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

import "fmt"

// slowBatchFactor is how much slower than the baseline a batch may be before
// it counts as slow.
const slowBatchFactor = 2

// slowBatchShare is the inverse share of batches allowed to be slow. Runs
// with fewer than slowBatchShare batches tolerate none.
const slowBatchShare = 4

// Value ranges keep node values distinct across phases.
const (
	fanoutRootBase  = 10000
	fanoutChildBase = 20000
)

// manyChildren attaches one inner node under many active roots and then
// hangs batches of children off it. Once the inner node is promoted a new
// child costs the same whatever the fan-out already is, so later batches
// must not slow down. Every root must end up holding each child once.
func (r *run) manyChildren() ([]*SumNode, error) {
	g := r.graph
	inner := g.NewNode(0)
	var roots []*SumNode
	var last *SumNode
	nodes := 1
	edges := 0

	addRoots := func(base int) {
		for i := 0; i < r.spec.Roots; i++ {
			node := g.NewNode(int64(base + i))
			g.SetActive(node, true)
			g.AddChild(node, inner)
			roots = append(roots, node)
		}
		nodes += r.spec.Roots
		edges += r.spec.Roots
	}
	addChildren := func(step string, base int) error {
		for i := 0; i < r.spec.Children; i++ {
			if i%8192 == 0 {
				if err := r.ctx.Err(); err != nil {
					return err
				}
				r.report(step, i, r.spec.Children)
			}
			last = g.NewNode(int64(base + i))
			g.AddChild(inner, last)
		}
		nodes += r.spec.Children
		edges += r.spec.Children
		return nil
	}

	if err := r.step("roots", func() error { addRoots(fanoutRootBase); return nil }); err != nil {
		return nil, err
	}
	if err := r.step("children", func() error { return addChildren("children", fanoutChildBase) }); err != nil {
		return nil, err
	}
	if err := r.step("more-roots", func() error { addRoots(fanoutRootBase + r.spec.Roots); return nil }); err != nil {
		return nil, err
	}
	if err := r.step("baseline", func() error {
		return addChildren("baseline", fanoutChildBase+r.spec.Children)
	}); err != nil {
		return nil, err
	}
	baseline := r.result.Steps[len(r.result.Steps)-1].Duration

	for j := 0; j < r.spec.Batches; j++ {
		name := fmt.Sprintf("batch-%d", j+1)
		base := fanoutChildBase + (j+2)*r.spec.Children
		if err := r.step(name, func() error { return addChildren(name, base) }); err != nil {
			return nil, err
		}
		if r.result.Steps[len(r.result.Steps)-1].Duration > baseline*slowBatchFactor {
			r.result.SlowBatches++
		}
	}

	exact := true
	if err := r.step("read", func() error {
		for i, root := range roots {
			got, want := g.Aggregate(root), g.Recompute(root)
			if i == 0 {
				r.result.RootValue = got.Value
				r.result.ExpectedValue = want.Value
			}
			if !Exact(got, want) {
				exact = false
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	r.result.Nodes = nodes
	r.result.Edges = edges
	r.result.Consistent = exact &&
		r.result.SlowBatches <= r.spec.Batches/slowBatchShare &&
		(last == nil || g.IsActive(last))
	return roots, nil
}
