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

// chainLeafValue is the value of the leaf hanging off the end of a chain.
const chainLeafValue = 10000

// chainTopValue is the value of the node wrapped around a finished chain.
const chainTopValue = 101

// chain builds 1 -> 2 -> ... -> n -> leaf, reads the root, increments the
// leaf, wraps the chain under a new root and increments again. Each phase is
// a separate step so the merge counts show that updates touch a bounded
// number of aggregates.
func (r *run) chain() ([]*SumNode, error) {
	g := r.graph
	n := r.spec.Size
	root := g.NewNode(1)
	expected := int64(1)
	var leaf *SumNode

	err := r.step("build", func() error {
		current := root
		for i := 2; i <= n; i++ {
			if i%4096 == 0 {
				if err := r.ctx.Err(); err != nil {
					return err
				}
				r.report("build", i, n)
			}
			node := g.NewNode(int64(i))
			g.AddChild(current, node)
			current = node
			expected += int64(i)
		}
		leaf = g.NewNode(chainLeafValue)
		g.AddChild(current, leaf)
		expected += chainLeafValue
		r.result.RootValue = g.Aggregate(root).Value
		return nil
	})
	if err != nil {
		return nil, err
	}
	consistent := r.result.RootValue == expected

	var activeBefore, activeAfter bool
	if err := r.step("query", func() error {
		activeBefore = g.IsActive(leaf)
		g.SetActive(root, true)
		activeAfter = g.IsActive(leaf)
		return nil
	}); err != nil {
		return nil, err
	}
	consistent = consistent && !activeBefore && activeAfter

	if err := r.step("increment", func() error {
		g.Increment(leaf, chainLeafValue)
		expected += chainLeafValue
		r.result.RootValue = g.Aggregate(root).Value
		return nil
	}); err != nil {
		return nil, err
	}
	consistent = consistent && r.result.RootValue == expected

	top := g.NewNode(chainTopValue)
	if err := r.step("wrap", func() error {
		g.AddChild(top, root)
		expected += chainTopValue
		r.result.RootValue = g.Aggregate(top).Value
		return nil
	}); err != nil {
		return nil, err
	}
	consistent = consistent && r.result.RootValue == expected

	if err := r.step("increment-wrapped", func() error {
		g.Increment(leaf, chainLeafValue)
		expected += chainLeafValue
		r.result.RootValue = g.Aggregate(top).Value
		return nil
	}); err != nil {
		return nil, err
	}

	r.result.Nodes = n + 2
	r.result.Edges = n + 1
	r.result.ExpectedValue = expected
	r.result.Consistent = consistent && r.result.RootValue == expected
	r.report("done", r.result.Nodes, r.result.Nodes)
	return []*SumNode{top}, nil
}

// doubleChain builds a chain where every node i has the two parents i-1 and
// i-2. Every node is reachable along many paths, yet the root must count
// each of them once, and an increment of the last node must move the root by
// exactly the increment.
func (r *run) doubleChain() ([]*SumNode, error) {
	g := r.graph
	n := max(r.spec.Size, 2)
	root := g.NewNode(1)
	second := g.NewNode(2)
	expected := int64(3)
	last := second

	err := r.step("build", func() error {
		g.AddChild(root, second)
		current, current2 := root, second
		for i := 3; i <= n; i++ {
			if i%4096 == 0 {
				if err := r.ctx.Err(); err != nil {
					return err
				}
				r.report("build", i, n)
			}
			node := g.NewNode(int64(i))
			g.AddChild(current, node)
			g.AddChild(current2, node)
			current, current2 = current2, node
			expected += int64(i)
			last = node
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var before SumData
	if err := r.step("read", func() error {
		before = g.Aggregate(root)
		return nil
	}); err != nil {
		return nil, err
	}
	consistent := before.Value == expected && Exact(before, g.Recompute(root))
	if r.spec.TrackMembers {
		r.result.Covered = len(before.Members)
	}

	if err := r.step("increment", func() error {
		g.Increment(last, 1)
		r.result.RootValue = g.Aggregate(root).Value
		return nil
	}); err != nil {
		return nil, err
	}
	consistent = consistent && r.result.RootValue == expected+1

	r.result.Nodes = n
	r.result.Edges = 2*n - 3
	r.result.ExpectedValue = expected + 1
	r.result.Consistent = consistent
	r.report("done", n, n)
	return []*SumNode{root}, nil
}
