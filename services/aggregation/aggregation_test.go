// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aggregation_test

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/aggtree/services/aggregation"
	"github.com/AleutianAI/aggtree/services/scenario"
)

// state reads a node's aggregation state under its lock.
func state(g *scenario.SumGraph, n *scenario.SumNode) (number uint32, leaf bool, uppers int) {
	guard := g.Node(n)
	defer guard.Release()
	a := guard.Aggregation()
	return a.Number(), a.IsLeaf(), len(a.Uppers())
}

// requireExact checks that every root's aggregate holds each node reachable
// through host children exactly once.
func requireExact(t *testing.T, g *scenario.SumGraph, roots ...*scenario.SumNode) {
	t.Helper()
	for _, root := range roots {
		got, want := g.Aggregate(root), g.Recompute(root)
		require.Equal(t, want.Value, got.Value, "value of root %d", root.ID())
		require.Equal(t, want.Members, got.Members, "members of root %d", root.ID())
	}
}

func buildChain(g *scenario.SumGraph, length int, leafValue int64) (root, leaf *scenario.SumNode) {
	root = g.NewNode(1)
	current := root
	for i := 2; i <= length; i++ {
		node := g.NewNode(int64(i))
		g.AddChild(current, node)
		current = node
	}
	leaf = g.NewNode(leafValue)
	g.AddChild(current, leaf)
	return root, leaf
}

func TestHandleNewEdge_LeafChainClimbs(t *testing.T) {
	g := scenario.NewSumGraph()
	nodes := make([]*scenario.SumNode, 5)
	for i := range nodes {
		nodes[i] = g.NewNode(int64(i + 1))
		if i > 0 {
			g.AddChild(nodes[i-1], nodes[i])
		}
	}

	for i := 0; i < 4; i++ {
		number, leaf, uppers := state(g, nodes[i])
		assert.Equal(t, uint32(i), number, "node %d", i)
		assert.True(t, leaf, "node %d", i)
		assert.Zero(t, uppers)
	}
	number, leaf, _ := state(g, nodes[4])
	assert.Equal(t, aggregation.LeafNumber, number)
	assert.False(t, leaf, "reaching LeafNumber promotes")
	assert.NoError(t, g.CheckInvariants(nodes[0]))
}

func TestAggregationData_ShortChain(t *testing.T) {
	g := scenario.NewSumGraph()
	nodes := make([]*scenario.SumNode, 5)
	for i := range nodes {
		nodes[i] = g.NewNode(int64(i + 1))
		if i > 0 {
			g.AddChild(nodes[i-1], nodes[i])
		}
	}
	require.Zero(t, g.Merges())

	data := g.Aggregate(nodes[0])
	assert.Equal(t, int64(15), data.Value)
	assert.Equal(t, uint64(4), g.Merges())

	number, leaf, _ := state(g, nodes[0])
	assert.Equal(t, aggregation.RootNumber, number)
	assert.False(t, leaf)
	for _, n := range nodes[1:] {
		_, _, uppers := state(g, n)
		assert.Equal(t, 1, uppers, "every node is inner to the root")
	}
	assert.NoError(t, g.CheckInvariants(nodes[0]))

	g.ResetMerges()
	g.Aggregate(nodes[0])
	assert.Zero(t, g.Merges(), "reading a root again merges nothing")
}

func TestAggregation_Chain(t *testing.T) {
	g := scenario.NewSumGraph()
	root, leaf := buildChain(g, 100, 10000)

	t.Run("build and read", func(t *testing.T) {
		assert.Equal(t, int64(15050), g.Aggregate(root).Value)
		require.NoError(t, g.CheckInvariants(root))
		assert.Equal(t, uint64(192), g.ResetMerges())
	})

	t.Run("increment touches a bounded number of aggregates", func(t *testing.T) {
		g.Increment(leaf, 10000)
		assert.Equal(t, uint64(3), g.ResetMerges())
		assert.Equal(t, int64(25050), g.Aggregate(root).Value)
		require.NoError(t, g.CheckInvariants(root))
	})

	t.Run("query sees active root", func(t *testing.T) {
		assert.False(t, g.IsActive(leaf))
		g.SetActive(root, true)
		assert.True(t, g.IsActive(leaf))
		g.ResetMerges()
	})

	top := g.NewNode(101)
	t.Run("wrapping reuses the aggregated subtree", func(t *testing.T) {
		g.AddChild(top, root)
		assert.Equal(t, int64(25151), g.Aggregate(top).Value)
		assert.Equal(t, uint64(1), g.ResetMerges())
		require.NoError(t, g.CheckInvariants(top))
	})

	t.Run("increment below wrapped root", func(t *testing.T) {
		g.Increment(leaf, 10000)
		assert.Equal(t, uint64(4), g.ResetMerges())
		assert.Equal(t, int64(35151), g.Aggregate(top).Value)
		assert.Equal(t, int64(35050), g.Aggregate(root).Value)
	})
}

func TestAggregation_DiamondCountsSharedDescendantOnce(t *testing.T) {
	g := scenario.NewSumGraph(scenario.WithMembers())
	a, b, c, d := g.NewNode(1), g.NewNode(2), g.NewNode(3), g.NewNode(4)
	g.AddChild(a, b)
	g.AddChild(a, c)
	g.AddChild(b, d)
	g.AddChild(c, d)

	data := g.Aggregate(a)
	assert.Equal(t, int64(10), data.Value)
	assert.Equal(t, map[uint64]int{a.ID(): 1, b.ID(): 1, c.ID(): 1, d.ID(): 1}, data.Members)

	guard := g.Node(d)
	assert.Equal(t, 2, guard.Aggregation().UpperCount(a), "two routes, one upper")
	guard.Release()

	g.Increment(d, 1)
	assert.Equal(t, int64(11), g.Aggregate(a).Value)
	assert.NoError(t, g.CheckInvariants(a))
}

func TestHandleLostEdge_RetractsSubtree(t *testing.T) {
	g := scenario.NewSumGraph()
	nodes := make([]*scenario.SumNode, 5)
	for i := range nodes {
		nodes[i] = g.NewNode(int64(i + 1))
		if i > 0 {
			g.AddChild(nodes[i-1], nodes[i])
		}
	}
	root := nodes[0]
	require.Equal(t, int64(15), g.Aggregate(root).Value)

	require.True(t, g.RemoveChild(nodes[1], nodes[2]))
	assert.Equal(t, int64(3), g.Aggregate(root).Value)
	for _, n := range nodes[2:] {
		_, _, uppers := state(g, n)
		assert.Zero(t, uppers, "detached nodes drop the root")
	}
	assert.NoError(t, g.CheckInvariants(root))

	assert.False(t, g.RemoveChild(nodes[1], nodes[2]), "edge is gone")

	g.AddChild(nodes[1], nodes[2])
	assert.Equal(t, int64(15), g.Aggregate(root).Value)
	assert.NoError(t, g.CheckInvariants(root))
}

func TestHandleLostEdge_DiamondKeepsRemainingRoute(t *testing.T) {
	g := scenario.NewSumGraph()
	a, b, c, d := g.NewNode(1), g.NewNode(2), g.NewNode(3), g.NewNode(4)
	g.AddChild(a, b)
	g.AddChild(a, c)
	g.AddChild(b, d)
	g.AddChild(c, d)
	require.Equal(t, int64(10), g.Aggregate(a).Value)

	require.True(t, g.RemoveChild(b, d))
	assert.Equal(t, int64(10), g.Aggregate(a).Value, "d is still reachable through c")

	require.True(t, g.RemoveChild(c, d))
	assert.Equal(t, int64(6), g.Aggregate(a).Value)
	assert.NoError(t, g.CheckInvariants(a, d))
}

func TestHandleLostEdge_WrappedChain(t *testing.T) {
	g := scenario.NewSumGraph()
	root, leaf := buildChain(g, 100, 10000)
	top := g.NewNode(101)
	g.AddChild(top, root)
	require.Equal(t, int64(15151), g.Aggregate(top).Value)

	require.True(t, g.RemoveChild(top, root))
	assert.Equal(t, int64(101), g.Aggregate(top).Value)
	assert.Equal(t, int64(15050), g.Aggregate(root).Value)

	g.Increment(leaf, 1)
	assert.Equal(t, int64(101), g.Aggregate(top).Value)
	assert.Equal(t, int64(15051), g.Aggregate(root).Value)
	assert.NoError(t, g.CheckInvariants(top, root))
}

func TestAddUpper_LevelsLeafWithManyUppers(t *testing.T) {
	g := scenario.NewSumGraph()
	x := g.NewNode(1)
	roots := make([]*scenario.SumNode, aggregation.MaxUppers+1)
	for i := range roots {
		roots[i] = g.NewNode(100)
		g.Prepare(roots[i])
	}

	for i := 0; i < aggregation.MaxUppers; i++ {
		g.AddChild(roots[i], x)
	}
	number, leaf, uppers := state(g, x)
	assert.True(t, leaf)
	assert.Zero(t, number)
	assert.Equal(t, aggregation.MaxUppers, uppers)

	g.AddChild(roots[aggregation.MaxUppers], x)
	number, leaf, uppers = state(g, x)
	assert.False(t, leaf, "fan-in past MaxUppers promotes the leaf")
	assert.Equal(t, aggregation.LeafNumber, number)
	assert.Equal(t, aggregation.MaxUppers+1, uppers)

	child := g.NewNode(7)
	g.AddChild(x, child)
	for _, r := range roots {
		assert.Equal(t, int64(108), g.Aggregate(r).Value)
	}
	assert.NoError(t, g.CheckInvariants(roots...))
}

func TestIncreaseAggregationNumber_ConvertsFollowers(t *testing.T) {
	g := scenario.NewSumGraph()
	root, _ := buildChain(g, 40, 5)
	ctx := g.Context()

	aggregation.IncreaseAggregationNumber(ctx, root, 6)
	number, leaf, _ := state(g, root)
	assert.Equal(t, uint32(6), number)
	assert.False(t, leaf)
	require.NoError(t, g.CheckInvariants(root))

	aggregation.IncreaseAggregationNumber(ctx, root, 3)
	number, _, _ = state(g, root)
	assert.Equal(t, uint32(6), number, "numbers never decrease")

	assert.Equal(t, int64(40*41/2+5), g.Aggregate(root).Value)
	require.NoError(t, g.CheckInvariants(root))
}

func TestRectangle_Invariants(t *testing.T) {
	const size = 20
	g := scenario.NewSumGraph(scenario.WithoutPropagation())
	grid := make([][]*scenario.SumNode, size)
	for y := range grid {
		grid[y] = make([]*scenario.SumNode, size)
		for x := range grid[y] {
			node := g.NewNode(int64(x + y*100))
			if x == 0 || y == 0 {
				g.Prepare(node)
			}
			if x > 0 {
				g.AddChild(grid[y][x-1], node)
			}
			if y > 0 {
				g.AddChild(grid[y-1][x], node)
			}
			grid[y][x] = node
		}
	}

	require.NoError(t, g.CheckInvariants(grid[0][0]))
	stats := g.Stats(grid[0][0])
	assert.Equal(t, size*size, stats.Nodes)
	assert.Equal(t, 2*size-1, stats.Roots)
	assert.Equal(t, stats.Nodes, stats.Leaves+stats.Aggregating)
}

func TestRectangle_RootsHoldEveryCellOnce(t *testing.T) {
	const size = 12
	g := scenario.NewSumGraph(scenario.WithMembers())
	grid := make([][]*scenario.SumNode, size)
	var roots []*scenario.SumNode
	for y := range grid {
		grid[y] = make([]*scenario.SumNode, size)
		for x := range grid[y] {
			node := g.NewNode(int64(x + y*100))
			if x == 0 || y == 0 {
				g.Prepare(node)
				roots = append(roots, node)
			}
			if x > 0 {
				g.AddChild(grid[y][x-1], node)
			}
			if y > 0 {
				g.AddChild(grid[y-1][x], node)
			}
			grid[y][x] = node
		}
	}

	require.NoError(t, g.CheckInvariants(roots...))
	requireExact(t, g, roots...)
	assert.Len(t, g.Aggregate(grid[0][0]).Members, size*size)

	g.Increment(grid[size-1][size-1], 1000)
	requireExact(t, g, roots...)
}

func TestAggregation_SharedDescendantReachedLate(t *testing.T) {
	g := scenario.NewSumGraph(scenario.WithMembers())
	nodes := make([]*scenario.SumNode, 7)
	for i := range nodes {
		nodes[i] = g.NewNode(int64(i + 1))
	}
	root := nodes[0]
	g.Prepare(root)
	for _, e := range [][2]int{{2, 3}, {1, 2}, {0, 2}, {4, 5}, {5, 6}, {2, 6}, {3, 4}} {
		g.AddChild(nodes[e[0]], nodes[e[1]])
	}

	data := g.Aggregate(root)
	assert.Equal(t, int64(1+3+4+5+6+7), data.Value)
	assert.Len(t, data.Members, 6)
	for id, count := range data.Members {
		assert.Equal(t, 1, count, "node %d", id)
	}
	requireExact(t, g, root)
	require.NoError(t, g.CheckInvariants(root))

	g.Increment(nodes[6], 10)
	assert.Equal(t, int64(36), g.Aggregate(root).Value)
	requireExact(t, g, root)
}

func TestAggregation_RandomDAGSequential(t *testing.T) {
	const (
		size  = 80
		edges = 240
	)
	for seed := uint64(1); seed <= 6; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*7919))
		g := scenario.NewSumGraph(scenario.WithMembers())
		nodes := make([]*scenario.SumNode, size)
		for i := range nodes {
			nodes[i] = g.NewNode(int64(i + 1))
		}
		roots := []*scenario.SumNode{nodes[0]}
		g.Prepare(nodes[0])

		seen := map[[2]int]bool{}
		for added := 0; added < edges; {
			a, b := rng.IntN(size), rng.IntN(size)
			if a == b {
				continue
			}
			e := [2]int{min(a, b), max(a, b)}
			if seen[e] {
				continue
			}
			seen[e] = true
			added++
			g.AddChild(nodes[e[0]], nodes[e[1]])
			switch rng.IntN(20) {
			case 0:
				g.Increment(nodes[rng.IntN(size)], int64(rng.IntN(9)+1))
			case 1:
				r := nodes[rng.IntN(size)]
				g.Prepare(r)
				roots = append(roots, r)
			}
		}

		require.NoError(t, g.CheckInvariants(roots...), "seed %d", seed)
		requireExact(t, g, roots...)
	}
}

func TestAddUpper_LevelsAggregatingNodeWithManyUppers(t *testing.T) {
	g := scenario.NewSumGraph(scenario.WithMembers())
	ctx := g.Context()
	top := g.NewNode(1000)
	g.Prepare(top)

	parents := make([]*scenario.SumNode, aggregation.MaxUppers+1)
	for i := range parents {
		parents[i] = g.NewNode(int64(100 + i))
		g.AddChild(top, parents[i])
		aggregation.IncreaseAggregationNumber(ctx, parents[i], 10)
	}
	x := g.NewNode(7)
	aggregation.IncreaseAggregationNumber(ctx, x, 5)

	for _, p := range parents[:aggregation.MaxUppers] {
		g.AddChild(p, x)
	}
	number, leaf, uppers := state(g, x)
	assert.False(t, leaf)
	assert.Equal(t, uint32(5), number, "no leveling up to MaxUppers")
	assert.Equal(t, aggregation.MaxUppers, uppers)

	g.AddChild(parents[aggregation.MaxUppers], x)
	number, _, uppers = state(g, x)
	assert.Equal(t, uint32(11), number, "raised just above its lowest upper")
	assert.Equal(t, aggregation.MaxUppers+1, uppers)
	for _, p := range parents {
		pn, _, _ := state(g, p)
		assert.Equal(t, uint32(12), pn, "uppers stay above the raised node")
	}
	require.NoError(t, g.CheckInvariants(top))

	child := g.NewNode(3)
	g.AddChild(x, child)
	requireExact(t, g, top)
	assert.Equal(t, 1, g.Aggregate(top).Members[x.ID()])
	assert.Equal(t, 1, g.Aggregate(top).Members[child.ID()])
}

func TestAddUpper_KeepsAggregatingNodeUnderMostlyRoots(t *testing.T) {
	g := scenario.NewSumGraph()
	ctx := g.Context()
	x := g.NewNode(7)
	aggregation.IncreaseAggregationNumber(ctx, x, 5)

	for i := 0; i <= aggregation.MaxUppers; i++ {
		r := g.NewNode(1)
		g.Prepare(r)
		g.AddChild(r, x)
	}
	number, _, uppers := state(g, x)
	assert.Equal(t, uint32(5), number, "root uppers never level")
	assert.Equal(t, aggregation.MaxUppers+1, uppers)
}

func TestQueryRootInfo_StopsAtFirstMatch(t *testing.T) {
	g := scenario.NewSumGraph()
	root, leaf := buildChain(g, 50, 1)
	g.Aggregate(root)
	ctx := g.Context()

	q := &countingQuery{}
	assert.False(t, aggregation.QueryRootInfo[bool](ctx, q, leaf))
	full := q.visits
	assert.Positive(t, full)

	g.SetActive(root, true)
	q = &countingQuery{}
	assert.True(t, aggregation.QueryRootInfo[bool](ctx, q, leaf))
	assert.LessOrEqual(t, q.visits, full)

	q = &countingQuery{}
	aggregation.QueryRootInfo[bool](ctx, q, root)
	assert.Equal(t, 1, q.visits, "a root with no uppers is visited alone")
}

type countingQuery struct {
	visits int
	found  bool
}

func (q *countingQuery) Query(data *scenario.SumData) aggregation.Flow {
	q.visits++
	if data.Active {
		q.found = true
		return aggregation.Break
	}
	return aggregation.Continue
}

func (q *countingQuery) Result() bool {
	return q.found
}

func TestAggregation_ConcurrentTreeBuild(t *testing.T) {
	const (
		workers = 8
		depth   = 64
	)
	g := scenario.NewSumGraph(scenario.WithMembers())
	root := g.NewNode(0)
	g.Prepare(root)

	var eg errgroup.Group
	for w := 0; w < workers; w++ {
		eg.Go(func() error {
			current := root
			for i := 0; i < depth; i++ {
				node := g.NewNode(1)
				g.AddChild(current, node)
				if i%3 == 0 {
					g.Increment(node, 1)
				}
				current = node
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	perWorker := int64(depth + (depth+2)/3)
	assert.Equal(t, workers*perWorker, g.Aggregate(root).Value)
	assert.NoError(t, g.CheckInvariants(root))
	requireExact(t, g, root)
}
