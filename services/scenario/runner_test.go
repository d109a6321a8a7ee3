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
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner() *Runner {
	return NewRunner(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func stepMergesByName(res *Result) map[string]uint64 {
	out := make(map[string]uint64, len(res.Steps))
	for _, s := range res.Steps {
		out[s.Name] = s.Merges
	}
	return out
}

func TestRunner_Chain(t *testing.T) {
	var steps []string
	res, err := newTestRunner().Run(context.Background(), Spec{
		Name:            "chain",
		Kind:            KindChain,
		CheckInvariants: true,
	}, func(p Progress) { steps = append(steps, p.Step) })
	require.NoError(t, err)

	assert.True(t, res.Consistent)
	assert.Empty(t, res.InvariantError)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 102, res.Nodes)
	assert.Equal(t, 101, res.Edges)
	assert.Equal(t, int64(35151), res.RootValue)
	assert.Equal(t, res.ExpectedValue, res.RootValue)
	assert.Equal(t, map[string]uint64{
		"build":             192,
		"query":             0,
		"increment":         3,
		"wrap":              1,
		"increment-wrapped": 4,
	}, stepMergesByName(res))
	assert.Equal(t, uint64(200), res.Merges)
	assert.Contains(t, steps, "done")
}

func TestRunner_DoubleChain(t *testing.T) {
	res, err := newTestRunner().Run(context.Background(), Spec{
		Name:            "double",
		Kind:            KindDoubleChain,
		TrackMembers:    true,
		CheckInvariants: true,
	}, nil)
	require.NoError(t, err)

	assert.True(t, res.Consistent, "root value %d, expected %d", res.RootValue, res.ExpectedValue)
	assert.Empty(t, res.InvariantError)
	assert.Equal(t, 30, res.Covered)
	assert.Equal(t, 57, res.Edges)
	assert.Equal(t, int64(30*31/2+1), res.ExpectedValue)
	assert.Equal(t, res.ExpectedValue, res.RootValue)
}

func TestRunner_Rectangle(t *testing.T) {
	res, err := newTestRunner().Run(context.Background(), Spec{
		Name:            "rect",
		Kind:            KindRectangle,
		Width:           12,
		Height:          9,
		CheckInvariants: true,
	}, nil)
	require.NoError(t, err)

	assert.Empty(t, res.InvariantError)
	assert.Equal(t, 108, res.Nodes)
	assert.Equal(t, 11*9+12*8, res.Edges)
	assert.Equal(t, 12+9-1, res.Stats.Roots)
}

func TestRunner_ManyChildren(t *testing.T) {
	res, err := newTestRunner().Run(context.Background(), Spec{
		Name:            "fanout",
		Kind:            KindManyChildren,
		Roots:           40,
		Children:        1500,
		Batches:         3,
		CheckInvariants: true,
	}, nil)
	require.NoError(t, err)

	assert.Empty(t, res.InvariantError)
	assert.True(t, res.Consistent, "%d slow batches", res.SlowBatches)
	assert.Zero(t, res.SlowBatches)
	assert.Equal(t, 1+2*40+5*1500, res.Nodes)
	assert.Equal(t, 2*40+5*1500, res.Edges)
	require.Len(t, res.Steps, 8)
	assert.Equal(t, "batch-3", res.Steps[6].Name)
	assert.Equal(t, "read", res.Steps[7].Name)
	assert.Equal(t, 80, res.Stats.Roots)

	// The first root sees its own value, the inner node and every child.
	children := int64(0)
	for i := 0; i < 5*1500; i++ {
		children += int64(fanoutChildBase + i)
	}
	assert.Equal(t, int64(fanoutRootBase)+children, res.ExpectedValue)
	assert.Equal(t, res.ExpectedValue, res.RootValue)
}

func TestRunner_RandomDAG(t *testing.T) {
	res, err := newTestRunner().Run(context.Background(), Spec{
		Name:            "dag",
		Kind:            KindRandomDAG,
		Size:            300,
		Edges:           900,
		Workers:         8,
		Seed:            42,
		TrackMembers:    true,
		CheckInvariants: true,
	}, nil)
	require.NoError(t, err)

	assert.Empty(t, res.InvariantError)
	assert.True(t, res.Consistent)
	assert.Equal(t, 301, res.Covered)
	assert.Equal(t, int64(300*301/2), res.ExpectedValue)
	assert.Equal(t, res.ExpectedValue, res.RootValue)
}

func TestRunner_RandomDAGSingleWorker(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		res, err := newTestRunner().Run(context.Background(), Spec{
			Name:            "dag-seq",
			Kind:            KindRandomDAG,
			Size:            120,
			Edges:           400,
			Workers:         1,
			Seed:            seed,
			TrackMembers:    true,
			CheckInvariants: true,
		}, nil)
		require.NoError(t, err)

		assert.Empty(t, res.InvariantError, "seed %d", seed)
		assert.True(t, res.Consistent, "seed %d: root %d, expected %d", seed, res.RootValue, res.ExpectedValue)
		assert.Equal(t, 121, res.Covered, "seed %d", seed)
		assert.Equal(t, int64(120*121/2), res.RootValue, "seed %d", seed)
	}
}

func TestSumGraph_Recompute(t *testing.T) {
	g := NewSumGraph(WithMembers())
	a, b, c, d := g.NewNode(1), g.NewNode(2), g.NewNode(3), g.NewNode(4)
	g.AddChild(a, b)
	g.AddChild(a, c)
	g.AddChild(b, d)
	g.AddChild(c, d)

	want := g.Recompute(a)
	assert.Equal(t, int64(10), want.Value)
	assert.Equal(t, map[uint64]int{a.ID(): 1, b.ID(): 1, c.ID(): 1, d.ID(): 1}, want.Members)
	assert.True(t, Exact(g.Aggregate(a), want))

	doubled := want
	doubled.Members = map[uint64]int{a.ID(): 1, b.ID(): 1, c.ID(): 1, d.ID(): 2}
	assert.False(t, Exact(doubled, want))
}

func TestRunner_RejectsInvalidSpec(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{"unknown kind", Spec{Name: "x", Kind: "spiral"}},
		{"missing name", Spec{Kind: KindChain}},
		{"negative size", Spec{Name: "x", Kind: KindChain, Size: -1}},
		{"too many workers", Spec{Name: "x", Kind: KindRandomDAG, Workers: 1000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestRunner().Run(context.Background(), tt.spec, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSpec))
		})
	}
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestRunner().Run(ctx, Spec{Name: "c", Kind: KindChain}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSpec_WithDefaults(t *testing.T) {
	s := Spec{Name: "d", Kind: KindRandomDAG}.WithDefaults()
	assert.Equal(t, 2000, s.Size)
	assert.Equal(t, 6000, s.Edges)
	assert.Equal(t, 4, s.Workers)
	assert.Equal(t, int64(1), s.Seed)

	s = Spec{Name: "c", Kind: KindChain, Size: 7, Seed: 9}.WithDefaults()
	assert.Equal(t, 7, s.Size)
	assert.Equal(t, int64(9), s.Seed)
}

func TestRandomEdges(t *testing.T) {
	rng := newRand(3)
	edges := randomEdges(rng, 10, 1000)
	assert.Len(t, edges, 45, "capped at the number of distinct pairs")
	seen := map[dagEdge]bool{}
	for _, e := range edges {
		assert.Less(t, e.parent, e.child)
		assert.False(t, seen[e])
		seen[e] = true
	}
	assert.Nil(t, randomEdges(rng, 1, 10))
}
