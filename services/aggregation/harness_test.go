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

import (
	"slices"
	"sync"
)

// testNode is a minimal host node summing int64 values.
type testNode struct {
	name     string
	mu       sync.Mutex
	value    int64
	children []*testNode
	agg      Node[*testNode, int64]
}

func (n *testNode) String() string {
	return n.name
}

type testPolicy struct {
	// swallow stops propagation after the first aggregating node.
	swallow bool
}

func newTestContext(p *testPolicy) *Context[*testNode, int64, int64] {
	var policy Policy[*testNode, int64, int64] = p
	return NewContext(policy)
}

func (p *testPolicy) Node(n *testNode) Guard[*testNode, int64, int64] {
	n.mu.Lock()
	return testGuard{n: n}
}

func (p *testPolicy) ApplyChange(data *int64, change int64) (int64, bool) {
	*data += change
	return change, !p.swallow && change != 0
}

func (p *testPolicy) DataToAddChange(data *int64) (int64, bool) {
	return *data, *data != 0
}

func (p *testPolicy) DataToRemoveChange(data *int64) (int64, bool) {
	return -*data, *data != 0
}

type testGuard struct {
	n *testNode
}

func (g testGuard) Aggregation() *Node[*testNode, int64] { return &g.n.agg }
func (g testGuard) Children() []*testNode                { return slices.Clone(g.n.children) }
func (g testGuard) AddChange() (int64, bool)             { return g.n.value, g.n.value != 0 }
func (g testGuard) RemoveChange() (int64, bool)          { return -g.n.value, g.n.value != 0 }
func (g testGuard) InitialData() int64                   { return g.n.value }
func (g testGuard) Release()                             { g.n.mu.Unlock() }

// promote turns n into an aggregating node with the given number and data,
// bypassing the engine.
func promote(n *testNode, number uint32, data int64) {
	n.agg.number = number
	n.agg.agg = &aggregating[*testNode, int64]{
		data:    data,
		members: map[*testNode]*member[int64]{n: {paths: 1, own: n.value}},
	}
}

// attach makes lower inner to upper through the engine.
func attach(ctx *Context[*testNode, int64, int64], lower, upper *testNode) {
	ctx.addUpper(ctx.Policy().Node(lower), lower, upper, 1)
}

// connect appends child to parent and runs the new-edge job.
func connect(ctx *Context[*testNode, int64, int64], parent, child *testNode) {
	parent.mu.Lock()
	parent.children = append(parent.children, child)
	job := HandleNewEdge(ctx, &parent.agg, parent, child)
	parent.mu.Unlock()
	job.Apply(ctx)
}
