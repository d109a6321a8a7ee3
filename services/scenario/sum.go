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
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/aggtree/services/aggregation"
)

// SumData is the aggregate kept by SumGraph roots and aggregating nodes.
type SumData struct {
	// Value is the sum of every contribution.
	Value int64 `json:"value"`

	// Active marks a root whose descendants should report themselves active.
	// It is local to the node and never propagated.
	Active bool `json:"active"`

	// Members counts contributions per node ID. Nil unless the graph was
	// created with WithMembers.
	Members map[uint64]int `json:"members,omitempty"`
}

// Delta is the change type of SumGraph.
type Delta struct {
	Value   int64
	Members map[uint64]int
}

// SumNode is a host node of SumGraph.
type SumNode struct {
	id       uint64
	mu       sync.Mutex
	value    int64
	children []*SumNode
	agg      aggregation.Node[*SumNode, SumData]
}

// ID returns the node's identifier, unique within its graph.
func (n *SumNode) ID() uint64 {
	return n.id
}

// SumGraphOption configures a SumGraph.
type SumGraphOption func(*SumGraph)

// WithoutPropagation makes merges leave data untouched and stop at the first
// node. Structure is still maintained, which isolates structural cost.
func WithoutPropagation() SumGraphOption {
	return func(g *SumGraph) { g.propagate = false }
}

// WithMembers tracks per-node contribution counts in SumData.Members.
func WithMembers() SumGraphOption {
	return func(g *SumGraph) { g.members = true }
}

// SumGraph is a host graph whose aggregate is the sum of node values.
//
// It implements aggregation.Policy and is used by the bench scenarios and as
// the reference host in tests. Merges counts ApplyChange calls that landed on
// already non-zero data, which is the touch count the scenarios report.
//
// Thread Safety: Safe for concurrent use. Each node has its own mutex.
type SumGraph struct {
	ctx       *aggregation.Context[*SumNode, SumData, Delta]
	nextID    atomic.Uint64
	merges    atomic.Uint64
	propagate bool
	members   bool
}

// NewSumGraph creates an empty graph.
func NewSumGraph(opts ...SumGraphOption) *SumGraph {
	g := &SumGraph{propagate: true}
	for _, opt := range opts {
		opt(g)
	}
	var policy aggregation.Policy[*SumNode, SumData, Delta] = g
	g.ctx = aggregation.NewContext(policy)
	return g
}

// Context returns the engine context bound to this graph.
func (g *SumGraph) Context() *aggregation.Context[*SumNode, SumData, Delta] {
	return g.ctx
}

// NewNode creates a detached node.
func (g *SumGraph) NewNode(value int64) *SumNode {
	return &SumNode{id: g.nextID.Add(1), value: value}
}

// AddChild appends child to parent's children and updates aggregates.
func (g *SumGraph) AddChild(parent, child *SumNode) {
	parent.mu.Lock()
	parent.children = append(parent.children, child)
	job := aggregation.HandleNewEdge(g.ctx, &parent.agg, parent, child)
	parent.mu.Unlock()
	job.Apply(g.ctx)
}

// RemoveChild removes one occurrence of child from parent and retracts its
// contribution. It reports false when child was not a child of parent.
func (g *SumGraph) RemoveChild(parent, child *SumNode) bool {
	parent.mu.Lock()
	i := slices.Index(parent.children, child)
	if i < 0 {
		parent.mu.Unlock()
		return false
	}
	parent.children = slices.Delete(parent.children, i, i+1)
	job := aggregation.HandleLostEdge(g.ctx, &parent.agg, parent, child)
	parent.mu.Unlock()
	job.Apply(g.ctx)
	return true
}

// Children returns a snapshot of n's children.
func (g *SumGraph) Children(n *SumNode) []*SumNode {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.children)
}

// Increment adds delta to n's own value and propagates it.
func (g *SumGraph) Increment(n *SumNode, delta int64) {
	if delta == 0 {
		return
	}
	guard := g.Node(n)
	n.value += delta
	aggregation.ApplyChange(g.ctx, guard, n, Delta{Value: delta})
}

// Recompute walks the host children of root and sums the value of every
// distinct reachable node. Members is filled when the graph tracks members,
// with a count of one per node.
func (g *SumGraph) Recompute(root *SumNode) SumData {
	var out SumData
	if g.members {
		out.Members = make(map[uint64]int)
	}
	seen := map[*SumNode]struct{}{root: {}}
	queue := []*SumNode{root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		n.mu.Lock()
		out.Value += n.value
		children := slices.Clone(n.children)
		n.mu.Unlock()
		if out.Members != nil {
			out.Members[n.id] = 1
		}
		for _, child := range children {
			if _, ok := seen[child]; !ok {
				seen[child] = struct{}{}
				queue = append(queue, child)
			}
		}
	}
	return out
}

// Exact reports whether got carries every distinct contribution of want
// exactly once.
func Exact(got, want SumData) bool {
	return got.Value == want.Value && maps.Equal(got.Members, want.Members)
}

// Prepare promotes n to a root.
func (g *SumGraph) Prepare(n *SumNode) {
	aggregation.PrepareAggregationData(g.ctx, n)
}

// Aggregate promotes n to a root and returns a copy of its data.
func (g *SumGraph) Aggregate(n *SumNode) SumData {
	dg := aggregation.AggregationData(g.ctx, n)
	defer dg.Release()
	out := *dg.Data()
	out.Members = maps.Clone(out.Members)
	return out
}

// SetActive promotes n to a root and sets its active flag.
func (g *SumGraph) SetActive(n *SumNode, active bool) {
	dg := aggregation.AggregationData(g.ctx, n)
	dg.Data().Active = active
	dg.Release()
}

// IsActive reports whether any root above n is active.
func (g *SumGraph) IsActive(n *SumNode) bool {
	return aggregation.QueryRootInfo[bool](g.ctx, &activeQuery{}, n)
}

// Merges returns the number of merges into non-zero data so far.
func (g *SumGraph) Merges() uint64 {
	return g.merges.Load()
}

// ResetMerges zeroes the merge counter and returns its previous value.
func (g *SumGraph) ResetMerges() uint64 {
	return g.merges.Swap(0)
}

// CheckInvariants verifies the leveled structure reachable from nodes.
func (g *SumGraph) CheckInvariants(nodes ...*SumNode) error {
	return aggregation.CheckInvariants(g.ctx, nodes...)
}

// Stats summarizes the structure reachable from nodes.
func (g *SumGraph) Stats(nodes ...*SumNode) aggregation.Stats {
	return aggregation.CollectStats(g.ctx, nodes...)
}

// Node locks n. It implements aggregation.Policy.
func (g *SumGraph) Node(n *SumNode) aggregation.Guard[*SumNode, SumData, Delta] {
	n.mu.Lock()
	return &sumGuard{graph: g, node: n}
}

// ApplyChange implements aggregation.Policy.
func (g *SumGraph) ApplyChange(data *SumData, change Delta) (Delta, bool) {
	if data.Value != 0 {
		g.merges.Add(1)
	}
	if !g.propagate {
		return Delta{}, false
	}
	data.Value += change.Value
	if len(change.Members) > 0 {
		if data.Members == nil {
			data.Members = make(map[uint64]int, len(change.Members))
		}
		mergeCounts(data.Members, change.Members)
	}
	return change, true
}

// DataToAddChange implements aggregation.Policy.
func (g *SumGraph) DataToAddChange(data *SumData) (Delta, bool) {
	if data.Value == 0 && len(data.Members) == 0 {
		return Delta{}, false
	}
	return Delta{Value: data.Value, Members: maps.Clone(data.Members)}, true
}

// DataToRemoveChange implements aggregation.Policy.
func (g *SumGraph) DataToRemoveChange(data *SumData) (Delta, bool) {
	if data.Value == 0 && len(data.Members) == 0 {
		return Delta{}, false
	}
	d := Delta{Value: -data.Value}
	if len(data.Members) > 0 {
		d.Members = make(map[uint64]int, len(data.Members))
		for id, count := range data.Members {
			d.Members[id] = -count
		}
	}
	return d, true
}

func (g *SumGraph) nodeDelta(n *SumNode, sign int64) (Delta, bool) {
	if n.value == 0 && !g.members {
		return Delta{}, false
	}
	d := Delta{Value: sign * n.value}
	if g.members {
		d.Members = map[uint64]int{n.id: int(sign)}
	}
	return d, true
}

// mergeCounts adds src into dst, dropping entries that reach zero.
func mergeCounts[K comparable](dst, src map[K]int) {
	for key, count := range src {
		if next := dst[key] + count; next != 0 {
			dst[key] = next
		} else {
			delete(dst, key)
		}
	}
}

type sumGuard struct {
	graph *SumGraph
	node  *SumNode
}

func (s *sumGuard) Aggregation() *aggregation.Node[*SumNode, SumData] {
	return &s.node.agg
}

func (s *sumGuard) Children() []*SumNode {
	return slices.Clone(s.node.children)
}

func (s *sumGuard) AddChange() (Delta, bool) {
	return s.graph.nodeDelta(s.node, 1)
}

func (s *sumGuard) RemoveChange() (Delta, bool) {
	return s.graph.nodeDelta(s.node, -1)
}

func (s *sumGuard) InitialData() SumData {
	data := SumData{Value: s.node.value}
	if s.graph.members {
		data.Members = map[uint64]int{s.node.id: 1}
	}
	return data
}

func (s *sumGuard) Release() {
	s.node.mu.Unlock()
}

// activeQuery stops at the first active root.
type activeQuery struct {
	active bool
}

func (q *activeQuery) Query(data *SumData) aggregation.Flow {
	if data.Active {
		q.active = true
		return aggregation.Break
	}
	return aggregation.Continue
}

func (q *activeQuery) Result() bool {
	return q.active
}
