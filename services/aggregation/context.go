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

// Guard is an exclusive hold on one host node.
//
// A guard is obtained from Policy.Node and released exactly once. While it is
// held the engine may read and mutate the embedded Node.
type Guard[R comparable, D, C any] interface {
	// Aggregation returns the node's embedded aggregation state.
	Aggregation() *Node[R, D]

	// Children returns a snapshot of the node's structural children. The
	// engine keeps using it after Release.
	Children() []R

	// AddChange returns the node's intrinsic contribution as a change, or
	// false when it contributes nothing.
	AddChange() (C, bool)

	// RemoveChange returns the change that retracts AddChange.
	RemoveChange() (C, bool)

	// InitialData returns the data a freshly promoted node starts from. It
	// must agree with AddChange.
	InitialData() D

	// Release gives the lock back to the host.
	Release()
}

// Policy connects the engine to a host graph and its aggregated value type.
//
// ApplyChange, DataToAddChange and DataToRemoveChange run while a node lock is
// held and must not acquire other nodes. Changes are treated as immutable: the
// same change value may be applied to several uppers.
type Policy[R comparable, D, C any] interface {
	// Node acquires the exclusive lock of ref. It blocks until available.
	Node(ref R) Guard[R, D, C]

	// ApplyChange merges change into data and returns the change to forward
	// to the node's uppers, or false to stop propagation.
	ApplyChange(data *D, change C) (C, bool)

	// DataToAddChange expresses data as a change that adds it elsewhere.
	DataToAddChange(data *D) (C, bool)

	// DataToRemoveChange expresses data as a change that retracts it.
	DataToRemoveChange(data *D) (C, bool)
}

// Context carries the policy through every engine operation.
//
// Hosts typically build one Context per operation so policies can collect
// per-operation side effects and flush them once all locks are released.
type Context[R comparable, D, C any] struct {
	policy Policy[R, D, C]
}

// NewContext wraps a policy.
func NewContext[R comparable, D, C any](policy Policy[R, D, C]) *Context[R, D, C] {
	return &Context[R, D, C]{policy: policy}
}

// Policy returns the wrapped policy.
func (c *Context[R, D, C]) Policy() Policy[R, D, C] {
	return c.policy
}

func (c *Context[R, D, C]) node(ref R) Guard[R, D, C] {
	return c.policy.Node(ref)
}

// addChangeOf returns the full contribution of the locked node: its intrinsic
// value for a leaf, its data for an aggregating node.
func (c *Context[R, D, C]) addChangeOf(g Guard[R, D, C]) (C, bool) {
	n := g.Aggregation()
	if n.agg == nil {
		return g.AddChange()
	}
	return c.policy.DataToAddChange(&n.agg.data)
}

func (c *Context[R, D, C]) removeChangeOf(g Guard[R, D, C]) (C, bool) {
	n := g.Aggregation()
	if n.agg == nil {
		return g.RemoveChange()
	}
	return c.policy.DataToRemoveChange(&n.agg.data)
}

// subRoutes returns the nodes reached through the locked node without being
// part of its data: children for a leaf, followers for an aggregating node.
func (c *Context[R, D, C]) subRoutes(g Guard[R, D, C]) []R {
	n := g.Aggregation()
	if n.agg == nil {
		return g.Children()
	}
	return n.agg.followers.Keys()
}
