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

import "math"

const (
	// LeafNumber is the aggregation number at which a leaf is promoted to an
	// aggregating node.
	LeafNumber uint32 = 4

	// MaxUppers is the leaf fan-in above which leveling promotes the leaf.
	MaxUppers = 4

	// RootNumber marks a root. Roots hold complete data for everything
	// reachable from them and are exempt from the upper ordering rule.
	RootNumber uint32 = math.MaxUint32
)

// Node is the per-node aggregation state embedded in every host node.
//
// The zero value is a leaf with number 0 and no uppers. A nil agg pointer
// means leaf; promotion allocates it and it is never cleared.
//
// Thread Safety: Guarded by the host's per-node lock. Accessors must only be
// called while holding it.
type Node[R comparable, D any] struct {
	number uint32
	uppers CountSet[R]
	agg    *aggregating[R, D]

	// version counts changes to the node's own contribution.
	version uint64
}

type aggregating[R comparable, D any] struct {
	followers CountSet[R]
	data      D

	// members holds every node whose own contribution is part of data,
	// the node itself included.
	members map[R]*member[D]
}

// Number returns the aggregation number.
func (n *Node[R, D]) Number() uint32 {
	return n.number
}

// IsLeaf reports whether the node has not been promoted.
func (n *Node[R, D]) IsLeaf() bool {
	return n.agg == nil
}

// IsRoot reports whether the node carries RootNumber.
func (n *Node[R, D]) IsRoot() bool {
	return n.number == RootNumber
}

// Uppers returns a snapshot of the nodes this node is inner to.
func (n *Node[R, D]) Uppers() []R {
	return n.uppers.Keys()
}

// UpperCount returns the number of routes recorded for upper.
func (n *Node[R, D]) UpperCount(upper R) int {
	return n.uppers.Count(upper)
}

// Followers returns a snapshot of the followers, nil for a leaf.
func (n *Node[R, D]) Followers() []R {
	if n.agg == nil {
		return nil
	}
	return n.agg.followers.Keys()
}

// Version returns how many times the node's own contribution has changed.
func (n *Node[R, D]) Version() uint64 {
	return n.version
}

// MemberPaths returns how many inner nodes carry ref's contribution into
// this node's data. Zero for a leaf or a node ref does not reach.
func (n *Node[R, D]) MemberPaths(ref R) int {
	if n.agg == nil {
		return 0
	}
	if m, ok := n.agg.members[ref]; ok && m.paths > 0 {
		return m.paths
	}
	return 0
}

// Members returns the nodes whose contribution is part of the data, nil for
// a leaf.
func (n *Node[R, D]) Members() []R {
	if n.agg == nil {
		return nil
	}
	out := make([]R, 0, len(n.agg.members))
	for ref, m := range n.agg.members {
		if m.paths > 0 {
			out = append(out, ref)
		}
	}
	return out
}

// Data returns the aggregated data, nil for a leaf.
func (n *Node[R, D]) Data() *D {
	if n.agg == nil {
		return nil
	}
	return &n.agg.data
}
