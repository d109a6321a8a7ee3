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

import "math/bits"

// addUpper records count routes from the node behind g to upper and releases
// g. On the first route the node's whole contribution is merged into upper
// and its sub-routes are reported to upper as new followers.
func (c *Context[R, D, C]) addUpper(g Guard[R, D, C], ref, upperRef R, count int) {
	n := g.Aggregation()
	if !n.uppers.AddCount(upperRef, count) {
		g.Release()
		return
	}
	var changes []C
	if change, ok := c.addChangeOf(g); ok {
		changes = []C{change}
	}
	views := c.viewsOf(g, ref)
	subs := c.subRoutes(g)
	var level []R
	if needsLeveling(n.uppers.Len()) {
		level = n.uppers.Keys()
	}
	leaf := n.agg == nil
	g.Release()

	ug := c.node(upperRef)
	un := mustAggregate(ug, upperRef)
	joined := c.prepareJoin(un, changes, views)
	jobs := make(Jobs[R, D, C], 0, len(subs))
	for _, sub := range subs {
		jobs = append(jobs, c.prepareNewFollower(un, upperRef, sub))
	}
	ug.Release()
	apply(c, joined)
	jobs.Apply(c)

	switch {
	case level == nil:
	case leaf:
		recordLeveling(true)
		c.increaseNumber(c.node(ref), ref, LeafNumber)
	default:
		c.levelAggregating(ref, level)
	}
}

// needsLeveling reports whether a node that just reached uppers upper edges
// should be considered for a higher number. It fires at MaxUppers plus each
// power of two, so a node with fan-in k is looked at O(log k) times.
func needsLeveling(uppers int) bool {
	if uppers <= MaxUppers {
		return false
	}
	return bits.OnesCount(uint(uppers-MaxUppers)) == 1
}

// levelAggregating raises an aggregating node with many uppers just above
// the lowest of them. It only does so while the node has more uppers than
// its uppers have on average and fewer than half of them are roots. A
// higher number lets the node absorb its followers, so each new descendant
// is merged into the node once instead of into every upper.
func (c *Context[R, D, C]) levelAggregating(ref R, uppers []R) {
	count := len(uppers)
	roots, uppersUppers := 0, 0
	lowest := RootNumber
	for _, upper := range uppers {
		g := c.node(upper)
		un := g.Aggregation()
		if un.number == RootNumber {
			roots++
		} else {
			uppersUppers += un.uppers.Len()
			lowest = min(lowest, un.number)
		}
		g.Release()
	}
	normal := count - roots
	if normal == 0 || roots*2 >= count || count <= uppersUppers/normal {
		return
	}
	recordLeveling(false)
	c.increaseNumber(c.node(ref), ref, lowest+1)
}

// removeUpperCount drops count routes from the node behind g to upper and
// releases g. When the last route goes the node's contribution is retracted
// from upper.
func (c *Context[R, D, C]) removeUpperCount(g Guard[R, D, C], ref, upperRef R, count int) {
	if !g.Aggregation().uppers.RemoveCount(upperRef, count) {
		g.Release()
		return
	}
	c.onRemovedUpper(g, ref, upperRef)
}

// onRemovedUpper retracts the contribution of the node behind g, which just
// lost its last route to upper, and the sub-routes it reported there. It
// releases g.
func (c *Context[R, D, C]) onRemovedUpper(g Guard[R, D, C], ref, upperRef R) {
	var changes []C
	if change, ok := c.removeChangeOf(g); ok {
		changes = []C{change}
	}
	views := c.viewsOf(g, ref)
	subs := c.subRoutes(g)
	g.Release()

	ug := c.node(upperRef)
	un := mustAggregate(ug, upperRef)
	left := c.prepareLeave(un, changes, views)
	jobs := make(Jobs[R, D, C], 0, len(subs))
	for _, sub := range subs {
		jobs = append(jobs, c.prepareLostFollower(un, upperRef, sub))
	}
	ug.Release()
	jobs.Apply(c)
	apply(c, left)
}
