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

import "fmt"

// A node reachable from an aggregating node through several inner nodes has
// its own contribution carried by each of them. The aggregating node keeps
// one member entry per contributing node and lets the contribution into its
// data only once: a copy arriving through a further path is cancelled
// against the view it came with. Own-value changes carry versions so that a
// change arriving through a second path is recognized and dropped.

// view is one node's own contribution as of a version.
type view[R comparable, D any] struct {
	ref     R
	version uint64
	own     D
}

// member tracks one contributing node inside an aggregating node. The
// contribution is part of data exactly while paths is positive. A member
// with paths <= 0 only remembers the newest version seen, for messages that
// arrive out of order.
type member[D any] struct {
	paths   int
	version uint64
	own     D
}

// newAggregating builds the state of a node being promoted. The node is its
// own first member.
func newAggregating[R comparable, D, C any](g Guard[R, D, C], ref R) *aggregating[R, D] {
	return &aggregating[R, D]{
		data: g.InitialData(),
		members: map[R]*member[D]{
			ref: {paths: 1, version: g.Aggregation().version, own: g.InitialData()},
		},
	}
}

// viewsOf lists the contributions that make up the locked node's add change.
func (c *Context[R, D, C]) viewsOf(g Guard[R, D, C], ref R) []view[R, D] {
	n := g.Aggregation()
	if n.agg == nil {
		return []view[R, D]{{ref: ref, version: n.version, own: g.InitialData()}}
	}
	views := make([]view[R, D], 0, len(n.agg.members))
	for key, m := range n.agg.members {
		if m.paths > 0 {
			views = append(views, view[R, D]{ref: key, version: m.version, own: m.own})
		}
	}
	return views
}

func (c *Context[R, D, C]) appendAdd(changes []C, own *D) []C {
	if change, ok := c.policy.DataToAddChange(own); ok {
		changes = append(changes, change)
	}
	return changes
}

func (c *Context[R, D, C]) appendRemove(changes []C, own *D) []C {
	if change, ok := c.policy.DataToRemoveChange(own); ok {
		changes = append(changes, change)
	}
	return changes
}

// mergeAll applies changes to data in order and collects what the policy
// forwards.
func (c *Context[R, D, C]) mergeAll(agg *aggregating[R, D], out []C, changes []C) []C {
	for _, change := range changes {
		if next, ok := c.policy.ApplyChange(&agg.data, change); ok {
			out = append(out, next)
		}
	}
	return out
}

func upperJobs[R comparable, D, C any](n *Node[R, D], build func(uppers []R) Job[R, D, C]) Job[R, D, C] {
	if n.uppers.Len() == 0 {
		return nil
	}
	return build(n.uppers.Keys())
}

// prepareJoin records that one more inner node of the locked node n carries
// views, whose combined data is changes. Contributions already held are
// cancelled. It returns the job forwarding the net effect to n's uppers.
func (c *Context[R, D, C]) prepareJoin(n *Node[R, D], changes []C, views []view[R, D]) Job[R, D, C] {
	agg := n.agg
	var (
		entered  []view[R, D]
		fixes    []C
		upgrades []view[R, D]
	)
	for _, v := range views {
		m, ok := agg.members[v.ref]
		if !ok {
			agg.members[v.ref] = &member[D]{paths: 1, version: v.version, own: v.own}
			entered = append(entered, v)
			continue
		}
		m.paths++
		switch {
		case m.paths == 1:
			if m.version > v.version {
				// A newer own change overtook this path.
				fixes = c.appendRemove(fixes, &v.own)
				fixes = c.appendAdd(fixes, &m.own)
			} else {
				m.version, m.own = v.version, v.own
			}
			entered = append(entered, view[R, D]{ref: v.ref, version: m.version, own: m.own})
		case m.paths > 1:
			fixes = c.appendRemove(fixes, &v.own)
			recordDuplicate()
			if v.version > m.version {
				upgrades = append(upgrades, v)
			}
		default:
			fixes = c.appendRemove(fixes, &v.own)
			if v.version > m.version {
				m.version, m.own = v.version, v.own
			}
			if m.paths == 0 {
				delete(agg.members, v.ref)
			}
		}
	}

	var jobs Jobs[R, D, C]
	if len(entered) > 0 {
		out := c.mergeAll(agg, nil, changes)
		out = c.mergeAll(agg, out, fixes)
		jobs = append(jobs, upperJobs(n, func(uppers []R) Job[R, D, C] {
			return &joinJob[R, D, C]{uppers: uppers, changes: out, views: entered}
		}))
	}
	// Without entered members the changes and their cancellations add up
	// to nothing.
	for _, v := range upgrades {
		jobs = append(jobs, c.upgrade(n, agg.members[v.ref], v))
	}
	return jobsOrNil(jobs)
}

// prepareLeave records that an inner node of the locked node n no longer
// carries views, whose combined data changes retract.
func (c *Context[R, D, C]) prepareLeave(n *Node[R, D], changes []C, views []view[R, D]) Job[R, D, C] {
	agg := n.agg
	var (
		left       []view[R, D]
		pre, fixes []C
	)
	for _, v := range views {
		m, ok := agg.members[v.ref]
		if !ok {
			m = &member[D]{version: v.version, own: v.own}
			agg.members[v.ref] = m
		}
		before := m.paths
		m.paths--
		if before == 1 {
			if m.version != v.version {
				fixes = c.appendAdd(fixes, &v.own)
				fixes = c.appendRemove(fixes, &m.own)
			}
			left = append(left, view[R, D]{ref: v.ref, version: m.version, own: m.own})
			delete(agg.members, v.ref)
			continue
		}
		// Re-add first so shared entries never pass through zero.
		pre = c.appendAdd(pre, &v.own)
		if before > 1 {
			recordDuplicate()
		}
		if m.paths == 0 {
			delete(agg.members, v.ref)
		}
	}
	if len(left) == 0 {
		return nil
	}

	out := c.mergeAll(agg, nil, pre)
	out = c.mergeAll(agg, out, changes)
	out = c.mergeAll(agg, out, fixes)
	return upperJobs(n, func(uppers []R) Job[R, D, C] {
		return &leaveJob[R, D, C]{uppers: uppers, changes: out, views: left}
	})
}

// prepareUpdate applies an own change of v.ref that moved it from version
// from to v.version. changes express that move. A node that holds an older
// version than from replaces its view instead.
func (c *Context[R, D, C]) prepareUpdate(n *Node[R, D], from uint64, v view[R, D], changes []C) Job[R, D, C] {
	agg := n.agg
	m, ok := agg.members[v.ref]
	if !ok {
		// The path this change belongs to has not arrived yet.
		agg.members[v.ref] = &member[D]{version: v.version, own: v.own}
		return nil
	}
	if v.version <= m.version {
		return nil
	}
	if m.paths <= 0 || m.version != from {
		return c.upgrade(n, m, v)
	}
	m.version, m.own = v.version, v.own
	out := c.mergeAll(agg, nil, changes)
	if len(out) == 0 {
		return nil
	}
	return upperJobs(n, func(uppers []R) Job[R, D, C] {
		return &updateJob[R, D, C]{uppers: uppers, from: from, view: v, changes: out}
	})
}

// upgrade replaces the view held in m by the newer v.
func (c *Context[R, D, C]) upgrade(n *Node[R, D], m *member[D], v view[R, D]) Job[R, D, C] {
	from, old := m.version, m.own
	m.version, m.own = v.version, v.own
	if m.paths <= 0 {
		return nil
	}
	changes := c.appendRemove(nil, &old)
	changes = c.appendAdd(changes, &v.own)
	out := c.mergeAll(n.agg, nil, changes)
	if len(out) == 0 {
		return nil
	}
	return upperJobs(n, func(uppers []R) Job[R, D, C] {
		return &updateJob[R, D, C]{uppers: uppers, from: from, view: v, changes: out}
	})
}

func jobsOrNil[R comparable, D, C any](jobs Jobs[R, D, C]) Job[R, D, C] {
	switch len(jobs) {
	case 0:
		return nil
	case 1:
		return jobs[0]
	}
	return jobs
}

func mustAggregate[R comparable, D, C any](g Guard[R, D, C], ref R) *Node[R, D] {
	n := g.Aggregation()
	if n.agg == nil {
		g.Release()
		panic(fmt.Sprintf("aggregation: upper %v is not aggregating", ref))
	}
	return n
}

type joinJob[R comparable, D, C any] struct {
	uppers  []R
	changes []C
	views   []view[R, D]
}

func (j *joinJob[R, D, C]) Apply(ctx *Context[R, D, C]) {
	for _, ref := range j.uppers {
		g := ctx.node(ref)
		next := ctx.prepareJoin(mustAggregate(g, ref), j.changes, j.views)
		g.Release()
		apply(ctx, next)
	}
}

type leaveJob[R comparable, D, C any] struct {
	uppers  []R
	changes []C
	views   []view[R, D]
}

func (j *leaveJob[R, D, C]) Apply(ctx *Context[R, D, C]) {
	for _, ref := range j.uppers {
		g := ctx.node(ref)
		next := ctx.prepareLeave(mustAggregate(g, ref), j.changes, j.views)
		g.Release()
		apply(ctx, next)
	}
}

type updateJob[R comparable, D, C any] struct {
	uppers  []R
	from    uint64
	view    view[R, D]
	changes []C
}

func (j *updateJob[R, D, C]) Apply(ctx *Context[R, D, C]) {
	for _, ref := range j.uppers {
		g := ctx.node(ref)
		next := ctx.prepareUpdate(mustAggregate(g, ref), j.from, j.view, j.changes)
		g.Release()
		apply(ctx, next)
	}
}
