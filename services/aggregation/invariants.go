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
	"errors"
	"fmt"
)

// maxReportedViolations caps the errors joined by CheckInvariants.
const maxReportedViolations = 16

// nodeSnapshot is a copy of one node's state taken under its lock.
type nodeSnapshot[R comparable] struct {
	number    uint32
	leaf      bool
	uppers    []R
	followers []R
	children  []R
	members   map[R]bool
}

// walk visits every node reachable from starts through children, uppers and
// followers, locking one node at a time. It returns snapshots in discovery
// order.
func walk[R comparable, D, C any](ctx *Context[R, D, C], starts []R) ([]R, map[R]nodeSnapshot[R]) {
	order := make([]R, 0, len(starts))
	seen := make(map[R]nodeSnapshot[R], len(starts))
	queued := make(map[R]struct{}, len(starts))
	queue := make([]R, 0, len(starts))
	enqueue := func(refs []R) {
		for _, ref := range refs {
			if _, ok := queued[ref]; ok {
				continue
			}
			queued[ref] = struct{}{}
			queue = append(queue, ref)
		}
	}
	enqueue(starts)

	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]

		g := ctx.node(ref)
		n := g.Aggregation()
		snap := nodeSnapshot[R]{
			number:    n.number,
			leaf:      n.agg == nil,
			uppers:    n.uppers.Keys(),
			followers: n.Followers(),
			children:  g.Children(),
		}
		if n.agg != nil {
			snap.members = make(map[R]bool, len(n.agg.members))
			for _, m := range n.Members() {
				snap.members[m] = true
			}
		}
		g.Release()

		order = append(order, ref)
		seen[ref] = snap
		enqueue(snap.children)
		enqueue(snap.uppers)
		enqueue(snap.followers)
	}
	return order, seen
}

// CheckInvariants traverses everything reachable from starts and verifies
// the leveling rules:
//
//   - every upper is aggregating and has a higher number, unless the lower
//     node is a root;
//   - every follower has a higher number than the node holding it, and roots
//     hold no followers;
//   - leaves stay below LeafNumber;
//   - every node counts as a member of each of its uppers.
//
// It must run while no operation is in flight. Violations are joined and
// each wraps ErrInvariantViolated.
func CheckInvariants[R comparable, D, C any](ctx *Context[R, D, C], starts ...R) error {
	order, nodes := walk(ctx, starts)

	var errs []error
	report := func(format string, args ...any) bool {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvariantViolated}, args...)...))
		return len(errs) < maxReportedViolations
	}

	for _, ref := range order {
		s := nodes[ref]
		if s.leaf && s.number >= LeafNumber {
			if !report("leaf %v has number %d", ref, s.number) {
				return errors.Join(errs...)
			}
		}
		for _, upper := range s.uppers {
			u := nodes[upper]
			if u.leaf {
				if !report("upper %v of %v is a leaf", upper, ref) {
					return errors.Join(errs...)
				}
				continue
			}
			if s.number != RootNumber && u.number <= s.number {
				if !report("upper %v (%d) of %v (%d) is not above it", upper, u.number, ref, s.number) {
					return errors.Join(errs...)
				}
			}
			if !u.members[ref] {
				if !report("%v is inner to %v but not one of its members", ref, upper) {
					return errors.Join(errs...)
				}
			}
		}
		for _, follower := range s.followers {
			if s.number == RootNumber {
				if !report("root %v holds follower %v", ref, follower) {
					return errors.Join(errs...)
				}
				continue
			}
			if f := nodes[follower]; f.number <= s.number {
				if !report("follower %v (%d) of %v (%d) is not above it", follower, f.number, ref, s.number) {
					return errors.Join(errs...)
				}
			}
		}
	}
	return errors.Join(errs...)
}

// Stats summarizes the leveled structure reachable from a set of nodes.
type Stats struct {
	Nodes         int    `json:"nodes"`
	Leaves        int    `json:"leaves"`
	Aggregating   int    `json:"aggregating"`
	Roots         int    `json:"roots"`
	UpperEdges    int    `json:"upper_edges"`
	FollowerEdges int    `json:"follower_edges"`
	MaxNumber     uint32 `json:"max_number"`
	MaxUppers     int    `json:"max_uppers"`
}

// CollectStats traverses everything reachable from starts, like
// CheckInvariants, and counts what it finds. MaxNumber ignores roots.
func CollectStats[R comparable, D, C any](ctx *Context[R, D, C], starts ...R) Stats {
	order, nodes := walk(ctx, starts)

	var st Stats
	for _, ref := range order {
		s := nodes[ref]
		st.Nodes++
		switch {
		case s.leaf:
			st.Leaves++
		case s.number == RootNumber:
			st.Aggregating++
			st.Roots++
		default:
			st.Aggregating++
		}
		if s.number != RootNumber && s.number > st.MaxNumber {
			st.MaxNumber = s.number
		}
		st.UpperEdges += len(s.uppers)
		st.FollowerEdges += len(s.followers)
		if len(s.uppers) > st.MaxUppers {
			st.MaxUppers = len(s.uppers)
		}
	}
	return st
}
