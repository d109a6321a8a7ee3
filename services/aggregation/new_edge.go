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

// HandleNewEdge records the structural edge origin -> target.
//
// Description:
//
//	Must be called while the origin's lock is held and after the host has
//	appended target to origin's children. n is origin's embedded state. The
//	returned job performs the remaining work and must be applied after the
//	lock is released.
//
//	A leaf origin with number k raises target to at least k+1 (leaf chains
//	climb towards LeafNumber and are promoted) and then reports target as a
//	new follower to each of origin's uppers. An aggregating origin receives
//	target as its own new follower.
//
// Inputs:
//
//	ctx    - Engine context.
//	n      - Origin's aggregation state, locked.
//	origin - Reference to the origin node.
//	target - Reference to the new child.
//
// Outputs:
//
//	Job - Deferred work. Never nil.
//
// Thread Safety: The caller holds origin's lock; the job acquires one node
// at a time.
func HandleNewEdge[R comparable, D, C any](ctx *Context[R, D, C], n *Node[R, D], origin, target R) Job[R, D, C] {
	if n.agg != nil {
		if job := ctx.prepareNewFollower(n, origin, target); job != nil {
			return job
		}
		return NoJob[R, D, C]{}
	}
	return &newEdgeJob[R, D, C]{
		target:    target,
		minNumber: n.number + 1,
		uppers:    n.uppers.Keys(),
	}
}

// ConnectEdge runs HandleNewEdge under g, releases g and applies the job.
func ConnectEdge[R comparable, D, C any](ctx *Context[R, D, C], g Guard[R, D, C], origin, target R) {
	job := HandleNewEdge(ctx, g.Aggregation(), origin, target)
	g.Release()
	job.Apply(ctx)
}

type newEdgeJob[R comparable, D, C any] struct {
	target    R
	minNumber uint32
	uppers    []R
}

func (j *newEdgeJob[R, D, C]) Apply(ctx *Context[R, D, C]) {
	// Order matters: uppers classify the target by its number.
	ctx.increaseNumber(ctx.node(j.target), j.target, j.minNumber)
	for _, upper := range j.uppers {
		ctx.notifyNewFollower(ctx.node(upper), upper, j.target)
	}
}
