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

// HandleLostEdge retracts the structural edge origin -> target.
//
// Description:
//
//	Must be called while origin's lock is held and after the host has
//	removed one occurrence of target from origin's children. For a leaf
//	origin, every upper of origin loses one route to target. For an
//	aggregating origin, origin itself loses one follower route to target.
//	When the last route between a pair disappears the target's contribution
//	is retracted from the upper and its own sub-routes are retracted in turn.
//
// Outputs:
//
//	Job - Deferred work to apply after releasing the lock. Never nil.
//
// Thread Safety: The caller holds origin's lock; the job acquires one node
// at a time.
func HandleLostEdge[R comparable, D, C any](ctx *Context[R, D, C], n *Node[R, D], origin, target R) Job[R, D, C] {
	if n.agg != nil {
		if job := ctx.prepareLostFollower(n, origin, target); job != nil {
			return job
		}
		return NoJob[R, D, C]{}
	}
	if n.uppers.Len() == 0 {
		return NoJob[R, D, C]{}
	}
	return &lostFollowerJob[R, D, C]{uppers: n.uppers.Keys(), follower: target}
}

// DisconnectEdge runs HandleLostEdge under g, releases g and applies the job.
func DisconnectEdge[R comparable, D, C any](ctx *Context[R, D, C], g Guard[R, D, C], origin, target R) {
	job := HandleLostEdge(ctx, g.Aggregation(), origin, target)
	g.Release()
	job.Apply(ctx)
}
