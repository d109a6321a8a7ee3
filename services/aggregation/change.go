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

// PrepareChange records a change of the locked node's own contribution and
// returns the job that forwards it to the node's uppers. The host must have
// updated the node before the call so that the guard reports the new
// contribution. change expresses the difference.
//
// An aggregating node merges change into its data through the policy and
// forwards whatever the policy returns; a false return stops propagation on
// this branch. A leaf forwards change unchanged.
//
// An upper reached through several paths applies the change once.
func PrepareChange[R comparable, D, C any](ctx *Context[R, D, C], g Guard[R, D, C], ref R, change C) Job[R, D, C] {
	if job := ctx.prepareOwnChange(g, ref, change); job != nil {
		return job
	}
	return NoJob[R, D, C]{}
}

// ApplyChange records a change of the own contribution of the node behind
// g, releases g, and propagates the change to every upper.
func ApplyChange[R comparable, D, C any](ctx *Context[R, D, C], g Guard[R, D, C], ref R, change C) {
	job := ctx.prepareOwnChange(g, ref, change)
	g.Release()
	apply(ctx, job)
}

func (c *Context[R, D, C]) prepareOwnChange(g Guard[R, D, C], ref R, change C) Job[R, D, C] {
	n := g.Aggregation()
	from := n.version
	n.version++
	v := view[R, D]{ref: ref, version: n.version, own: g.InitialData()}
	if n.agg != nil {
		return c.prepareUpdate(n, from, v, []C{change})
	}
	return upperJobs(n, func(uppers []R) Job[R, D, C] {
		return &updateJob[R, D, C]{uppers: uppers, from: from, view: v, changes: []C{change}}
	})
}
