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
	"fmt"
	"log/slog"
	"runtime"
	"time"
)

// malformedGraphTimeout bounds how long a retraction waits for an edge that
// is neither a follower nor an upper edge to appear.
const malformedGraphTimeout = 10 * time.Second

// prepareNewFollower records follower under the locked aggregating upper.
// A follower already counted only gains a count; otherwise the returned job
// decides between follower and inner placement.
func (c *Context[R, D, C]) prepareNewFollower(upper *Node[R, D], upperRef, follower R) Job[R, D, C] {
	if upper.agg == nil {
		panic(fmt.Sprintf("aggregation: upper %v of follower %v is not aggregating", upperRef, follower))
	}
	if upper.agg.followers.AddIfPresent(follower) {
		return nil
	}
	return &newFollowerJob[R, D, C]{
		upper:       upperRef,
		follower:    follower,
		upperNumber: upper.number,
	}
}

func (c *Context[R, D, C]) notifyNewFollower(g Guard[R, D, C], upperRef, follower R) {
	job := c.prepareNewFollower(g.Aggregation(), upperRef, follower)
	g.Release()
	apply(c, job)
}

type newFollowerJob[R comparable, D, C any] struct {
	upper       R
	follower    R
	upperNumber uint32
}

func (j *newFollowerJob[R, D, C]) Apply(ctx *Context[R, D, C]) {
	upperNumber := j.upperNumber
	for {
		fg := ctx.node(j.follower)
		followerNumber := fg.Aggregation().number
		if upperNumber == RootNumber || followerNumber < upperNumber {
			ctx.addUpper(fg, j.follower, j.upper, 1)
			return
		}
		fg.Release()

		ug := ctx.node(j.upper)
		un := ug.Aggregation()
		upperNumber = un.number
		switch {
		case upperNumber == RootNumber || followerNumber < upperNumber:
			// The upper grew meanwhile; retry as inner.
			ug.Release()
		case followerNumber == upperNumber:
			ug.Release()
			ctx.increaseNumber(ctx.node(j.follower), j.follower, upperNumber+1)
		default:
			if !un.agg.followers.Add(j.follower) {
				ug.Release()
				return
			}
			uppers := un.uppers.Keys()
			ug.Release()
			for _, u := range uppers {
				ctx.notifyNewFollower(ctx.node(u), u, j.follower)
			}
			return
		}
	}
}

// prepareLostFollower drops one route of follower from the locked
// aggregating upper.
func (c *Context[R, D, C]) prepareLostFollower(upper *Node[R, D], upperRef, follower R) Job[R, D, C] {
	if upper.agg == nil {
		panic(fmt.Sprintf("aggregation: upper %v of lost follower %v is not aggregating", upperRef, follower))
	}
	switch upper.agg.followers.RemoveIfPresent(follower) {
	case PartiallyRemoved:
		return nil
	case Removed:
		if upper.uppers.Len() == 0 {
			return nil
		}
		return &lostFollowerJob[R, D, C]{uppers: upper.uppers.Keys(), follower: follower}
	default:
		return &lostInnerJob[R, D, C]{upper: upperRef, follower: follower}
	}
}

func (c *Context[R, D, C]) notifyLostFollower(g Guard[R, D, C], upperRef, follower R) {
	job := c.prepareLostFollower(g.Aggregation(), upperRef, follower)
	g.Release()
	apply(c, job)
}

// lostFollowerJob forwards a vanished follower route to the uppers that
// carried it.
type lostFollowerJob[R comparable, D, C any] struct {
	uppers   []R
	follower R
}

func (j *lostFollowerJob[R, D, C]) Apply(ctx *Context[R, D, C]) {
	for _, u := range j.uppers {
		ctx.notifyLostFollower(ctx.node(u), u, j.follower)
	}
}

// lostInnerJob retracts a route that was not found among the followers, so
// it has to be an upper edge of the follower. A concurrent conversion can
// move the route between the two places; the job retries until it finds it.
type lostInnerJob[R comparable, D, C any] struct {
	upper    R
	follower R
}

func (j *lostInnerJob[R, D, C]) Apply(ctx *Context[R, D, C]) {
	var deadline time.Time
	for {
		fg := ctx.node(j.follower)
		fn := fg.Aggregation()
		switch fn.uppers.RemoveIfPresent(j.upper) {
		case PartiallyRemoved:
			fg.Release()
			return
		case Removed:
			ctx.onRemovedUpper(fg, j.follower, j.upper)
			return
		}
		fg.Release()

		ug := ctx.node(j.upper)
		un := ug.Aggregation()
		switch un.agg.followers.RemoveIfPresent(j.follower) {
		case PartiallyRemoved:
			ug.Release()
			return
		case Removed:
			uppers := un.uppers.Keys()
			ug.Release()
			for _, u := range uppers {
				ctx.notifyLostFollower(ctx.node(u), u, j.follower)
			}
			return
		}
		ug.Release()

		if deadline.IsZero() {
			deadline = time.Now().Add(malformedGraphTimeout)
		} else if time.Now().After(deadline) {
			slog.Error("aggregation edge vanished",
				"upper", fmt.Sprint(j.upper),
				"follower", fmt.Sprint(j.follower),
				"waited", malformedGraphTimeout)
			panic(fmt.Sprintf("aggregation: malformed graph: %v is neither follower nor inner of %v",
				j.follower, j.upper))
		}
		recordLostRetry()
		runtime.Gosched()
	}
}

// removeFollowerAll drops every route of follower from the locked aggregating
// node behind g, releases g, and retracts the follower from the node's uppers.
// It returns the route count that was removed.
func (c *Context[R, D, C]) removeFollowerAll(g Guard[R, D, C], follower R) int {
	n := g.Aggregation()
	count := n.agg.followers.RemoveAll(follower)
	if count == 0 {
		g.Release()
		return 0
	}
	uppers := n.uppers.Keys()
	g.Release()
	for _, u := range uppers {
		c.notifyLostFollower(c.node(u), u, follower)
	}
	return count
}
