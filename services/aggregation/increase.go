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
)

// IncreaseAggregationNumber raises the number of ref to at least number.
//
// Description:
//
//	Numbers never decrease. A leaf raised below LeafNumber only updates its
//	number and pushes its children one level higher. Reaching LeafNumber
//	promotes the leaf: its children become followers and its data starts
//	from the host's initial data. Afterwards every follower that is no longer
//	above the node is converted to an inner node, and every upper that is no
//	longer above the node is raised past it.
//
//	RootNumber turns the node into a root whose data covers everything
//	reachable from it.
//
// Thread Safety: Acquires nodes one at a time. Must not be called while
// holding any guard.
func IncreaseAggregationNumber[R comparable, D, C any](ctx *Context[R, D, C], ref R, number uint32) {
	ctx.increaseNumber(ctx.node(ref), ref, number)
}

// increaseNumber consumes g.
func (c *Context[R, D, C]) increaseNumber(g Guard[R, D, C], ref R, number uint32) {
	if g.Aggregation().number >= number {
		g.Release()
		return
	}
	g.Release()
	c.raise(ref, number)
}

func (c *Context[R, D, C]) raise(ref R, number uint32) {
	g := c.node(ref)
	n := g.Aggregation()
	if n.number >= number {
		g.Release()
		return
	}

	var followers []R
	if n.agg == nil {
		if number < LeafNumber {
			n.number = number
			children := g.Children()
			g.Release()
			for _, child := range children {
				c.increaseNumber(c.node(child), child, number+1)
			}
			return
		}
		agg := newAggregating(g, ref)
		for _, child := range g.Children() {
			agg.followers.Add(child)
		}
		n.agg = agg
		n.number = number
		followers = agg.followers.Keys()
		recordPromotion(number == RootNumber)
		if number == RootNumber {
			slog.Debug("aggregation root promoted", "node", fmt.Sprint(ref), "followers", len(followers))
		}
	} else {
		n.number = number
		followers = n.agg.followers.Keys()
	}
	g.Release()

	for _, follower := range followers {
		number = c.settleFollower(ref, follower, number)
	}

	g = c.node(ref)
	n = g.Aggregation()
	number = n.number
	uppers := n.uppers.Keys()
	g.Release()
	if number == RootNumber {
		return
	}
	for _, upper := range uppers {
		ug := c.node(upper)
		if upperNumber := ug.Aggregation().number; upperNumber == RootNumber || upperNumber > number {
			ug.Release()
			continue
		}
		c.increaseNumber(ug, upper, number+1)
	}
}

// settleFollower restores the ordering between the node ref, whose number
// was raised to number, and one of its followers. A follower that is now
// below the node becomes inner; a follower at the same number is pushed up.
// It returns the node's current number.
func (c *Context[R, D, C]) settleFollower(ref, follower R, number uint32) uint32 {
	for {
		fg := c.node(follower)
		followerNumber := fg.Aggregation().number
		switch {
		case number == RootNumber || followerNumber < number:
			c.addUpper(fg, follower, ref, 1)
			ng := c.node(ref)
			number = ng.Aggregation().number
			remaining := c.removeFollowerAll(ng, follower) - 1
			switch {
			case remaining > 0:
				c.addUpper(c.node(follower), follower, ref, remaining)
			case remaining < 0:
				c.removeUpperCount(c.node(follower), follower, ref, -remaining)
			}
			recordConversion()
			return number
		case followerNumber == number:
			c.increaseNumber(fg, follower, number+1)
		default:
			fg.Release()
			ng := c.node(ref)
			number = ng.Aggregation().number
			ng.Release()
			if number == RootNumber || followerNumber <= number {
				continue
			}
			return number
		}
	}
}
