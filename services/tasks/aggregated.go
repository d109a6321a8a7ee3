// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tasks

import (
	"maps"
	"slices"
)

// Aggregated summarizes the tasks below an aggregating task.
type Aggregated struct {
	// Unfinished counts the tasks below that are not done.
	Unfinished int `json:"unfinished"`

	// DirtyTasks holds the dirty tasks below, each with count one.
	DirtyTasks map[TaskID]int `json:"dirty_tasks,omitempty"`

	// Collectibles holds trait -> value -> count of everything emitted below.
	Collectibles map[string]map[string]int `json:"collectibles,omitempty"`

	// Root is local to a root task and never propagated.
	Root RootType `json:"root"`

	// waiters are closed when Unfinished drops to zero.
	waiters []chan struct{}
}

// Done reports whether every task below has finished.
func (a *Aggregated) Done() bool {
	return a.Unfinished <= 0
}

// Dirty returns the IDs of dirty tasks below.
func (a *Aggregated) Dirty() []TaskID {
	ids := make([]TaskID, 0, len(a.DirtyTasks))
	for id, count := range a.DirtyTasks {
		if count > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

func (a *Aggregated) addCollectible(trait, value string, count int) {
	if a.Collectibles == nil {
		a.Collectibles = make(map[string]map[string]int)
	}
	values := a.Collectibles[trait]
	if values == nil {
		values = make(map[string]int)
		a.Collectibles[trait] = values
	}
	if next := values[value] + count; next != 0 {
		values[value] = next
	} else {
		delete(values, value)
	}
	if len(values) == 0 {
		delete(a.Collectibles, trait)
	}
}

func (a *Aggregated) wake() {
	for _, ch := range a.waiters {
		close(ch)
	}
	a.waiters = nil
}

// dropWaiter forgets ch if it is still registered.
func (a *Aggregated) dropWaiter(ch chan struct{}) {
	a.waiters = slices.DeleteFunc(a.waiters, func(w chan struct{}) bool { return w == ch })
	if len(a.waiters) == 0 {
		a.waiters = nil
	}
}

// snapshot copies the exported fields.
func (a *Aggregated) snapshot() Aggregated {
	out := Aggregated{
		Unfinished: a.Unfinished,
		DirtyTasks: maps.Clone(a.DirtyTasks),
		Root:       a.Root,
	}
	if len(a.Collectibles) > 0 {
		out.Collectibles = make(map[string]map[string]int, len(a.Collectibles))
		for trait, values := range a.Collectibles {
			out.Collectibles[trait] = maps.Clone(values)
		}
	}
	return out
}

// CollectibleUpdate changes the count of one emitted value.
type CollectibleUpdate struct {
	Trait string
	Value string
	Count int
}

// TaskChange is the change type flowing through the task aggregation.
//
// Unfinished is a delta of unfinished tasks. Maps and slices are shared
// read-only between the levels a change passes through.
type TaskChange struct {
	Unfinished   int
	DirtyTasks   map[TaskID]int
	Collectibles []CollectibleUpdate
}

func (c TaskChange) empty() bool {
	return c.Unfinished == 0 && len(c.DirtyTasks) == 0 && len(c.Collectibles) == 0
}

// merge applies change to data and returns what the uppers of data must
// see. onDirty is called for every dirty task whose count turned positive.
func merge(data *Aggregated, change TaskChange, onDirty func(TaskID)) (TaskChange, bool) {
	var out TaskChange

	before := data.Unfinished
	data.Unfinished += change.Unfinished
	if before > 0 && data.Unfinished <= 0 {
		data.wake()
	}
	out.Unfinished = change.Unfinished

	if len(change.DirtyTasks) > 0 {
		if data.DirtyTasks == nil {
			data.DirtyTasks = make(map[TaskID]int, len(change.DirtyTasks))
		}
		for id, count := range change.DirtyTasks {
			prev := data.DirtyTasks[id]
			next := prev + count
			if next != 0 {
				data.DirtyTasks[id] = next
			} else {
				delete(data.DirtyTasks, id)
			}
			if prev <= 0 && next > 0 && data.Root != RootNone && onDirty != nil {
				onDirty(id)
			}
		}
		out.DirtyTasks = change.DirtyTasks
	}

	for _, u := range change.Collectibles {
		data.addCollectible(u.Trait, u.Value, u.Count)
	}
	out.Collectibles = change.Collectibles

	return out, !out.empty()
}

// asChange expresses data as a change adding it (sign 1) or retracting it
// (sign -1).
func asChange(data *Aggregated, sign int) (TaskChange, bool) {
	c := TaskChange{Unfinished: sign * data.Unfinished}
	if len(data.DirtyTasks) > 0 {
		c.DirtyTasks = make(map[TaskID]int, len(data.DirtyTasks))
		for id, count := range data.DirtyTasks {
			c.DirtyTasks[id] = sign * count
		}
	}
	for trait, values := range data.Collectibles {
		for value, count := range values {
			c.Collectibles = append(c.Collectibles, CollectibleUpdate{Trait: trait, Value: value, Count: sign * count})
		}
	}
	return c, !c.empty()
}
