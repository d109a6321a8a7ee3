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
	"context"
	"slices"

	"github.com/AleutianAI/aggtree/services/aggregation"
)

// Scheduler runs dirty tasks that became visible to an active root.
type Scheduler interface {
	Schedule(ctx context.Context, ids []TaskID)
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(ctx context.Context, ids []TaskID)

// Schedule calls f.
func (f SchedulerFunc) Schedule(ctx context.Context, ids []TaskID) {
	f(ctx, ids)
}

type nopScheduler struct{}

func (nopScheduler) Schedule(context.Context, []TaskID) {}

// operation is the aggregation policy for one graph mutation. It collects
// dirty tasks to schedule while locks are held; flush hands them over once
// the mutation is complete.
type operation struct {
	graph  *Graph
	queued map[TaskID]struct{}
	order  []TaskID
	aggCtx *aggregation.Context[TaskID, Aggregated, TaskChange]
}

func (g *Graph) begin() *operation {
	op := &operation{graph: g}
	var policy aggregation.Policy[TaskID, Aggregated, TaskChange] = op
	op.aggCtx = aggregation.NewContext(policy)
	return op
}

func (op *operation) queue(id TaskID) {
	if op.queued == nil {
		op.queued = make(map[TaskID]struct{})
	}
	if _, ok := op.queued[id]; ok {
		return
	}
	op.queued[id] = struct{}{}
	op.order = append(op.order, id)
}

// flush schedules queued tasks that are still dirty.
func (op *operation) flush(ctx context.Context) {
	if len(op.order) == 0 {
		return
	}
	ids := make([]TaskID, 0, len(op.order))
	for _, id := range op.order {
		t := op.graph.task(id)
		if t == nil {
			continue
		}
		t.mu.Lock()
		dirty := t.status == StatusDirty
		t.mu.Unlock()
		if dirty {
			ids = append(ids, id)
		}
	}
	op.queued, op.order = nil, nil
	if len(ids) == 0 {
		return
	}
	slices.Sort(ids)
	op.graph.logger.Debug("scheduling dirty tasks", "count", len(ids))
	recordScheduled(ctx, len(ids))
	op.graph.scheduler.Schedule(ctx, ids)
}

// Node implements aggregation.Policy. Every ID reaching the engine was
// validated by the public operation that started it.
func (op *operation) Node(id TaskID) aggregation.Guard[TaskID, Aggregated, TaskChange] {
	t := op.graph.task(id)
	if t == nil {
		panic("tasks: engine reached unknown task")
	}
	t.mu.Lock()
	return &taskGuard{task: t}
}

// ApplyChange implements aggregation.Policy.
func (op *operation) ApplyChange(data *Aggregated, change TaskChange) (TaskChange, bool) {
	return merge(data, change, op.queue)
}

// DataToAddChange implements aggregation.Policy.
func (op *operation) DataToAddChange(data *Aggregated) (TaskChange, bool) {
	return asChange(data, 1)
}

// DataToRemoveChange implements aggregation.Policy.
func (op *operation) DataToRemoveChange(data *Aggregated) (TaskChange, bool) {
	return asChange(data, -1)
}

type taskGuard struct {
	task *Task
}

func (g *taskGuard) Aggregation() *aggregation.Node[TaskID, Aggregated] {
	return &g.task.agg
}

func (g *taskGuard) Children() []TaskID {
	return slices.Clone(g.task.children)
}

func (g *taskGuard) AddChange() (TaskChange, bool) {
	return g.task.change(1)
}

func (g *taskGuard) RemoveChange() (TaskChange, bool) {
	return g.task.change(-1)
}

func (g *taskGuard) InitialData() Aggregated {
	return g.task.initialData()
}

func (g *taskGuard) Release() {
	g.task.mu.Unlock()
}

// activeQuery stops at the first root with a root type.
type activeQuery struct {
	active bool
}

func (q *activeQuery) Query(data *Aggregated) aggregation.Flow {
	if data.Root != RootNone {
		q.active = true
		return aggregation.Break
	}
	return aggregation.Continue
}

func (q *activeQuery) Result() bool {
	return q.active
}
