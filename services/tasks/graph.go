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
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/AleutianAI/aggtree/services/aggregation"
	"go.opentelemetry.io/otel/attribute"
)

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithScheduler sets the scheduler that receives dirty tasks.
func WithScheduler(s Scheduler) GraphOption {
	return func(g *Graph) { g.scheduler = s }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) GraphOption {
	return func(g *Graph) { g.logger = logger }
}

// Graph owns a set of tasks and keeps their aggregates current.
//
// Thread Safety: Safe for concurrent use.
type Graph struct {
	mu        sync.RWMutex
	tasks     []*Task
	scheduler Scheduler
	logger    *slog.Logger
}

// NewGraph creates an empty graph.
func NewGraph(opts ...GraphOption) *Graph {
	g := &Graph{scheduler: nopScheduler{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Graph) task(id TaskID) *Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if id == 0 || int(id) > len(g.tasks) {
		return nil
	}
	return g.tasks[id-1]
}

func (g *Graph) lookup(ids ...TaskID) error {
	for _, id := range ids {
		if g.task(id) == nil {
			return fmt.Errorf("%w: %d", ErrTaskNotFound, id)
		}
	}
	return nil
}

// NewTask creates a dirty task with no children.
func (g *Graph) NewTask() TaskID {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := TaskID(len(g.tasks) + 1)
	g.tasks = append(g.tasks, &Task{id: id, status: StatusDirty})
	return id
}

// Len returns the number of tasks.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tasks)
}

// Status returns the task's status.
func (g *Graph) Status(id TaskID) (Status, error) {
	t := g.task(id)
	if t == nil {
		return 0, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, nil
}

// Children returns a snapshot of the task's children.
func (g *Graph) Children(id TaskID) ([]TaskID, error) {
	t := g.task(id)
	if t == nil {
		return nil, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.children), nil
}

// Connect adds child to parent's children. Repeated calls add parallel
// edges. The caller must keep the graph acyclic.
func (g *Graph) Connect(ctx context.Context, parent, child TaskID) error {
	if ctx == nil {
		return ErrNilContext
	}
	if parent == child {
		return fmt.Errorf("%w: %d", ErrSelfEdge, parent)
	}
	if err := g.lookup(parent, child); err != nil {
		return err
	}
	ctx, span := startSpan(ctx, "Connect", parent)
	defer span.End()
	span.SetAttributes(attribute.Int64("task.child", int64(child)))

	op := g.begin()
	guard := op.Node(parent)
	t := g.task(parent)
	t.children = append(t.children, child)
	aggregation.ConnectEdge(op.aggCtx, guard, parent, child)
	op.flush(ctx)
	return nil
}

// Disconnect removes one edge from parent to child.
func (g *Graph) Disconnect(ctx context.Context, parent, child TaskID) error {
	if ctx == nil {
		return ErrNilContext
	}
	if err := g.lookup(parent, child); err != nil {
		return err
	}
	ctx, span := startSpan(ctx, "Disconnect", parent)
	defer span.End()
	span.SetAttributes(attribute.Int64("task.child", int64(child)))

	op := g.begin()
	guard := op.Node(parent)
	t := g.task(parent)
	i := slices.Index(t.children, child)
	if i < 0 {
		guard.Release()
		return fmt.Errorf("%w: %d -> %d", ErrNotConnected, parent, child)
	}
	t.children = slices.Delete(t.children, i, i+1)
	aggregation.DisconnectEdge(op.aggCtx, guard, parent, child)
	op.flush(ctx)
	return nil
}

// SetRoot promotes the task to an aggregation root and sets its root type.
// Making a root active schedules every dirty task below it.
func (g *Graph) SetRoot(ctx context.Context, id TaskID, rt RootType) error {
	if ctx == nil {
		return ErrNilContext
	}
	if err := g.lookup(id); err != nil {
		return err
	}
	ctx, span := startSpan(ctx, "SetRoot", id)
	defer span.End()
	span.SetAttributes(attribute.String("task.root_type", rt.String()))

	op := g.begin()
	dg := aggregation.AggregationData(op.aggCtx, id)
	data := dg.Data()
	wasActive := data.Root != RootNone
	data.Root = rt
	if rt != RootNone && !wasActive {
		dirty := data.Dirty()
		slices.Sort(dirty)
		for _, d := range dirty {
			op.queue(d)
		}
	}
	dg.Release()
	op.flush(ctx)
	return nil
}

// SetStatus moves the task to status and propagates the difference.
func (g *Graph) SetStatus(ctx context.Context, id TaskID, status Status) error {
	if ctx == nil {
		return ErrNilContext
	}
	if err := g.lookup(id); err != nil {
		return err
	}
	ctx, span := startSpan(ctx, "SetStatus", id)
	defer span.End()
	span.SetAttributes(attribute.String("task.status", status.String()))

	op := g.begin()
	guard := op.Node(id)
	t := g.task(id)
	prev := t.status
	if prev == status {
		guard.Release()
		return nil
	}
	t.status = status

	change := TaskChange{Unfinished: status.unfinished() - prev.unfinished()}
	if diff := status.dirty() - prev.dirty(); diff != 0 {
		change.DirtyTasks = map[TaskID]int{id: diff}
	}
	if change.empty() {
		guard.Release()
	} else {
		aggregation.ApplyChange(op.aggCtx, guard, id, change)
	}
	recordTransition(ctx, status)
	op.flush(ctx)
	return nil
}

// MarkDirty marks the task as needing to run.
func (g *Graph) MarkDirty(ctx context.Context, id TaskID) error {
	return g.SetStatus(ctx, id, StatusDirty)
}

// MarkInProgress marks the task as running.
func (g *Graph) MarkInProgress(ctx context.Context, id TaskID) error {
	return g.SetStatus(ctx, id, StatusInProgress)
}

// MarkDone marks the task as finished.
func (g *Graph) MarkDone(ctx context.Context, id TaskID) error {
	return g.SetStatus(ctx, id, StatusDone)
}

// Emit records a collectible value under trait on the task.
func (g *Graph) Emit(ctx context.Context, id TaskID, trait, value string) error {
	return g.emit(ctx, id, trait, value, 1)
}

// Unemit retracts one emission of value under trait.
func (g *Graph) Unemit(ctx context.Context, id TaskID, trait, value string) error {
	return g.emit(ctx, id, trait, value, -1)
}

func (g *Graph) emit(ctx context.Context, id TaskID, trait, value string, count int) error {
	if ctx == nil {
		return ErrNilContext
	}
	if err := g.lookup(id); err != nil {
		return err
	}
	ctx, span := startSpan(ctx, "Emit", id)
	defer span.End()
	span.SetAttributes(
		attribute.String("collectible.trait", trait),
		attribute.Int("collectible.count", count),
	)

	op := g.begin()
	guard := op.Node(id)
	t := g.task(id)
	if count < 0 && t.emitted[trait][value] < -count {
		guard.Release()
		return fmt.Errorf("%w: task %d %s=%q", ErrNotEmitted, id, trait, value)
	}
	if t.emitted == nil {
		t.emitted = make(map[string]map[string]int)
	}
	values := t.emitted[trait]
	if values == nil {
		values = make(map[string]int)
		t.emitted[trait] = values
	}
	if next := values[value] + count; next != 0 {
		values[value] = next
	} else {
		delete(values, value)
		if len(values) == 0 {
			delete(t.emitted, trait)
		}
	}
	aggregation.ApplyChange(op.aggCtx, guard, id, TaskChange{
		Collectibles: []CollectibleUpdate{{Trait: trait, Value: value, Count: count}},
	})
	op.flush(ctx)
	return nil
}

// Aggregate promotes the task to a root and returns a copy of its summary.
func (g *Graph) Aggregate(id TaskID) (Aggregated, error) {
	if err := g.lookup(id); err != nil {
		return Aggregated{}, err
	}
	op := g.begin()
	dg := aggregation.AggregationData(op.aggCtx, id)
	out := dg.Data().snapshot()
	dg.Release()
	return out, nil
}

// ReadCollectibles returns value -> count for everything emitted under
// trait by the task and the tasks below it.
func (g *Graph) ReadCollectibles(id TaskID, trait string) (map[string]int, error) {
	if err := g.lookup(id); err != nil {
		return nil, err
	}
	op := g.begin()
	dg := aggregation.AggregationData(op.aggCtx, id)
	values := maps.Clone(dg.Data().Collectibles[trait])
	dg.Release()
	if values == nil {
		values = map[string]int{}
	}
	return values, nil
}

// IsActive reports whether any root above the task has a root type.
func (g *Graph) IsActive(id TaskID) (bool, error) {
	if err := g.lookup(id); err != nil {
		return false, err
	}
	op := g.begin()
	return aggregation.QueryRootInfo[bool](op.aggCtx, &activeQuery{}, id), nil
}

// WaitDone blocks until every task below id, id included, is done or ctx
// ends.
func (g *Graph) WaitDone(ctx context.Context, id TaskID) error {
	if ctx == nil {
		return ErrNilContext
	}
	if err := g.lookup(id); err != nil {
		return err
	}
	ctx, span := startSpan(ctx, "WaitDone", id)
	defer span.End()

	op := g.begin()
	dg := aggregation.AggregationData(op.aggCtx, id)
	data := dg.Data()
	if data.Done() {
		dg.Release()
		return nil
	}
	done := make(chan struct{})
	data.waiters = append(data.waiters, done)
	dg.Release()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		guard := op.Node(id)
		guard.Aggregation().Data().dropWaiter(done)
		guard.Release()
		return ctx.Err()
	}
}

// CheckInvariants verifies the aggregation structure reachable from ids.
func (g *Graph) CheckInvariants(ids ...TaskID) error {
	if err := g.lookup(ids...); err != nil {
		return err
	}
	return aggregation.CheckInvariants(g.begin().aggCtx, ids...)
}

// Stats summarizes the aggregation structure reachable from ids.
func (g *Graph) Stats(ids ...TaskID) (aggregation.Stats, error) {
	if err := g.lookup(ids...); err != nil {
		return aggregation.Stats{}, err
	}
	return aggregation.CollectStats(g.begin().aggCtx, ids...), nil
}
