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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// recordingScheduler collects every batch handed to it.
type recordingScheduler struct {
	mu      sync.Mutex
	batches [][]TaskID
}

func (s *recordingScheduler) Schedule(_ context.Context, ids []TaskID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]TaskID(nil), ids...))
}

func (s *recordingScheduler) all() []TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TaskID
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *recordingScheduler) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = nil
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "dirty", StatusDirty.String())
	assert.Equal(t, "in_progress", StatusInProgress.String())
	assert.Equal(t, "done", StatusDone.String())
	assert.Equal(t, "Status(9)", Status(9).String())
	assert.Equal(t, "task", RootTask.String())
	assert.Equal(t, "once", RootOnce.String())
}

func TestParseStatus(t *testing.T) {
	for _, s := range []Status{StatusDirty, StatusInProgress, StatusDone} {
		got, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStatus("paused")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestGraph_NewTask(t *testing.T) {
	g := NewGraph()
	a := g.NewTask()
	b := g.NewTask()
	assert.Equal(t, TaskID(1), a)
	assert.Equal(t, TaskID(2), b)
	assert.Equal(t, 2, g.Len())

	status, err := g.Status(a)
	require.NoError(t, err)
	assert.Equal(t, StatusDirty, status)

	_, err = g.Status(99)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = g.Status(0)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestGraph_ConnectValidation(t *testing.T) {
	ctx := context.Background()
	g := NewGraph()
	a := g.NewTask()

	assert.ErrorIs(t, g.Connect(ctx, a, a), ErrSelfEdge)
	assert.ErrorIs(t, g.Connect(ctx, a, 7), ErrTaskNotFound)
	//nolint:staticcheck // nil context is the case under test
	assert.ErrorIs(t, g.Connect(nil, a, 2), ErrNilContext)

	b := g.NewTask()
	assert.ErrorIs(t, g.Disconnect(ctx, a, b), ErrNotConnected)

	require.NoError(t, g.Connect(ctx, a, b))
	children, err := g.Children(a)
	require.NoError(t, err)
	assert.Equal(t, []TaskID{b}, children)
}

func TestGraph_SetRootSchedulesDirtyTasks(t *testing.T) {
	ctx := context.Background()
	sched := &recordingScheduler{}
	g := NewGraph(WithScheduler(sched))

	root := g.NewTask()
	a := g.NewTask()
	b := g.NewTask()
	require.NoError(t, g.Connect(ctx, root, a))
	require.NoError(t, g.Connect(ctx, a, b))
	require.NoError(t, g.MarkDone(ctx, a))

	assert.Empty(t, sched.all(), "nothing is scheduled without an active root")

	require.NoError(t, g.SetRoot(ctx, root, RootTask))
	assert.Equal(t, []TaskID{root, b}, sched.all())

	active, err := g.IsActive(b)
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, g.CheckInvariants(root))
}

func TestGraph_DirtyBelowActiveRootIsScheduled(t *testing.T) {
	ctx := context.Background()
	sched := &recordingScheduler{}
	g := NewGraph(WithScheduler(sched))

	root := g.NewTask()
	require.NoError(t, g.SetRoot(ctx, root, RootOnce))
	require.NoError(t, g.MarkDone(ctx, root))
	sched.reset()

	child := g.NewTask()
	require.NoError(t, g.Connect(ctx, root, child))
	assert.Equal(t, []TaskID{child}, sched.all(), "new dirty child of an active root")

	sched.reset()
	require.NoError(t, g.MarkInProgress(ctx, child))
	require.NoError(t, g.MarkDone(ctx, child))
	assert.Empty(t, sched.all())

	require.NoError(t, g.MarkDirty(ctx, child))
	assert.Equal(t, []TaskID{child}, sched.all())
}

func TestGraph_PlainRootDoesNotSchedule(t *testing.T) {
	ctx := context.Background()
	sched := &recordingScheduler{}
	g := NewGraph(WithScheduler(sched))

	root := g.NewTask()
	child := g.NewTask()
	require.NoError(t, g.Connect(ctx, root, child))
	require.NoError(t, g.SetRoot(ctx, root, RootNone))
	require.NoError(t, g.MarkDone(ctx, child))
	require.NoError(t, g.MarkDirty(ctx, child))

	assert.Empty(t, sched.all())
	active, err := g.IsActive(child)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestGraph_Aggregate(t *testing.T) {
	ctx := context.Background()
	g := NewGraph()

	root := g.NewTask()
	var leaves []TaskID
	for i := 0; i < 6; i++ {
		id := g.NewTask()
		leaves = append(leaves, id)
		require.NoError(t, g.Connect(ctx, root, id))
	}

	agg, err := g.Aggregate(root)
	require.NoError(t, err)
	assert.False(t, agg.Done())
	assert.Len(t, agg.Dirty(), 7)

	for _, id := range leaves {
		require.NoError(t, g.MarkDone(ctx, id))
	}
	agg, err = g.Aggregate(root)
	require.NoError(t, err)
	assert.Equal(t, map[TaskID]int{root: 1}, agg.DirtyTasks)
	assert.False(t, agg.Done())

	require.NoError(t, g.MarkDone(ctx, root))
	agg, err = g.Aggregate(root)
	require.NoError(t, err)
	assert.True(t, agg.Done())
	assert.Empty(t, agg.DirtyTasks)
	require.NoError(t, g.CheckInvariants(root))
}

func TestGraph_Collectibles(t *testing.T) {
	ctx := context.Background()
	g := NewGraph()

	root := g.NewTask()
	a := g.NewTask()
	b := g.NewTask()
	require.NoError(t, g.Connect(ctx, root, a))
	require.NoError(t, g.Connect(ctx, root, b))

	require.NoError(t, g.Emit(ctx, a, "warning", "x"))
	require.NoError(t, g.Emit(ctx, a, "warning", "x"))
	require.NoError(t, g.Emit(ctx, b, "warning", "y"))
	require.NoError(t, g.Emit(ctx, b, "issue", "z"))

	warnings, err := g.ReadCollectibles(root, "warning")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"x": 2, "y": 1}, warnings)

	require.NoError(t, g.Unemit(ctx, a, "warning", "x"))
	assert.ErrorIs(t, g.Unemit(ctx, a, "warning", "y"), ErrNotEmitted)

	require.NoError(t, g.Disconnect(ctx, root, b))
	warnings, err = g.ReadCollectibles(root, "warning")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"x": 1}, warnings)

	issues, err := g.ReadCollectibles(root, "issue")
	require.NoError(t, err)
	assert.Empty(t, issues)
	assert.NotNil(t, issues)
	require.NoError(t, g.CheckInvariants(root))
}

func TestGraph_SharedDescendantCountsOnce(t *testing.T) {
	ctx := context.Background()
	g := NewGraph()

	ids := make([]TaskID, 7)
	for i := range ids {
		ids[i] = g.NewTask()
	}
	require.NoError(t, g.SetRoot(ctx, ids[0], RootNone))
	// 6 is reached from 2 directly and through the chain 3 -> 4 -> 5.
	for _, e := range [][2]int{{2, 3}, {1, 2}, {0, 2}, {4, 5}, {5, 6}, {2, 6}, {3, 4}} {
		require.NoError(t, g.Connect(ctx, ids[e[0]], ids[e[1]]))
	}
	require.NoError(t, g.Emit(ctx, ids[6], "issue", "x"))

	issues, err := g.ReadCollectibles(ids[0], "issue")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"x": 1}, issues)

	agg, err := g.Aggregate(ids[0])
	require.NoError(t, err)
	assert.Equal(t, 6, agg.Unfinished, "every task but the unconnected one")
	assert.Len(t, agg.DirtyTasks, 6)
	for id, count := range agg.DirtyTasks {
		assert.Equal(t, 1, count, "task %d", id)
	}

	for _, id := range ids {
		require.NoError(t, g.MarkDone(ctx, id))
	}
	agg, err = g.Aggregate(ids[0])
	require.NoError(t, err)
	assert.True(t, agg.Done())
	assert.Zero(t, agg.Unfinished)
	require.NoError(t, g.CheckInvariants(ids[0]))
}

func TestGraph_CollectiblesEmittedBeforeConnect(t *testing.T) {
	ctx := context.Background()
	g := NewGraph()

	root := g.NewTask()
	require.NoError(t, g.SetRoot(ctx, root, RootNone))

	child := g.NewTask()
	require.NoError(t, g.Emit(ctx, child, "warning", "early"))
	require.NoError(t, g.Connect(ctx, root, child))

	warnings, err := g.ReadCollectibles(root, "warning")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"early": 1}, warnings)
}

func TestGraph_WaitDone(t *testing.T) {
	ctx := context.Background()
	g := NewGraph()

	root := g.NewTask()
	a := g.NewTask()
	b := g.NewTask()
	require.NoError(t, g.Connect(ctx, root, a))
	require.NoError(t, g.Connect(ctx, a, b))

	waitErr := make(chan error, 1)
	go func() {
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		waitErr <- g.WaitDone(waitCtx, root)
	}()

	// Give the waiter time to register before finishing the graph.
	time.Sleep(20 * time.Millisecond)
	for _, id := range []TaskID{b, a, root} {
		require.NoError(t, g.MarkDone(ctx, id))
	}

	select {
	case err := <-waitErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitDone did not return")
	}

	assert.NoError(t, g.WaitDone(ctx, root), "already done")
}

func TestGraph_WaitDoneHonorsContext(t *testing.T) {
	g := NewGraph()
	root := g.NewTask()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.WaitDone(ctx, root)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	guard := g.begin().Node(root)
	assert.Empty(t, guard.Aggregation().Data().waiters, "an abandoned wait unregisters itself")
	guard.Release()

	//nolint:staticcheck // nil context is the case under test
	assert.ErrorIs(t, g.WaitDone(nil, root), ErrNilContext)
}

func TestGraph_ConcurrentBuild(t *testing.T) {
	ctx := context.Background()
	sched := &recordingScheduler{}
	g := NewGraph(WithScheduler(sched))

	root := g.NewTask()
	require.NoError(t, g.SetRoot(ctx, root, RootTask))

	const workers, perWorker = 8, 40
	eg, egCtx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		eg.Go(func() error {
			parent := root
			for i := 0; i < perWorker; i++ {
				id := g.NewTask()
				if err := g.Connect(egCtx, parent, id); err != nil {
					return err
				}
				if err := g.Emit(egCtx, id, "built", "task"); err != nil {
					return err
				}
				if err := g.MarkDone(egCtx, id); err != nil {
					return err
				}
				if i%4 == 0 {
					parent = id
				}
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	require.NoError(t, g.MarkDone(ctx, root))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, g.WaitDone(waitCtx, root))

	built, err := g.ReadCollectibles(root, "built")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"task": workers * perWorker}, built)

	agg, err := g.Aggregate(root)
	require.NoError(t, err)
	assert.Empty(t, agg.DirtyTasks)
	assert.Contains(t, sched.all(), root)
	require.NoError(t, g.CheckInvariants(root))

	stats, err := g.Stats(root)
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker+1, stats.Nodes)
}
