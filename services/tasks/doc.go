// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tasks is a task graph whose completion state is kept current by
// the aggregation engine.
//
// Every task carries a status (dirty, in progress, done), a list of child
// tasks and the collectibles it emitted. The engine maintains, for any task
// promoted to a root, how many tasks below it are unfinished, which of them
// are dirty, and every collectible emitted below it. Queries on a root read
// that summary without walking the graph.
//
// # Scheduling
//
// Dirty tasks below an active root (see SetRoot) must run. When a change
// makes a dirty task visible to an active root, the task is queued on the
// current operation and handed to the Scheduler after every task lock has
// been released.
//
// # Usage
//
//	g := tasks.NewGraph(tasks.WithScheduler(sched))
//	root := g.NewTask()
//	child := g.NewTask()
//	_ = g.Connect(ctx, root, child)
//	_ = g.SetRoot(ctx, root, tasks.RootTask)
//	_ = g.MarkDone(ctx, child)
//
// # Thread Safety
//
// Graph is safe for concurrent use. Each task has its own mutex and
// operations hold at most one task lock at a time.
package tasks
