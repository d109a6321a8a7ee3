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
	"fmt"
	"strings"
	"sync"

	"github.com/AleutianAI/aggtree/services/aggregation"
)

// TaskID identifies a task within its Graph. IDs start at 1.
type TaskID uint32

// Status is the execution state of a task.
type Status int

const (
	// StatusDirty means the task must run again.
	StatusDirty Status = iota
	// StatusInProgress means the task is running.
	StatusInProgress
	// StatusDone means the task finished and its outputs are current.
	StatusDone
)

func (s Status) String() string {
	switch s {
	case StatusDirty:
		return "dirty"
	case StatusInProgress:
		return "in_progress"
	case StatusDone:
		return "done"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ParseStatus converts a status name as returned by String.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dirty":
		return StatusDirty, nil
	case "in_progress", "in-progress", "running":
		return StatusInProgress, nil
	case "done":
		return StatusDone, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// unfinished reports whether a task in this status counts as unfinished.
func (s Status) unfinished() int {
	if s == StatusDone {
		return 0
	}
	return 1
}

func (s Status) dirty() int {
	if s == StatusDirty {
		return 1
	}
	return 0
}

// RootType marks why a task is a root. Only roots with a type other than
// RootNone schedule dirty tasks.
type RootType int

const (
	// RootNone is a plain aggregation root.
	RootNone RootType = iota
	// RootOnce is a root for a single evaluation.
	RootOnce
	// RootTask is a long-lived root that keeps its graph up to date.
	RootTask
)

func (r RootType) String() string {
	switch r {
	case RootNone:
		return "none"
	case RootOnce:
		return "once"
	case RootTask:
		return "task"
	default:
		return fmt.Sprintf("RootType(%d)", int(r))
	}
}

// Task is a node of the task graph.
type Task struct {
	id       TaskID
	mu       sync.Mutex
	status   Status
	children []TaskID

	// emitted holds trait -> value -> count.
	emitted map[string]map[string]int

	agg aggregation.Node[TaskID, Aggregated]
}

// change expresses the task's own contribution, negated when sign is -1.
func (t *Task) change(sign int) (TaskChange, bool) {
	c := TaskChange{Unfinished: sign * t.status.unfinished()}
	if t.status == StatusDirty {
		c.DirtyTasks = map[TaskID]int{t.id: sign}
	}
	for trait, values := range t.emitted {
		for value, count := range values {
			c.Collectibles = append(c.Collectibles, CollectibleUpdate{Trait: trait, Value: value, Count: sign * count})
		}
	}
	return c, !c.empty()
}

func (t *Task) initialData() Aggregated {
	data := Aggregated{Unfinished: t.status.unfinished()}
	if t.status == StatusDirty {
		data.DirtyTasks = map[TaskID]int{t.id: 1}
	}
	for trait, values := range t.emitted {
		for value, count := range values {
			data.addCollectible(trait, value, count)
		}
	}
	return data
}
