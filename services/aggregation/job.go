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

// Job is deferred work computed under one node lock and applied after the
// lock is released. Apply acquires nodes one at a time.
type Job[R comparable, D, C any] interface {
	Apply(ctx *Context[R, D, C])
}

// Jobs applies its elements in order. Nil entries are skipped.
type Jobs[R comparable, D, C any] []Job[R, D, C]

// Apply runs every job in order.
func (j Jobs[R, D, C]) Apply(ctx *Context[R, D, C]) {
	for _, job := range j {
		apply(ctx, job)
	}
}

func apply[R comparable, D, C any](ctx *Context[R, D, C], job Job[R, D, C]) {
	if job != nil {
		job.Apply(ctx)
	}
}

// NoJob is returned when an operation needs no follow-up.
type NoJob[R comparable, D, C any] struct{}

// Apply does nothing.
func (NoJob[R, D, C]) Apply(*Context[R, D, C]) {}
