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

import "errors"

var (
	// ErrTaskNotFound is returned for an ID the graph never issued.
	ErrTaskNotFound = errors.New("task not found")

	// ErrSelfEdge is returned when a task is connected to itself.
	ErrSelfEdge = errors.New("task cannot be its own child")

	// ErrNotConnected is returned by Disconnect for a missing edge.
	ErrNotConnected = errors.New("tasks are not connected")

	// ErrNotEmitted is returned by Unemit for a collectible the task does
	// not hold.
	ErrNotEmitted = errors.New("collectible not emitted by task")

	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrInvalidStatus is returned when parsing an unknown status name.
	ErrInvalidStatus = errors.New("invalid task status")
)
