// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"github.com/AleutianAI/aggtree/services/aggregation"
	"github.com/AleutianAI/aggtree/services/scenario"
	"github.com/AleutianAI/aggtree/services/tasks"
)

// ErrorResponse is the body of every 4xx and 5xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`

	// Details provides additional context (optional).
	Details string `json:"details,omitempty"`
}

// HealthResponse is returned by GET /v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Tasks   int    `json:"tasks"`
	History bool   `json:"history"`
}

// RunResponse is returned by POST /v1/scenarios/run.
type RunResponse struct {
	Result *scenario.Result `json:"result"`
	Saved  bool             `json:"saved"`
}

// RunsResponse is returned by GET /v1/runs.
type RunsResponse struct {
	Runs []*scenario.Result `json:"runs"`
}

// StreamMessage is one frame of the scenario progress stream.
type StreamMessage struct {
	// Type is "progress", "result" or "error".
	Type     string             `json:"type"`
	Progress *scenario.Progress `json:"progress,omitempty"`
	Result   *scenario.Result   `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// TaskResponse describes one task.
type TaskResponse struct {
	ID       tasks.TaskID   `json:"id"`
	Status   string         `json:"status"`
	Children []tasks.TaskID `json:"children"`
}

// ConnectRequest is the body of POST /v1/tasks/:id/children.
type ConnectRequest struct {
	Child tasks.TaskID `json:"child" binding:"required"`
}

// StatusRequest is the body of PUT /v1/tasks/:id/status.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// RootRequest is the body of PUT /v1/tasks/:id/root.
type RootRequest struct {
	// RootType is "none", "once" or "task".
	RootType string `json:"root_type"`
}

// EmitRequest is the body of POST and DELETE /v1/tasks/:id/collectibles.
type EmitRequest struct {
	Trait string `json:"trait" binding:"required"`
	Value string `json:"value" binding:"required"`
}

// AggregateResponse is returned by GET /v1/tasks/:id/aggregate.
type AggregateResponse struct {
	ID        tasks.TaskID      `json:"id"`
	Aggregate tasks.Aggregated  `json:"aggregate"`
	Done      bool              `json:"done"`
	Active    bool              `json:"active"`
	Stats     aggregation.Stats `json:"stats"`
}

// CollectiblesResponse is returned by GET /v1/tasks/:id/collectibles/:trait.
type CollectiblesResponse struct {
	Trait  string         `json:"trait"`
	Values map[string]int `json:"values"`
}
