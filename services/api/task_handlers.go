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
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/aggtree/services/tasks"
)

func parseTaskID(c *gin.Context, param string) (tasks.TaskID, bool) {
	n, err := strconv.ParseUint(c.Param(param), 10, 32)
	if err != nil || n == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("%s must be a positive task id", param),
			Code:  "INVALID_PARAMETER",
		})
		return 0, false
	}
	return tasks.TaskID(n), true
}

// taskError writes the response for an error from the task graph.
func (s *Server) taskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tasks.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "TASK_NOT_FOUND"})
	case errors.Is(err, tasks.ErrNotConnected), errors.Is(err, tasks.ErrNotEmitted):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
	case errors.Is(err, tasks.ErrSelfEdge), errors.Is(err, tasks.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
	default:
		s.logger.Error("task operation failed", "request_id", getRequestID(c), "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "INTERNAL"})
	}
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return false
	}
	return true
}

func (s *Server) taskResponse(id tasks.TaskID) (TaskResponse, error) {
	status, err := s.graph.Status(id)
	if err != nil {
		return TaskResponse{}, err
	}
	children, err := s.graph.Children(id)
	if err != nil {
		return TaskResponse{}, err
	}
	if children == nil {
		children = []tasks.TaskID{}
	}
	return TaskResponse{ID: id, Status: status.String(), Children: children}, nil
}

func (s *Server) handleCreateTask(c *gin.Context) {
	resp, err := s.taskResponse(s.graph.NewTask())
	if err != nil {
		s.taskError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleGetTask(c *gin.Context) {
	id, ok := parseTaskID(c, "id")
	if !ok {
		return
	}
	resp, err := s.taskResponse(id)
	if err != nil {
		s.taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleConnect(c *gin.Context) {
	id, ok := parseTaskID(c, "id")
	if !ok {
		return
	}
	var req ConnectRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.graph.Connect(c.Request.Context(), id, req.Child); err != nil {
		s.taskError(c, err)
		return
	}
	s.respondTask(c, id)
}

func (s *Server) handleDisconnect(c *gin.Context) {
	id, ok := parseTaskID(c, "id")
	if !ok {
		return
	}
	child, ok := parseTaskID(c, "child")
	if !ok {
		return
	}
	if err := s.graph.Disconnect(c.Request.Context(), id, child); err != nil {
		s.taskError(c, err)
		return
	}
	s.respondTask(c, id)
}

func (s *Server) handleSetStatus(c *gin.Context) {
	id, ok := parseTaskID(c, "id")
	if !ok {
		return
	}
	var req StatusRequest
	if !bindJSON(c, &req) {
		return
	}
	status, err := tasks.ParseStatus(req.Status)
	if err != nil {
		s.taskError(c, err)
		return
	}
	if err := s.graph.SetStatus(c.Request.Context(), id, status); err != nil {
		s.taskError(c, err)
		return
	}
	s.respondTask(c, id)
}

func parseRootType(s string) (tasks.RootType, bool) {
	switch s {
	case "", "none":
		return tasks.RootNone, true
	case "once":
		return tasks.RootOnce, true
	case "task":
		return tasks.RootTask, true
	default:
		return 0, false
	}
}

func (s *Server) handleSetRoot(c *gin.Context) {
	id, ok := parseTaskID(c, "id")
	if !ok {
		return
	}
	var req RootRequest
	if !bindJSON(c, &req) {
		return
	}
	rt, ok := parseRootType(req.RootType)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("unknown root type %q", req.RootType),
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if err := s.graph.SetRoot(c.Request.Context(), id, rt); err != nil {
		s.taskError(c, err)
		return
	}
	s.respondAggregate(c, id)
}

func (s *Server) handleEmit(c *gin.Context) {
	s.handleCollectible(c, s.graph.Emit)
}

func (s *Server) handleUnemit(c *gin.Context) {
	s.handleCollectible(c, s.graph.Unemit)
}

func (s *Server) handleCollectible(c *gin.Context, op func(ctx context.Context, id tasks.TaskID, trait, value string) error) {
	id, ok := parseTaskID(c, "id")
	if !ok {
		return
	}
	var req EmitRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := op(c.Request.Context(), id, req.Trait, req.Value); err != nil {
		s.taskError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleReadCollectibles(c *gin.Context) {
	id, ok := parseTaskID(c, "id")
	if !ok {
		return
	}
	trait := c.Param("trait")
	values, err := s.graph.ReadCollectibles(id, trait)
	if err != nil {
		s.taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, CollectiblesResponse{Trait: trait, Values: values})
}

func (s *Server) handleAggregate(c *gin.Context) {
	id, ok := parseTaskID(c, "id")
	if !ok {
		return
	}
	s.respondAggregate(c, id)
}

func (s *Server) respondTask(c *gin.Context, id tasks.TaskID) {
	resp, err := s.taskResponse(id)
	if err != nil {
		s.taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) respondAggregate(c *gin.Context, id tasks.TaskID) {
	agg, err := s.graph.Aggregate(id)
	if err != nil {
		s.taskError(c, err)
		return
	}
	active, err := s.graph.IsActive(id)
	if err != nil {
		s.taskError(c, err)
		return
	}
	stats, err := s.graph.Stats(id)
	if err != nil {
		s.taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, AggregateResponse{
		ID:        id,
		Aggregate: agg,
		Done:      agg.Done(),
		Active:    active,
		Stats:     stats,
	})
}
