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
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/aggtree/services/history"
	"github.com/AleutianAI/aggtree/services/scenario"
	"github.com/AleutianAI/aggtree/services/telemetry"
)

// runScenario runs spec bounded by MaxRunDuration and saves the result.
func (s *Server) runScenario(ctx context.Context, spec scenario.Spec, progress scenario.ProgressFunc) (*scenario.Result, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.MaxRunDuration)
	defer cancel()

	result, err := s.runner.Run(ctx, spec, progress)
	if err != nil {
		return nil, false, err
	}
	if s.store == nil {
		return result, false, nil
	}
	if err := s.store.Save(ctx, result); err != nil {
		telemetry.LoggerWithTrace(ctx, s.logger).Warn("saving run failed", "run_id", result.RunID, "error", err)
		return result, false, nil
	}
	return result, true, nil
}

// runErrorStatus maps a run error to an HTTP status and code.
func runErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, scenario.ErrInvalidSpec), errors.Is(err, scenario.ErrUnknownKind):
		return http.StatusBadRequest, "INVALID_SPEC"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "RUN_TIMEOUT"
	case errors.Is(err, context.Canceled):
		return 499, "RUN_CANCELLED"
	default:
		return http.StatusInternalServerError, "RUN_FAILED"
	}
}

func (s *Server) handleRun(c *gin.Context) {
	logger := s.logger.With("request_id", getRequestID(c), "handler", "handleRun")

	var spec scenario.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	result, saved, err := s.runScenario(c.Request.Context(), spec, nil)
	if err != nil {
		status, code := runErrorStatus(err)
		logger.Warn("scenario run failed", "error", err, "status", status)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, RunResponse{Result: result, Saved: saved})
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "run history is disabled", Code: "HISTORY_DISABLED"})
		return
	}
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer", Code: "INVALID_PARAMETER"})
			return
		}
		limit = n
	}

	runs, err := s.store.List(c.Request.Context(), scenario.Kind(c.Query("kind")), limit)
	if err != nil {
		s.logger.Error("listing runs failed", "request_id", getRequestID(c), "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "HISTORY_FAILED"})
		return
	}
	if runs == nil {
		runs = []*scenario.Result{}
	}
	c.JSON(http.StatusOK, RunsResponse{Runs: runs})
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "run history is disabled", Code: "HISTORY_DISABLED"})
		return
	}
	run, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, history.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "RUN_NOT_FOUND"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "HISTORY_FAILED"})
		return
	}
	c.JSON(http.StatusOK, run)
}
