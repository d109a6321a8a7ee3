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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aggtree/services/history"
	"github.com/AleutianAI/aggtree/services/scenario"
	"github.com/AleutianAI/aggtree/services/tasks"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RateLimit = 1000
	cfg.RateBurst = 1000
	return NewServer(cfg, append([]Option{WithLogger(testLogger())}, opts...)...)
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, http.MethodGet, "/v1/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.False(t, resp.History)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestServer_RequestIDPropagated(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodGet, "/v1/health", nil)

	w := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aggtree_http_requests_total")
}

func TestServer_CustomMetricsHandler(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "custom_metric 1\n")
	})
	s := newTestServer(t, WithMetricsHandler(h))

	w := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "custom_metric 1\n", w.Body.String())
	assert.Empty(t, w.Header().Get(traceIDHeader))
}

func TestServer_RunScenario(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, http.MethodPost, "/v1/scenarios/run", scenario.Spec{
		Name: "api-chain", Kind: scenario.KindChain, Size: 10, CheckInvariants: true,
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[RunResponse](t, w)
	require.NotNil(t, resp.Result)
	assert.False(t, resp.Saved)
	assert.True(t, resp.Result.Consistent)
	assert.Equal(t, resp.Result.ExpectedValue, resp.Result.RootValue)
	assert.Equal(t, 12, resp.Result.Nodes)
}

func TestServer_RunScenarioInvalid(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodPost, "/v1/scenarios/run", scenario.Spec{Name: "x", Kind: "spiral"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_SPEC", decode[ErrorResponse](t, w).Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/scenarios/run", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", decode[ErrorResponse](t, rec).Code)
}

func TestServer_RateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	s := NewServer(cfg, WithLogger(testLogger()))
	spec := scenario.Spec{Name: "c", Kind: scenario.KindChain, Size: 5}

	first := do(t, s, http.MethodPost, "/v1/scenarios/run", spec)
	assert.Equal(t, http.StatusOK, first.Code)

	second := do(t, s, http.MethodPost, "/v1/scenarios/run", spec)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/v1/health", nil).Code, "health is not limited")

	s.SetRateLimit(1000, 10)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/v1/scenarios/run", spec).Code)
}

func TestServer_History(t *testing.T) {
	store, err := history.Open(history.InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()
	s := newTestServer(t, WithStore(store))

	w := do(t, s, http.MethodPost, "/v1/scenarios/run", scenario.Spec{Name: "h", Kind: scenario.KindChain, Size: 8})
	require.Equal(t, http.StatusOK, w.Code)
	run := decode[RunResponse](t, w)
	assert.True(t, run.Saved)

	w = do(t, s, http.MethodGet, "/v1/runs?kind=chain", nil)
	require.Equal(t, http.StatusOK, w.Code)
	runs := decode[RunsResponse](t, w)
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, run.Result.RunID, runs.Runs[0].RunID)

	w = do(t, s, http.MethodGet, "/v1/runs/"+run.Result.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, run.Result.RootValue, decode[scenario.Result](t, w).RootValue)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/runs/nope", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/runs?limit=x", nil).Code)

	w = do(t, s, http.MethodGet, "/v1/runs?kind=rectangle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[RunsResponse](t, w).Runs)
}

func TestServer_HistoryDisabled(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/v1/runs", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/v1/runs/x", nil).Code)
}

func TestServer_TaskFlow(t *testing.T) {
	var scheduled []tasks.TaskID
	graph := tasks.NewGraph(
		tasks.WithLogger(testLogger()),
		tasks.WithScheduler(tasks.SchedulerFunc(func(_ context.Context, ids []tasks.TaskID) {
			scheduled = append(scheduled, ids...)
		})),
	)
	s := newTestServer(t, WithTaskGraph(graph))

	w := do(t, s, http.MethodPost, "/v1/tasks", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	root := decode[TaskResponse](t, w)
	assert.Equal(t, "dirty", root.Status)
	assert.Empty(t, root.Children)

	child := decode[TaskResponse](t, do(t, s, http.MethodPost, "/v1/tasks", nil))

	w = do(t, s, http.MethodPost, "/v1/tasks/1/children", ConnectRequest{Child: child.ID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []tasks.TaskID{child.ID}, decode[TaskResponse](t, w).Children)

	w = do(t, s, http.MethodPost, "/v1/tasks/2/collectibles", EmitRequest{Trait: "warning", Value: "w1"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, s, http.MethodPut, "/v1/tasks/1/root", RootRequest{RootType: "task"})
	require.Equal(t, http.StatusOK, w.Code)
	agg := decode[AggregateResponse](t, w)
	assert.True(t, agg.Active)
	assert.False(t, agg.Done)
	assert.Equal(t, []tasks.TaskID{root.ID, child.ID}, scheduled)

	w = do(t, s, http.MethodGet, "/v1/tasks/1/collectibles/warning", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]int{"w1": 1}, decode[CollectiblesResponse](t, w).Values)

	for _, id := range []string{"2", "1"} {
		w = do(t, s, http.MethodPut, "/v1/tasks/"+id+"/status", StatusRequest{Status: "done"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "done", decode[TaskResponse](t, w).Status)
	}

	w = do(t, s, http.MethodGet, "/v1/tasks/1/aggregate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	agg = decode[AggregateResponse](t, w)
	assert.True(t, agg.Done)
	assert.Equal(t, 2, agg.Stats.Nodes)

	w = do(t, s, http.MethodDelete, "/v1/tasks/2/collectibles", EmitRequest{Trait: "warning", Value: "w1"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, s, http.MethodDelete, "/v1/tasks/1/children/2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[TaskResponse](t, w).Children)
}

func TestServer_TaskErrors(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPost, "/v1/tasks", nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"bad id", http.MethodGet, "/v1/tasks/abc", nil, http.StatusBadRequest},
		{"zero id", http.MethodGet, "/v1/tasks/0", nil, http.StatusBadRequest},
		{"unknown task", http.MethodGet, "/v1/tasks/42", nil, http.StatusNotFound},
		{"self edge", http.MethodPost, "/v1/tasks/1/children", ConnectRequest{Child: 1}, http.StatusBadRequest},
		{"unknown child", http.MethodPost, "/v1/tasks/1/children", ConnectRequest{Child: 9}, http.StatusNotFound},
		{"missing child", http.MethodPost, "/v1/tasks/1/children", map[string]any{}, http.StatusBadRequest},
		{"not connected", http.MethodDelete, "/v1/tasks/1/children/1", nil, http.StatusNotFound},
		{"bad status", http.MethodPut, "/v1/tasks/1/status", StatusRequest{Status: "paused"}, http.StatusBadRequest},
		{"bad root type", http.MethodPut, "/v1/tasks/1/root", RootRequest{RootType: "forever"}, http.StatusBadRequest},
		{"not emitted", http.MethodDelete, "/v1/tasks/1/collectibles", EmitRequest{Trait: "t", Value: "v"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestServer_Stream(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/scenarios/stream"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(scenario.Spec{Name: "stream", Kind: scenario.KindChain, Size: 10}))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(30*time.Second)))
	var sawProgress bool
	for {
		var msg StreamMessage
		require.NoError(t, ws.ReadJSON(&msg))
		if msg.Type == "progress" {
			sawProgress = true
			continue
		}
		require.Equal(t, "result", msg.Type, msg.Error)
		require.NotNil(t, msg.Result)
		assert.True(t, msg.Result.Consistent)
		break
	}
	assert.True(t, sawProgress, "the final progress frame is never throttled")
}

func TestServer_StreamInvalidSpec(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/scenarios/stream"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(scenario.Spec{Name: "bad", Kind: "spiral"}))
	var msg StreamMessage
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "invalid")
}
