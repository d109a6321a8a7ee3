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
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/aggtree/services/scenario"
)

// progressInterval throttles progress frames per run.
const progressInterval = 100 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsWriter serializes frames. Progress callbacks arrive from worker
// goroutines.
type wsWriter struct {
	mu       sync.Mutex
	ws       *websocket.Conn
	logger   *slog.Logger
	lastSent time.Time
}

func (w *wsWriter) send(msg StreamMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ws.WriteJSON(msg); err != nil {
		w.logger.Warn("failed to write websocket frame", "error", err)
		return err
	}
	return nil
}

func (w *wsWriter) progress(p scenario.Progress) {
	w.mu.Lock()
	now := time.Now()
	if now.Sub(w.lastSent) < progressInterval && p.Done != p.Total {
		w.mu.Unlock()
		return
	}
	w.lastSent = now
	w.mu.Unlock()
	_ = w.send(StreamMessage{Type: "progress", Progress: &p})
}

// handleStream upgrades to a WebSocket, reads one scenario spec, streams
// progress frames while it runs and finishes with a result or error frame.
func (s *Server) handleStream(c *gin.Context) {
	logger := s.logger.With("request_id", getRequestID(c), "handler", "handleStream")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	w := &wsWriter{ws: ws, logger: logger}

	var spec scenario.Spec
	if err := ws.ReadJSON(&spec); err != nil {
		_ = w.send(StreamMessage{Type: "error", Error: "invalid spec: " + err.Error()})
		return
	}

	result, _, err := s.runScenario(c.Request.Context(), spec, w.progress)
	if err != nil {
		_ = w.send(StreamMessage{Type: "error", Error: err.Error()})
		return
	}
	_ = w.send(StreamMessage{Type: "result", Result: result})
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(time.Second))
}
