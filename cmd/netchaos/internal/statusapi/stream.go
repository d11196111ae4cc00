// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package statusapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// DefaultStreamInterval is how often a stream looks for a changed
	// snapshot.
	DefaultStreamInterval = time.Second

	streamWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	// Dashboards on other origins read the stream; it carries no secrets.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamOptions configures StreamExperiment.
type StreamOptions struct {
	// Interval defaults to DefaultStreamInterval.
	Interval time.Duration

	// Stop ends every open stream with a going-away close frame. Nil never
	// stops.
	Stop <-chan struct{}

	Logger *slog.Logger
}

// StreamExperiment upgrades the request to a WebSocket and sends the
// snapshot of the current experiment as a JSON text message whenever it
// changes: a new run, a phase change or a unit changing status. Nothing is
// sent before the first run starts.
func StreamExperiment(src Source, opts StreamOptions) gin.HandlerFunc {
	if opts.Interval <= 0 {
		opts.Interval = DefaultStreamInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("stream upgrade failed", "error", err)
			return
		}
		defer ws.Close()
		logger.Debug("stream client connected", "remote", c.Request.RemoteAddr)

		// Reading is only needed to notice the client leaving.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()

		var last []byte
		for {
			if out := src.Snapshot(); out != nil {
				msg, err := json.Marshal(out)
				if err != nil {
					logger.Error("encode snapshot", "error", err)
					return
				}
				if !bytes.Equal(msg, last) {
					_ = ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
					if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
						logger.Debug("stream client dropped", "error", err)
						return
					}
					last = msg
				}
			}

			select {
			case <-ticker.C:
			case <-gone:
				logger.Debug("stream client disconnected", "remote", c.Request.RemoteAddr)
				return
			case <-opts.Stop:
				closing := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
				_ = ws.WriteControl(websocket.CloseMessage, closing, time.Now().Add(time.Second))
				return
			}
		}
	}
}
