// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// upgrader configures the websocket handshake the same way the teacher's
// chat endpoint did: permissive CheckOrigin (the engine sits behind an
// API gateway that already enforces origin policy) and generous buffers,
// since a single `query` message can carry a large result page.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1 * 1024 * 1024,
	WriteBufferSize: 1 * 1024 * 1024,
}

// wsSender adapts a *websocket.Conn to pubsub.Sender. Writes are
// serialized with a mutex so concurrent Send calls from the pub/sub
// fan-out never interleave on the connection; the same mutex guards the
// closed flag this handler's read loop sets on disconnect. The read loop
// itself never writes to the connection.
type wsSender struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (s *wsSender) Send(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.closed = true
		return err
	}
	return nil
}

func (s *wsSender) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *wsSender) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// inboundMessage is the one client->server shape this connection accepts:
// a request to cancel a Logical Query this connection's user started
// earlier (spec.md §5's "client-initiated cancel"); ownership is checked by
// user only, the room is not compared. Everything else
// about a query's lifecycle is driven through POST /query and the
// Pub/Sub Listener & Fan-out (spec.md §4.7); the websocket itself is
// otherwise receive-only from the client's perspective.
type inboundMessage struct {
	Action string `json:"action"`
	Job    string `json:"job"`
}

// NewQueryWebSocketHandler builds the GET /ws upgrade handler: it
// registers the new connection with deps.Registry under the room/user
// the query string names, so the Pub/Sub Listener & Fan-out can reach it
// with `query`, `sentences`, `meta` and the other server->client actions
// spec.md §6 lists, and tears the registration down again on disconnect.
func NewQueryWebSocketHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		room := c.Query("room")
		user := c.Query("user")
		if room == "" || user == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "room and user query parameters are required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		connID := uuid.NewString()
		sender := &wsSender{conn: conn}
		deps.Registry.Register(room, connID, user, sender)
		defer deps.Registry.Unregister(room, connID)
		slog.Info("websocket client connected", "room", room, "user", user, "conn", connID)

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				sender.markClosed()
				slog.Info("websocket client disconnected", "room", room, "conn", connID, "error", err)
				return
			}

			var msg inboundMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			if msg.Action != "cancel" || msg.Job == "" {
				continue
			}

			if err := cancelLogicalQuery(c.Request.Context(), deps, msg.Job, user); err != nil {
				slog.Warn("websocket cancel request failed", "job", msg.Job, "user", user, "error", err)
			}
		}
	}
}
