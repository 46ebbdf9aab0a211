// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the websocket connection handler

package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bambooforest/qiengine/services/engine/datatypes"
	"github.com/bambooforest/qiengine/services/engine/pubsub"
	"github.com/bambooforest/qiengine/services/engine/querystate"
)

func TestWebSocket_MissingRoomOrUserRejected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps, _ := newTestDeps(t)
	deps.Registry = pubsub.NewRegistry()

	router := gin.New()
	router.GET("/ws", NewQueryWebSocketHandler(deps))
	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocket_RegistersAndUnregistersOnClose(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps, _ := newTestDeps(t)
	deps.Registry = pubsub.NewRegistry()

	router := gin.New()
	router.GET("/ws", NewQueryWebSocketHandler(deps))
	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?room=room1&user=alice"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return deps.Registry.Count() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return deps.Registry.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestWebSocket_InboundCancelCancelsLogicalQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps, rt := newTestDeps(t)
	deps.Registry = pubsub.NewRegistry()
	deps.States.Put("lq1", &querystate.Entry{
		LQ:          &datatypes.LogicalQuery{User: "alice"},
		NonTerminal: []string{"job-1"},
	})

	router := gin.New()
	router.GET("/ws", NewQueryWebSocketHandler(deps))
	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?room=room1&user=alice"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(inboundMessage{Action: "cancel", Job: "lq1"}))

	assert.Eventually(t, func() bool {
		_, ok := deps.States.Get("lq1")
		return !ok
	}, time.Second, 10*time.Millisecond)

	assert.Contains(t, rt.canceled, "job-1")
}

func TestWSSender_SendAfterCloseErrors(t *testing.T) {
	s := &wsSender{}
	s.markClosed()
	assert.True(t, s.Closed())
	err := s.Send(context.Background(), []byte("{}"))
	assert.ErrorIs(t, err, websocket.ErrCloseSent)
}
