package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questline/core"
	"questline/realtime"
)

func dial(t *testing.T, server *httptest.Server, query string) *gorillaws.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + query
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, hub *realtime.Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Subscribers() == n }, time.Second, 5*time.Millisecond)
}

func TestHandlerStreamsEvents(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub))
	defer server.Close()

	conn := dial(t, server, "")
	waitForSubscribers(t, hub, 1)

	hub.Broadcast(context.Background(), core.NewXPGained(time.Now(), "alice", 5, 5))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var received core.Event
	require.NoError(t, json.Unmarshal(msg, &received))
	assert.Equal(t, core.UserID("alice"), received.UserID)
	assert.Equal(t, int64(5), received.Delta)
}

func TestHandlerFiltersByUser(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub))
	defer server.Close()

	conn := dial(t, server, "?user=Alice")
	waitForSubscribers(t, hub, 1)

	hub.Broadcast(context.Background(), core.NewLevelUp(time.Now(), "bob", 2))
	hub.Broadcast(context.Background(), core.NewLevelUp(time.Now(), "alice", 4))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var received core.Event
	require.NoError(t, json.Unmarshal(msg, &received))
	assert.Equal(t, core.UserID("alice"), received.UserID)
	assert.Equal(t, int64(4), received.Level)
}

func TestHandlerRequiresUpgrade(t *testing.T) {
	hub := realtime.NewHub()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws?user=alice", nil)
	Handler(hub).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, hub.Subscribers())
}

func TestHandlerUnsubscribesOnClose(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub))
	defer server.Close()

	conn := dial(t, server, "")
	waitForSubscribers(t, hub, 1)
	require.NoError(t, conn.Close())
	waitForSubscribers(t, hub, 0)
}
