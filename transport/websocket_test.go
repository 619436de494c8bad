package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, server *httptest.Server, channelID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?channel=" + channelID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForConnections(t *testing.T, hub *WebSocketHub, channelID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ConnectionCount(channelID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("channel %q never reached %d connections", channelID, want)
}

func TestWebSocketHub_SendDeliversJSONFrame(t *testing.T) {
	hub := NewWebSocketHub()
	defer hub.Close()
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dialHub(t, server, "chan-1")
	waitForConnections(t, hub, "chan-1", 1)

	payload := map[string]any{"type": "tool_executing", "run_id": "run-1"}
	require.NoError(t, hub.Send(context.Background(), "chan-1", payload))

	var received map[string]any
	require.NoError(t, conn.ReadJSON(&received))
	assert.Equal(t, "tool_executing", received["type"])
	assert.Equal(t, "run-1", received["run_id"])
}

func TestWebSocketHub_ChannelsAreIsolated(t *testing.T) {
	hub := NewWebSocketHub()
	defer hub.Close()
	server := httptest.NewServer(hub)
	defer server.Close()

	connA := dialHub(t, server, "chan-a")
	connB := dialHub(t, server, "chan-b")
	waitForConnections(t, hub, "chan-a", 1)
	waitForConnections(t, hub, "chan-b", 1)

	require.NoError(t, hub.Send(context.Background(), "chan-a", map[string]any{"type": "progress"}))

	var received map[string]any
	require.NoError(t, connA.ReadJSON(&received))
	assert.Equal(t, "progress", received["type"])

	// chan-b must see nothing.
	_ = connB.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var stray map[string]any
	assert.Error(t, connB.ReadJSON(&stray))
}

func TestWebSocketHub_SendWithoutConnectionsFails(t *testing.T) {
	hub := NewWebSocketHub()
	defer hub.Close()

	err := hub.Send(context.Background(), "chan-empty", map[string]any{"type": "progress"})
	assert.ErrorContains(t, err, "no websocket connections")
}

func TestWebSocketHub_MissingChannelParamRejected(t *testing.T) {
	hub := NewWebSocketHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketHub_DetachOnClientClose(t *testing.T) {
	hub := NewWebSocketHub()
	defer hub.Close()
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dialHub(t, server, "chan-1")
	waitForConnections(t, hub, "chan-1", 1)

	require.NoError(t, conn.Close())
	waitForConnections(t, hub, "chan-1", 0)
}
