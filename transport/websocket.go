package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tetherframe/tether"
)

const defaultWriteTimeout = 10 * time.Second

// WebSocketHub is a tether.Transport that delivers payloads over WebSocket
// connections grouped by channel ID. Clients attach by hitting the hub's
// HTTP handler with a channel query parameter; Send writes the payload as a
// JSON frame to every connection on that channel.
type WebSocketHub struct {
	upgrader     websocket.Upgrader
	logger       *slog.Logger
	writeTimeout time.Duration

	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]struct{}
}

// WebSocketHubOption customizes hub construction.
type WebSocketHubOption func(*WebSocketHub)

// WithHubLogger sets the hub logger.
func WithHubLogger(logger *slog.Logger) WebSocketHubOption {
	return func(h *WebSocketHub) {
		h.logger = logger
	}
}

// WithWriteTimeout sets the per-frame write deadline. Defaults to 10s.
func WithWriteTimeout(d time.Duration) WebSocketHubOption {
	return func(h *WebSocketHub) {
		h.writeTimeout = d
	}
}

// WithCheckOrigin sets the origin check used when upgrading connections.
// Without one, all origins are accepted.
func WithCheckOrigin(check func(r *http.Request) bool) WebSocketHubOption {
	return func(h *WebSocketHub) {
		h.upgrader.CheckOrigin = check
	}
}

// NewWebSocketHub creates an empty hub.
func NewWebSocketHub(opts ...WebSocketHubOption) *WebSocketHub {
	h := &WebSocketHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		writeTimeout: defaultWriteTimeout,
		conns:        make(map[string]map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default().With("component", "websocket_hub")
	}
	return h
}

// ServeHTTP upgrades the request to a WebSocket connection and attaches it to
// the channel named by the "channel" query parameter.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channel")
	if channelID == "" {
		http.Error(w, "missing channel parameter", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "channel_id", channelID, "error", err)
		return
	}
	h.attach(channelID, conn)

	// Reader loop: the hub never expects inbound frames, but reading is
	// what surfaces close frames and dead peers.
	go func() {
		defer h.detach(channelID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *WebSocketHub) attach(channelID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[channelID] == nil {
		h.conns[channelID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[channelID][conn] = struct{}{}
	h.logger.Debug("websocket attached", "channel_id", channelID)
}

func (h *WebSocketHub) detach(channelID string, conn *websocket.Conn) {
	h.mu.Lock()
	if set, ok := h.conns[channelID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, channelID)
		}
	}
	h.mu.Unlock()
	_ = conn.Close()
}

// ConnectionCount returns the number of live connections on a channel.
func (h *WebSocketHub) ConnectionCount(channelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[channelID])
}

// Send writes payload as one JSON frame to every connection attached to
// channelID. Connections that fail the write are dropped. An error is
// returned when no connection received the frame, so the emitter counts the
// event as a failed delivery rather than silently losing it.
func (h *WebSocketHub) Send(ctx context.Context, channelID string, payload map[string]any) error {
	h.mu.RLock()
	targets := make([]*websocket.Conn, 0, len(h.conns[channelID]))
	for conn := range h.conns[channelID] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return fmt.Errorf("transport: no websocket connections on channel %q", channelID)
	}

	deadline := time.Now().Add(h.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	delivered := 0
	for _, conn := range targets {
		_ = conn.SetWriteDeadline(deadline)
		if err := conn.WriteJSON(payload); err != nil {
			h.logger.Warn("websocket write failed; dropping connection",
				"channel_id", channelID, "error", err)
			h.detach(channelID, conn)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("transport: all websocket writes failed on channel %q", channelID)
	}
	return nil
}

// Close closes every connection and empties the hub.
func (h *WebSocketHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channelID, set := range h.conns {
		for conn := range set {
			_ = conn.Close()
		}
		delete(h.conns, channelID)
	}
}

// Compile-time check that WebSocketHub implements tether.Transport.
var _ tether.Transport = (*WebSocketHub)(nil)
