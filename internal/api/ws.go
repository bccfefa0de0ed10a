package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xtrntr/auctionhouse/internal/models"
)

const writeTimeout = 5 * time.Second

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans auction snapshots out to websocket subscribers.
type Hub struct {
	upgrader websocket.Upgrader
	snapshot func(ctx context.Context) (models.AuctionView, error)
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*wsClient]bool
}

// NewHub returns a hub whose new subscribers first receive snapshot(). A nil
// checkOrigin accepts every origin.
func NewHub(snapshot func(ctx context.Context) (models.AuctionView, error), checkOrigin func(*http.Request) bool, logger *slog.Logger) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		snapshot: snapshot,
		logger:   logger,
		clients:  make(map[*wsClient]bool),
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends view to every subscriber, dropping the ones that fail.
func (h *Hub) Broadcast(view models.AuctionView) {
	data, err := json.Marshal(view)
	if err != nil {
		h.logger.Error("failed to marshal auction view", "error", err)
		return
	}

	h.mu.RLock()
	var failed []*wsClient
	for client := range h.clients {
		if err := client.send(data); err != nil {
			h.logger.Debug("websocket send failed", "error", err)
			failed = append(failed, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range failed {
		h.remove(client)
	}
}

// BroadcastCurrent broadcasts a fresh snapshot.
func (h *Hub) BroadcastCurrent(ctx context.Context) {
	if h.Len() == 0 {
		return
	}
	view, err := h.snapshot(ctx)
	if err != nil {
		h.logger.Error("failed to load auction view", "error", err)
		return
	}
	h.Broadcast(view)
}

func (h *Hub) remove(client *wsClient) {
	h.mu.Lock()
	if h.clients[client] {
		delete(h.clients, client)
		client.conn.Close()
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades the connection and keeps it registered until the peer
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("failed to upgrade connection", "error", err)
		return
	}

	client := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	if view, err := h.snapshot(r.Context()); err == nil {
		if data, err := json.Marshal(view); err == nil {
			client.send(data)
		}
	}

	// Drain reads to notice disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}
