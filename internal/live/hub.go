// Package live pushes scan decisions to dashboards over WebSockets.
package live

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"qrattendance/internal/attendance"
)

// Update is one pushed decision.
type Update struct {
	DeviceID string              `json:"device_id"`
	Message  string              `json:"message"`
	Decision attendance.Decision `json:"result"`
	At       time.Time           `json:"at"`
}

// Hub tracks dashboard connections.
type Hub struct {
	mu           sync.RWMutex
	clients      map[string]*client
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *zap.Logger
}

// NewHub builds a hub.
func NewHub(writeTimeout, pingInterval time.Duration, logger *zap.Logger) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:      make(map[string]*client),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Len returns the number of connected dashboards.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify matches scanner.Listener and broadcasts the decision.
func (h *Hub) Notify(deviceID string, d attendance.Decision) {
	h.Broadcast(Update{DeviceID: deviceID, Message: d.Message(), Decision: d, At: time.Now().UTC()})
}

// Broadcast sends u to every client subscribed to its section. Slow clients drop messages.
func (h *Hub) Broadcast(u Update) {
	raw, err := json.Marshal(u)
	if err != nil {
		h.logger.Error("encode live update", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.sectionID != "" && c.sectionID != u.Decision.SectionID {
			continue
		}
		select {
		case c.send <- raw:
		default:
			h.logger.Warn("dropping live update, buffer full", zap.String("client_id", c.id))
		}
	}
}

// ServeHTTP upgrades the request. The optional section_id query narrows the feed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		id:        uuid.NewString(),
		sectionID: r.URL.Query().Get("section_id"),
		ws:        conn,
		send:      make(chan []byte, 16),
		done:      make(chan struct{}),
		hub:       h,
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Info("dashboard connected", zap.String("client_id", c.id), zap.String("section_id", c.sectionID))

	go c.writePump()
	c.readPump()
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

type client struct {
	id        string
	sectionID string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	hub       *Hub
}

// readPump discards inbound frames and returns when the peer goes away.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c.id)
		close(c.done)
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(4096)
	_ = c.ws.SetReadDeadline(time.Now().Add(2 * c.hub.pingInterval))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(2 * c.hub.pingInterval))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}
