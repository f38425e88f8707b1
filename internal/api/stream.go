package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

// streamCommand is what a client sends to manage its token filter.
type streamCommand struct {
	Action string   `json:"action"` // subscribe | unsubscribe
	Tokens []string `json:"tokens"`
}

type streamClient struct {
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	tokens map[string]struct{} // empty set means all tokens
}

func (c *streamClient) wants(token string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.tokens) == 0 {
		return true
	}
	_, ok := c.tokens[token]
	return ok
}

func (c *streamClient) apply(cmd *streamCommand) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch cmd.Action {
	case "subscribe":
		for _, t := range cmd.Tokens {
			c.tokens[t] = struct{}{}
		}
	case "unsubscribe":
		for _, t := range cmd.Tokens {
			delete(c.tokens, t)
		}
	}
}

// StreamHub fans live quote snapshots out to websocket clients. Slow
// clients are dropped rather than allowed to stall the broadcast.
type StreamHub struct {
	upgrader websocket.Upgrader
	logger   *logrus.Entry

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

// NewStreamHub creates an empty hub.
func NewStreamHub(logger *logrus.Logger) *StreamHub {
	return &StreamHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger.WithField("component", "stream"),
		clients: make(map[*streamClient]struct{}),
	}
}

// ClientCount returns the number of connected clients.
func (h *StreamHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a snapshot to every client whose filter matches.
func (h *StreamHub) Broadcast(snap *models.QuoteSnapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode snapshot")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wants(snap.Token) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			// Buffer full: the write pump will notice the closed
			// channel and tear the connection down.
			go h.remove(client)
		}
	}
}

// HandleWebSocket upgrades the request and runs the client pumps.
func (h *StreamHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := &streamClient{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		tokens: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.WithField("clients", count).Debug("WebSocket client connected")

	go h.writePump(client)
	go h.readPump(client)
}

// Close disconnects every client.
func (h *StreamHub) Close() {
	h.mu.Lock()
	clients := make([]*streamClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*streamClient]struct{})
	h.mu.Unlock()

	for _, client := range clients {
		close(client.send)
		client.conn.Close()
	}
}

func (h *StreamHub) remove(client *streamClient) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()

	if ok {
		client.conn.Close()
	}
}

func (h *StreamHub) readPump(client *streamClient) {
	defer h.remove(client)

	client.conn.SetReadLimit(4096)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd streamCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			h.logger.WithError(err).Debug("Ignoring malformed stream command")
			continue
		}
		client.apply(&cmd)
	}
}

func (h *StreamHub) writePump(client *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(client)
	}()

	for {
		select {
		case payload, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
