// Package notify delivers user-visible notices, the server side equivalent of toasts
// and the foreground service notification.
package notify

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"gitlab.com/dirk.krummacker/sos-service/internal/model"
)

// Notifier shows a notice to a user.
type Notifier interface {
	Notify(userId string, notice model.Notice)
}

// Hub fans notices out to the websocket connections of each user and logs every
// notice. Notify never blocks; a client whose buffer is full is dropped.
type Hub struct {
	log            zerolog.Logger
	allowedOrigins []string
	upgrader       websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*client]bool
}

type client struct {
	hub    *Hub
	userId string
	conn   *websocket.Conn
	send   chan []byte
}

// NewHub creates a hub. An allowed origin of "*" accepts every origin.
func NewHub(log zerolog.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		log:            log,
		allowedOrigins: allowedOrigins,
		clients:        make(map[string]map[*client]bool),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), h.allowedOrigins)
		},
	}
	return h
}

// Notify implements Notifier.
func (h *Hub) Notify(userId string, notice model.Notice) {
	if notice.Timestamp.IsZero() {
		notice.Timestamp = time.Now()
	}
	event := h.log.Info()
	if notice.Kind == model.NoticeError {
		event = h.log.Warn()
	}
	event.Str("user", userId).Str("kind", string(notice.Kind)).Msg(notice.Message)

	msg, err := json.Marshal(notice)
	if err != nil {
		h.log.Error().Err(err).Msg("could not marshal notice")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[userId] {
		select {
		case c.send <- msg:
		default:
			h.removeLocked(c)
		}
	}
}

// Connections returns the number of open connections of a user.
func (h *Hub) Connections(userId string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userId])
}

// Serve upgrades the request to a websocket that receives the user's notices until the
// peer disconnects.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userId string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{hub: h, userId: userId, conn: conn, send: make(chan []byte, 256)}
	h.mu.Lock()
	if h.clients[userId] == nil {
		h.clients[userId] = make(map[*client]bool)
	}
	h.clients[userId][c] = true
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
	return nil
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	clients, ok := h.clients[c.userId]
	if !ok || !clients[c] {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.clients, c.userId)
	}
}

// readPump discards incoming frames and detects the peer going away.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
