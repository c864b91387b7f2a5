package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub keeps the open WebSocket connections of each user.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]map[*client]struct{}
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		conns: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origin policy is enforced by the edge proxy
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log.With(zap.String("component", "ws_hub")),
	}
}

// ServeWS upgrades the request and joins the caller's room. The caller id is
// set by the authentication layer in front of this service.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		http.Error(w, "missing caller", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("ws_upgrade_failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.join(userID, c)
	h.log.Info("ws_joined", zap.String("user_id", userID))

	go h.writePump(c)
	h.readPump(userID, c)
}

func (h *Hub) join(userID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.conns[userID]
	if !ok {
		room = make(map[*client]struct{})
		h.conns[userID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) leave(userID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.conns[userID]
	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)
	close(c.send)
	if len(room) == 0 {
		delete(h.conns, userID)
	}
}

// readPump only keeps the connection alive; clients never send commands.
func (h *Hub) readPump(userID string, c *client) {
	defer func() {
		h.leave(userID, c)
		_ = c.conn.Close()
		h.log.Info("ws_left", zap.String("user_id", userID))
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) Push(userID string, m Message) {
	h.broadcast(userID, frame{Event: "notification", Data: m})
}

func (h *Hub) PushDeliveryUpdate(userID string, u DeliveryUpdate) {
	h.broadcast(userID, frame{Event: "deliveryUpdate", Data: u})
}

func (h *Hub) broadcast(userID string, f frame) {
	b, err := json.Marshal(f)
	if err != nil {
		h.log.Error("ws_encode_failed", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[userID] {
		select {
		case c.send <- b:
		default:
			h.log.Warn("ws_send_buffer_full", zap.String("user_id", userID), zap.String("event", f.Event))
		}
	}
}

// Connected returns the number of open connections of a user.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}
