package push

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/status"
	"go.uber.org/zap"
)

const (
	sendBuffer   = 64
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	maxReadSize  = 4 * 1024
)

// Frame is the JSON message sent to observers.
type Frame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	TS      int64  `json:"ts"` // unix millis
}

// StatusSource reports the current connection status.
type StatusSource interface {
	GetStatus() status.Status
}

// Hub fans bus events out to WebSocket observers. Each new observer first
// receives the current status.
type Hub struct {
	bus      *bus.Bus
	status   StatusSource
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

// NewHub creates a hub. An empty allowedOrigins accepts any origin.
func NewHub(b *bus.Bus, src StatusSource, logger *zap.Logger, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		bus:     b,
		status:  src,
		logger:  logger,
		clients: make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		},
	}
	return h
}

// Run forwards bus events until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	events, unsub := h.bus.Subscribe("", 256)
	defer unsub()
	for {
		select {
		case evt := <-events:
			h.broadcast(Frame{Event: evt.Kind, Payload: evt.Payload, TS: evt.Timestamp.UnixMilli()})
		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Clients returns the number of connected observers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the observer until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: h.logger,
	}

	h.mu.Lock()
	h.clients[c.id] = c
	c.enqueue(h.encode(Frame{Event: bus.KindStatus, Payload: h.status.GetStatus(), TS: time.Now().UnixMilli()}))
	h.mu.Unlock()
	h.logger.Debug("observer connected", zap.String("client", c.id), zap.String("remote", r.RemoteAddr))

	go c.writePump()
	c.readPump()

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("observer disconnected", zap.String("client", c.id))
}

func (h *Hub) broadcast(f Frame) {
	data := h.encode(f)
	if data == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		c.enqueue(data)
	}
}

func (h *Hub) encode(f Frame) []byte {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Error("encode push frame", zap.String("event", f.Event), zap.Error(err))
		return nil
	}
	return data
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		c.close()
	}
}

// client is one observer connection.
type client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

func (c *client) enqueue(data []byte) {
	if data == nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.logger.Warn("observer too slow, dropping frame", zap.String("client", c.id))
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump discards client frames; it only exists to notice the observer
// leaving and to answer pings.
func (c *client) readPump() {
	c.conn.SetReadLimit(maxReadSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("observer read error", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}
