package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/logging"
	"github.com/conneroisu/weft/internal/metrics"
	"github.com/conneroisu/weft/internal/validation"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period. A ping unanswered within
	// writeWait drops the client.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// Message types sent to reload clients.
const (
	MessageReload = "reload"
	MessageError  = "error"
)

// Message is the JSON document pushed to reload clients.
type Message struct {
	Type       string          `json:"type"`
	Generation uint64          `json:"generation"`
	Errors     []errors.Report `json:"errors,omitempty"`
}

// Client represents a WebSocket client
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub tracks connected reload clients and fans out messages to them.
type Hub struct {
	clients        map[*websocket.Conn]*Client
	clientsMutex   sync.RWMutex
	broadcast      chan []byte
	register       chan *Client
	unregister     chan *websocket.Conn
	done           chan struct{}
	ctx            context.Context
	cancel         context.CancelFunc
	allowedOrigins []string
	metrics        metrics.Recorder
	logger         logging.Logger
}

// NewHub creates a hub accepting websocket origins allowed by
// validation.ValidateOrigin.
func NewHub(allowedOrigins []string, rec metrics.Recorder, logger logging.Logger) *Hub {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:        make(map[*websocket.Conn]*Client),
		broadcast:      make(chan []byte, 16),
		register:       make(chan *Client),
		unregister:     make(chan *websocket.Conn),
		done:           make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
		allowedOrigins: allowedOrigins,
		metrics:        rec,
		logger:         logger.WithComponent("websocket"),
	}
}

// ServeHTTP upgrades the request to a reload client connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := validation.ValidateOrigin(r.Header.Get("Origin"), h.allowedOrigins); err != nil {
		h.logger.Warn(r.Context(), err, "Rejected websocket origin", "origin", r.Header.Get("Origin"))
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The origin was checked above against the configured allow list.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade error")
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	go client.writePump()
	client.readPump()
}

// Run services registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clientsMutex.Lock()
			h.clients[client.conn] = client
			count := len(h.clients)
			h.clientsMutex.Unlock()
			h.metrics.SetClients(count)
			h.logger.Debug(ctx, "Client connected", "clients", count)

		case conn := <-h.unregister:
			h.remove(conn)

		case message := <-h.broadcast:
			h.clientsMutex.RLock()
			var failed []*websocket.Conn
			for conn, client := range h.clients {
				select {
				case client.send <- message:
				default:
					failed = append(failed, conn)
				}
			}
			h.clientsMutex.RUnlock()

			for _, conn := range failed {
				h.remove(conn)
			}
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.clientsMutex.Lock()
	client, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		close(client.send)
	}
	count := len(h.clients)
	h.clientsMutex.Unlock()

	if ok {
		conn.Close(websocket.StatusNormalClosure, "")
		h.metrics.SetClients(count)
		h.logger.Debug(context.Background(), "Client disconnected", "clients", count)
	}
}

func (h *Hub) closeAll() {
	close(h.done)
	h.cancel()
	h.clientsMutex.Lock()
	for conn, client := range h.clients {
		close(client.send)
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	h.clients = make(map[*websocket.Conn]*Client)
	h.clientsMutex.Unlock()
	h.metrics.SetClients(0)
}

// Broadcast queues msg for every connected client. It never blocks: when the
// queue is full the message is dropped, a later generation supersedes it.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error(context.Background(), err, "Failed to marshal message")
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		h.logger.Warn(context.Background(), nil, "Broadcast queue full, dropping message", "type", msg.Type)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// readPump drains client frames so control frames are processed, until the
// connection closes.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c.conn:
		case <-c.hub.done:
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		if _, _, err := c.conn.Read(c.hub.ctx); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				c.hub.logger.Debug(context.Background(), "WebSocket read ended", "error", err.Error())
			}
			return
		}
	}
}

// writePump pumps messages to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.hub.logger.Debug(context.Background(), "WebSocket write error", "error", err.Error())
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
