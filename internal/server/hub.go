package server

import (
	"log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/trailmark/markers/pkg/core"
	"github.com/trailmark/markers/pkg/streaming"
)

const (
	sendChSize = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// client is a single viewer connection with its own write goroutine.
type client struct {
	id     uint64
	conn   *ws.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

// close signals the write loop, which closes the socket on exit.
func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub pushes every pipeline and permission event to connected viewers.
// It implements events.Observer.
type Hub struct {
	mu      sync.Mutex
	clients map[uint64]*client
	nextID  uint64
	closed  bool

	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[uint64]*client),
		logger:  logger,
	}
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Serve registers conn and blocks until the viewer disconnects or the hub
// is closed. snapshot runs after registration with the hub locked, so its
// messages reach the viewer before any event broadcast after it.
func (h *Hub) Serve(conn *ws.Conn, snapshot func() [][]byte) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}

	h.nextID++
	c := &client{
		id:     h.nextID,
		conn:   conn,
		sendCh: make(chan []byte, sendChSize),
		done:   make(chan struct{}),
	}
	h.clients[c.id] = c
	h.wg.Add(1)
	if snapshot != nil {
		for _, msg := range snapshot() {
			h.enqueue(c, msg)
		}
	}
	h.mu.Unlock()

	h.logger.Info("viewer connected", "client", c.id, "remote", conn.RemoteAddr().String())

	go h.writeLoop(c)
	h.readLoop(c)
	h.remove(c)
}

// Close disconnects every viewer and waits for their loops to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.wg.Wait()
}

func (h *Hub) OnTrackingStarted(at core.Coordinate) {
	h.broadcast(streaming.TypeTrackingStarted, streaming.TrackingStartedPayload{Location: at})
}

func (h *Hub) OnMarkersChanged(markers []core.Marker) {
	h.broadcast(streaming.TypeMarkersChanged, streaming.MarkersChangedPayload{Markers: markers})
}

func (h *Hub) OnAuthorizationChanged(state core.AuthorizationState) {
	h.broadcast(streaming.TypeAuthorizationChanged, streaming.AuthorizationChangedPayload{State: state})
}

func (h *Hub) broadcast(msgType string, payload any) {
	data, err := streaming.Encode(msgType, payload)
	if err != nil {
		h.logger.Error("failed to encode event", "type", msgType, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		h.enqueue(c, data)
	}
}

// enqueue never blocks; a viewer that cannot keep up is disconnected.
func (h *Hub) enqueue(c *client, data []byte) {
	select {
	case c.sendCh <- data:
	default:
		h.logger.Warn("viewer send buffer full, disconnecting", "client", c.id)
		c.close()
	}
}

func (h *Hub) remove(c *client) {
	c.close()
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		h.wg.Done()
	}
	h.mu.Unlock()
	h.logger.Info("viewer disconnected", "client", c.id)
}

// writeLoop drains sendCh and writes messages to the socket. It is the
// only writer for c.conn.
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case data := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				h.logger.Warn("WebSocket SetWriteDeadline error", "client", c.id, "error", err)
				c.close()
				return
			}
			if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
				h.logger.Warn("WebSocket write error", "client", c.id, "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(ws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}

// readLoop discards viewer messages; it exists to process control frames
// and notice disconnects.
func (h *Hub) readLoop(c *client) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				h.logger.Debug("WebSocket read error", "client", c.id, "error", err)
			}
			return
		}
	}
}
