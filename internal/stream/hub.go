// Package stream pushes engine state snapshots to websocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"liquidation-alert-go/infrastructure/logger"
	"liquidation-alert-go/internal/engine"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

// ClientGauge receives the current subscriber count.
type ClientGauge interface {
	SetWSClients(n int)
}

// Envelope is the JSON frame written to subscribers.
type Envelope struct {
	Type string          `json:"type"`
	Data engine.Snapshot `json:"data"`
}

// Client is one websocket subscriber.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans snapshots out to every connected client. The latest frame is
// replayed to new clients so a fresh page renders immediately.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	upgrader websocket.Upgrader
	logger   *logger.Logger
	gauge    ClientGauge

	latestMu sync.RWMutex
	latest   []byte

	clients  atomic.Int64
	stopOnce sync.Once
	shutdown chan struct{}
	done     chan struct{}
}

// NewHub creates a hub and starts its dispatch loop.
func NewHub(log *logger.Logger, gauge ClientGauge) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	h := &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:   log,
		gauge:    gauge,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.done)
	clients := make(map[*Client]struct{})
	for {
		select {
		case c := <-h.register:
			clients[c] = struct{}{}
			h.setCount(len(clients))
			if frame := h.Latest(); frame != nil {
				select {
				case c.send <- frame:
				default:
				}
			}
		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.send)
				h.setCount(len(clients))
			}
		case frame := <-h.broadcast:
			for c := range clients {
				select {
				case c.send <- frame:
				default:
					// drop slow client
					delete(clients, c)
					close(c.send)
				}
			}
			h.setCount(len(clients))
		case <-h.shutdown:
			for c := range clients {
				close(c.send)
			}
			h.setCount(0)
			return
		}
	}
}

func (h *Hub) setCount(n int) {
	h.clients.Store(int64(n))
	if h.gauge != nil {
		h.gauge.SetWSClients(n)
	}
}

// ServeWS upgrades the request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &Client{conn: conn, send: make(chan []byte, sendBuffer), hub: h}
	select {
	case h.register <- c:
	case <-h.shutdown:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// Broadcast queues a raw frame for all clients. It never blocks: when the
// queue is full the frame is dropped, the next snapshot supersedes it.
func (h *Hub) Broadcast(frame []byte) {
	h.latestMu.Lock()
	h.latest = frame
	h.latestMu.Unlock()

	select {
	case h.broadcast <- frame:
	case <-h.shutdown:
	default:
		h.logger.Debug("websocket broadcast queue full, frame dropped")
	}
}

// PublishSnapshot is registered with engine.OnSnapshot.
func (h *Hub) PublishSnapshot(snap engine.Snapshot) {
	frame, err := json.Marshal(Envelope{Type: "state", Data: snap})
	if err != nil {
		h.logger.LogError(err, map[string]interface{}{"action": "encode_snapshot"})
		return
	}
	h.Broadcast(frame)
}

// Latest returns the last broadcast frame, or nil.
func (h *Hub) Latest() []byte {
	h.latestMu.RLock()
	defer h.latestMu.RUnlock()
	return h.latest
}

// Clients returns the number of registered clients.
func (h *Hub) Clients() int {
	return int(h.clients.Load())
}

// Start satisfies the container lifecycle; the loop already runs.
func (h *Hub) Start(context.Context) error {
	return h.Health()
}

// Stop closes every client and ends the dispatch loop.
func (h *Hub) Stop() error {
	h.stopOnce.Do(func() { close(h.shutdown) })
	<-h.done
	return nil
}

// Health reports whether the hub is still dispatching.
func (h *Hub) Health() error {
	select {
	case <-h.done:
		return errors.New("websocket hub stopped")
	default:
		return nil
	}
}

// readPump only services control frames; client payloads are ignored.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
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

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() { ticker.Stop(); c.conn.Close() }()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
