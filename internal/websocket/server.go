// Package websocket streams fusion store snapshots to connected consumers.
// The display (or any other subscriber) opens one socket and receives an
// aircraft_update message after every table change.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/yegors/ads-bby/internal/tracker"
	"github.com/yegors/ads-bby/pkg/logger"
)

// Message types pushed to clients
const (
	MessageTypeAircraftUpdate = "aircraft_update"
	MessageTypeInitialState   = "initial_state"
)

// Message is one WebSocket frame
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// SnapshotFunc supplies the current table for a newly connected client
type SnapshotFunc func() []tracker.AircraftRecord

// Client is one connected consumer
type Client struct {
	conn   *websocket.Conn
	send   chan *Message
	server *Server
	mu     sync.Mutex
	closed bool
}

// Server is the WebSocket hub: it tracks connected clients and fans
// broadcast messages out to them
type Server struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	upgrader   websocket.Upgrader
	snapshot   SnapshotFunc
	logger     *logger.Logger
	mu         sync.RWMutex
}

// NewServer creates a WebSocket hub. snapshot may be nil; clients then get
// no initial state message.
func NewServer(snapshot SnapshotFunc, log *logger.Logger) *Server {
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 16),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local consumer, all origins allowed
			},
		},
		snapshot: snapshot,
		logger:   log.Named("websocket"),
	}
}

// Run processes register/unregister/broadcast events until ctx is done
func (s *Server) Run(ctx context.Context) {
	s.logger.Info("WebSocket hub started")

	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			count := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client registered", logger.Int("client_count", count))

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.close()
			}
			count := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client unregistered", logger.Int("client_count", count))

		case message := <-s.broadcast:
			s.deliver(message)
		}
	}
}

// deliver fans one message out to every client; clients with a full send
// buffer are dropped rather than allowed to stall the hub
func (s *Server) deliver(message *Message) {
	var stalled []*Client

	s.mu.RLock()
	for client := range s.clients {
		select {
		case client.send <- message:
		default:
			stalled = append(stalled, client)
		}
	}
	s.mu.RUnlock()

	if len(stalled) == 0 {
		return
	}
	s.mu.Lock()
	for _, client := range stalled {
		if _, ok := s.clients[client]; ok {
			delete(s.clients, client)
			client.close()
			s.logger.Warn("Dropped stalled WebSocket client")
		}
	}
	s.mu.Unlock()
}

// closeAll disconnects every client during shutdown
func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		delete(s.clients, client)
		client.close()
	}
}

// Broadcast queues a message for all connected clients
func (s *Server) Broadcast(message *Message) {
	select {
	case s.broadcast <- message:
	default:
		s.logger.Warn("Broadcast queue full, dropping message",
			logger.String("message_type", message.Type))
	}
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// HandleConnection upgrades an HTTP request and starts the client pumps
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			logger.Error(err),
			logger.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan *Message, 256),
		server: s,
	}

	// Seed the new client with the current table before live updates
	if s.snapshot != nil {
		client.send <- snapshotMessage(MessageTypeInitialState, s.snapshot())
	}

	s.register <- client
	go client.readPump()
	go client.writePump()
}

// OnAircraftUpdated implements tracker.Observer: every table change becomes
// one aircraft_update broadcast
func (s *Server) OnAircraftUpdated(records []tracker.AircraftRecord) {
	s.Broadcast(snapshotMessage(MessageTypeAircraftUpdate, records))
}

func snapshotMessage(msgType string, records []tracker.AircraftRecord) *Message {
	return &Message{
		Type: msgType,
		Data: map[string]any{
			"count":    len(records),
			"aircraft": records,
		},
	}
}

// close marks the client closed and releases its send channel. Callers hold
// the server mutex; the client mutex orders this against the write pump.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump drains (and discards) client frames so pings and close frames
// are processed; this stream is push-only
func (c *Client) readPump() {
	defer func() {
		c.server.unregister <- c
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.server.logger.Debug("WebSocket read error", logger.Error(err))
			}
			return
		}
	}
}

// writePump serializes queued messages onto the connection
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		data, err := json.Marshal(message)
		if err != nil {
			c.server.logger.Error("Failed to marshal message", logger.Error(err))
			continue
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	// Channel closed by the hub
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
