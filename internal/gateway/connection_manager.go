package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/athleterace/backend/internal/game"
)

// ConnectionManager owns every live WebSocket connection, grouped by the
// session code each connection has joined. It implements game.Broadcaster:
// sessions enqueue events onto a buffered channel and a single fan-out loop
// delivers them, so event emission never blocks a session's lock.
type ConnectionManager struct {
	// Connection pools organized by session code
	sessionConnections map[string]map[*Connection]bool
	mu                 sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcastMessage

	// Hooks installed by the handler before Start.
	onMessage    func(*Connection, []byte)
	onDisconnect func(*Connection)
}

// Connection represents one WebSocket client. Code and username are bound
// when the client joins a session; before that the connection belongs to no
// pool and only direct sends can reach it.
//
// Send is never closed: shutdown closes done instead, which tells the write
// pump to flush whatever is queued and drop the socket. Senders check done
// before enqueueing, so a send can race a shutdown without panicking.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	done      chan struct{}
	closeOnce sync.Once

	ConnectedAt time.Time
	LastPing    time.Time

	mu       sync.Mutex
	code     string
	username string
}

// shutdown signals the write pump to flush queued events and close the
// socket. Idempotent.
func (c *Connection) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// trySend queues data for delivery. Returns false when the connection is
// shutting down or its buffer is full.
func (c *Connection) trySend(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// closing reports whether shutdown has been requested.
func (c *Connection) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// bind records the session identity this connection acts under.
func (c *Connection) bind(code, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code = code
	c.username = username
}

// Identity returns the bound session code and username, empty until the
// connection has joined a session.
func (c *Connection) Identity() (code, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.username
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// broadcastMessage is one unit of work for the fan-out loop. Either Event is
// set (deliver to the matching connections of Code) or CloseConn is set
// (detach that connection after its queued events flush).
type broadcastMessage struct {
	Code        string
	Event       *game.Event
	TargetConn  string
	TargetUser  string
	ExcludeConn string
	ExcludeUser string
	CloseConn   string
}

// NewConnectionManager creates a WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		sessionConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// Start runs the fan-out loop until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket connection and
// starts its pumps. The connection joins a session pool later, via a
// join_session command.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		done:        make(chan struct{}),
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	return connection, nil
}

// attach adds a connection to a session's pool. Call after bind.
func (cm *ConnectionManager) attach(conn *Connection, code string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.sessionConnections[code] == nil {
		cm.sessionConnections[code] = make(map[*Connection]bool)
	}
	cm.sessionConnections[code][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_code", code).
		Int("total_connections", len(cm.sessionConnections[code])).
		Msg("connection attached to session")
}

// detach removes a connection from its session pool and requests its
// shutdown, letting the write pump flush queued events first. Safe to call
// more than once; onDisconnect fires only on the first removal.
func (cm *ConnectionManager) detach(conn *Connection) {
	code, _ := conn.Identity()

	cm.mu.Lock()
	removed := false
	if connections, exists := cm.sessionConnections[code]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			conn.shutdown()
			removed = true

			if len(connections) == 0 {
				delete(cm.sessionConnections, code)
			}
		}
	}
	cm.mu.Unlock()

	if removed {
		log.Info().
			Str("connection_id", conn.ID).
			Str("session_code", code).
			Msg("connection detached")
		if cm.onDisconnect != nil {
			cm.onDisconnect(conn)
		}
	}
}

// BroadcastToSession sends an event to every connection in a session.
func (cm *ConnectionManager) BroadcastToSession(code string, event *game.Event) {
	cm.enqueue(broadcastMessage{Code: code, Event: event})
}

// BroadcastExceptConnection sends to all of a session except one connection.
func (cm *ConnectionManager) BroadcastExceptConnection(code, connectionID string, event *game.Event) {
	cm.enqueue(broadcastMessage{Code: code, Event: event, ExcludeConn: connectionID})
}

// BroadcastExceptUser sends to all of a session except one user's connections.
func (cm *ConnectionManager) BroadcastExceptUser(code, username string, event *game.Event) {
	cm.enqueue(broadcastMessage{Code: code, Event: event, ExcludeUser: username})
}

// SendToUser sends to every connection a user has open in a session.
func (cm *ConnectionManager) SendToUser(code, username string, event *game.Event) {
	cm.enqueue(broadcastMessage{Code: code, Event: event, TargetUser: username})
}

// SendToConnection sends to a single connection in a session.
func (cm *ConnectionManager) SendToConnection(code, connectionID string, event *game.Event) {
	cm.enqueue(broadcastMessage{Code: code, Event: event, TargetConn: connectionID})
}

// CloseConnection detaches a session connection through the fan-out queue,
// so events enqueued before the close still reach the client first.
func (cm *ConnectionManager) CloseConnection(code, connectionID string) {
	cm.enqueue(broadcastMessage{Code: code, CloseConn: connectionID})
}

func (cm *ConnectionManager) enqueue(message broadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		log.Warn().Str("session_code", message.Code).Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast processes one fan-out unit.
func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.sessionConnections[message.Code]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	// Snapshot the targets to avoid holding the lock during delivery.
	var targets []*Connection
	for conn := range connections {
		_, username := conn.Identity()
		switch {
		case message.CloseConn != "" && conn.ID != message.CloseConn:
		case message.TargetConn != "" && conn.ID != message.TargetConn:
		case message.TargetUser != "" && username != message.TargetUser:
		case message.ExcludeConn != "" && conn.ID == message.ExcludeConn:
		case message.ExcludeUser != "" && username == message.ExcludeUser:
		default:
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	if message.CloseConn != "" {
		for _, conn := range targets {
			cm.detach(conn)
		}
		return
	}

	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		if conn.trySend(eventData) || conn.closing() {
			continue
		}
		// Connection is slow/dead, close it
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.detach(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("session_code", message.Code).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// sendDirect delivers an event to one connection without going through the
// session pools. Used for errors before the connection has joined a session.
func (cm *ConnectionManager) sendDirect(conn *Connection, event *game.Event) {
	eventData, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal direct event")
		return
	}
	if !conn.trySend(eventData) {
		log.Warn().Str("connection_id", conn.ID).Msg("send buffer full, dropping direct event")
	}
}

// Stats summarizes the live connection pools.
func (cm *ConnectionManager) Stats() (totalConnections, activeSessions int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, connections := range cm.sessionConnections {
		totalConnections += len(connections)
	}
	return totalConnections, len(cm.sessionConnections)
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				c.Manager.detach(c)
				return
			}

		case <-c.done:
			// Flush what was queued before the shutdown request.
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			for {
				select {
				case message := <-c.Send:
					if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
						return
					}
				default:
					c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				c.Manager.detach(c)
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.detach(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if c.Manager.onMessage != nil {
			c.Manager.onMessage(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
