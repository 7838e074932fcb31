package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/aiblox/orchestrator/pkg/protocol"
)

// RequestHandler drives one request to completion against a sink. Implemented
// by the orchestrator.
type RequestHandler interface {
	HandleRequest(rctx *protocol.RequestContext, input protocol.UserInput, sink protocol.EventSink) error
}

// ConnectionManager owns all WebSocket connections in this process. Each
// connection runs one read loop; each rag.request spawns one orchestration
// goroutine whose events are serialized onto the socket by a per-connection
// write lock.
type ConnectionManager struct {
	handler      RequestHandler
	writeTimeout time.Duration

	connections map[string]*Connection
	mu          sync.RWMutex

	logger *slog.Logger
}

// Connection represents a single WebSocket client with its in-flight
// requests.
type Connection struct {
	ID   string
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	// writeMu enforces the single-writer discipline the event ordering
	// contract requires.
	writeMu sync.Mutex

	// active in-flight request contexts, keyed by request_id.
	activeMu sync.Mutex
	active   map[string]*protocol.RequestContext
}

// NewConnectionManager creates a connection manager dispatching to handler.
func NewConnectionManager(handler RequestHandler, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		handler:      handler,
		writeTimeout: writeTimeout,
		connections:  make(map[string]*Connection),
		logger:       slog.With("component", "connection_manager"),
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Called by the WebSocket HTTP handler after upgrade. Blocks until the
// connection closes. On disconnect every in-flight request for the
// connection is cancelled.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:     uuid.New().String(),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]*protocol.RequestContext),
	}

	m.register(c)
	defer m.unregister(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": c.ID,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg protocol.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.logger.Warn("invalid WebSocket message",
				"connection_id", c.ID, "error", err)
			continue
		}
		m.handleClientMessage(c, &msg)
	}
}

func (m *ConnectionManager) handleClientMessage(c *Connection, msg *protocol.ClientMessage) {
	switch msg.Type {
	case protocol.MessageTypeRequest:
		requestID := msg.RequestID
		if requestID == "" {
			requestID = uuid.New().String()
		}

		rctx := protocol.NewRequestContext(c.ctx, requestID)
		if !c.registerRequest(rctx) {
			m.sendJSON(c, map[string]string{
				"type":       "error",
				"request_id": requestID,
				"message":    "request_id already in flight",
			})
			rctx.Cancel()
			return
		}

		sink := &connSink{manager: m, conn: c}
		go func() {
			defer c.unregisterRequest(requestID)
			defer rctx.Cancel()
			if err := m.handler.HandleRequest(rctx, msg.Payload, sink); err != nil {
				m.logger.Warn("request finished with error",
					"connection_id", c.ID, "request_id", requestID, "error", err)
			}
		}()

	case protocol.MessageTypeCancel:
		// Idempotent: unknown or already-finished ids are ignored.
		if rctx, ok := c.lookupRequest(msg.RequestID); ok {
			rctx.Cancel()
		}

	default:
		m.logger.Warn("unknown client message type",
			"connection_id", c.ID, "type", msg.Type)
	}
}

func (m *ConnectionManager) register(c *Connection) {
	m.mu.Lock()
	m.connections[c.ID] = c
	m.mu.Unlock()
	m.logger.Info("WebSocket connected", "connection_id", c.ID)
}

func (m *ConnectionManager) unregister(c *Connection) {
	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	// Disconnect cancels all in-flight requests for this connection.
	c.activeMu.Lock()
	for _, rctx := range c.active {
		rctx.Cancel()
	}
	c.activeMu.Unlock()
	c.cancel()
	m.logger.Info("WebSocket disconnected", "connection_id", c.ID)
}

func (c *Connection) registerRequest(rctx *protocol.RequestContext) bool {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	if _, exists := c.active[rctx.RequestID]; exists {
		return false
	}
	c.active[rctx.RequestID] = rctx
	return true
}

func (c *Connection) unregisterRequest(requestID string) {
	c.activeMu.Lock()
	delete(c.active, requestID)
	c.activeMu.Unlock()
}

func (c *Connection) lookupRequest(requestID string) (*protocol.RequestContext, bool) {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	rctx, ok := c.active[requestID]
	return rctx, ok
}

// sendJSON marshals and sends a message, logging failures.
func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("failed to marshal WebSocket message",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		m.logger.Warn("failed to send WebSocket message",
			"connection_id", c.ID, "error", err)
	}
}

// sendRaw writes bytes to a connection under the per-connection write lock
// with a write timeout.
func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

// connSink adapts a Connection into the orchestrator's event sink.
type connSink struct {
	manager *ConnectionManager
	conn    *Connection
}

// Emit implements protocol.EventSink.
func (s *connSink) Emit(_ context.Context, event *protocol.Envelope) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.manager.sendRaw(s.conn, data)
}
