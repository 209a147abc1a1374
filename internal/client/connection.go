package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/realtimeapp/internal/models"
)

var (
	// ErrNotConnected is returned when emitting on a closed connection
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected is returned by Connect while a connection is open or being dialed
	ErrAlreadyConnected = errors.New("already connected")
)

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Connection is a real-time client. Events received from the server are
// buffered until read with Received or WaitFor.
type Connection struct {
	URL              string
	AuthToken        string
	Origin           string
	conn             *websocket.Conn
	state            ConnectionState
	stateMutex       sync.RWMutex
	writeMutex       sync.Mutex
	logger           zerolog.Logger
	handshakeTimeout time.Duration
	received         *EventBuffer
	doneChan         chan struct{}
}

// ConnectionConfig holds configuration for the connection
type ConnectionConfig struct {
	URL              string // e.g. ws://localhost:8081/socket
	AuthToken        string
	Origin           string
	HandshakeTimeout time.Duration // default: 10s
	BufferSize       int           // received events kept (default: 1000)
	DropNewest       bool          // when the buffer is full, drop incoming events instead of the oldest
}

// NewConnection creates a new connection manager
func NewConnection(config ConnectionConfig, logger zerolog.Logger) *Connection {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	return &Connection{
		URL:              config.URL,
		AuthToken:        config.AuthToken,
		Origin:           config.Origin,
		state:            StateDisconnected,
		logger:           logger,
		handshakeTimeout: config.HandshakeTimeout,
		received:         NewEventBuffer(config.BufferSize, !config.DropNewest),
		doneChan:         make(chan struct{}),
	}
}

// setState safely updates the connection state
func (c *Connection) setState(state ConnectionState) {
	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()
	c.state = state
	c.logger.Debug().Str("state", state.String()).Msg("Connection state updated")
}

// State returns the current connection state
func (c *Connection) State() ConnectionState {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.state
}

// IsConnected returns true if currently connected
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect establishes the WebSocket connection and starts reading events.
// It fails with ErrAlreadyConnected unless the connection is disconnected.
func (c *Connection) Connect(ctx context.Context) error {
	c.stateMutex.Lock()
	if c.state != StateDisconnected {
		c.stateMutex.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.stateMutex.Unlock()
	c.logger.Info().Str("url", c.URL).Msg("Connecting to server...")

	dialer := websocket.Dialer{
		HandshakeTimeout: c.handshakeTimeout,
	}

	header := http.Header{}
	if c.AuthToken != "" {
		header.Set("Authorization", "Bearer "+c.AuthToken)
	}
	if c.Origin != "" {
		header.Set("Origin", c.Origin)
	}

	conn, resp, err := dialer.DialContext(ctx, c.URL, header)
	if err != nil {
		c.setState(StateDisconnected)
		if resp != nil {
			return fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial failed: %w", err)
	}
	defer resp.Body.Close()

	done := make(chan struct{})
	c.stateMutex.Lock()
	c.conn = conn
	c.doneChan = done
	c.state = StateConnected
	c.stateMutex.Unlock()
	c.logger.Info().Msg("Connected to server")

	go c.readLoop(conn, done)
	return nil
}

// Join connects to a namespace; the server answers with a "connected" event
func (c *Connection) Join(namespace string) error {
	return c.Emit(namespace, models.EventConnect)
}

// Leave disconnects from a namespace
func (c *Connection) Leave(namespace string) error {
	return c.Emit(namespace, models.EventDisconnect)
}

// Ping asks the server for a pong on namespace
func (c *Connection) Ping(namespace string) error {
	return c.Emit(namespace, models.EventPing)
}

// SendReading submits a reading for storage
func (c *Connection) SendReading(namespace string, reading *models.SensorReading) error {
	return c.Emit(namespace, models.EventReading, reading)
}

// Emit sends an event with JSON-encoded args
func (c *Connection) Emit(namespace, name string, args ...interface{}) error {
	c.stateMutex.RLock()
	conn, state := c.conn, c.state
	c.stateMutex.RUnlock()
	if state != StateConnected {
		return ErrNotConnected
	}
	ev, err := models.NewEvent(namespace, name, args...)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(ev)
}

// Received removes and returns the buffered events for namespace in arrival order.
// An empty namespace returns events for every namespace.
func (c *Connection) Received(namespace string) []models.Event {
	return c.received.Drain(namespace)
}

// WaitFor blocks until at least n events are buffered for namespace, then drains them
func (c *Connection) WaitFor(ctx context.Context, namespace string, n int) ([]models.Event, error) {
	done := c.Done()
	for {
		wait := c.received.waitChan()
		if c.received.Count(namespace) >= n {
			return c.received.Drain(namespace), nil
		}
		select {
		case <-wait:
		case <-done:
			if c.received.Count(namespace) >= n {
				return c.received.Drain(namespace), nil
			}
			return nil, ErrNotConnected
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Pending returns the number of received events not yet read
func (c *Connection) Pending() int {
	return c.received.Size()
}

// BufferStats returns statistics of the received-event buffer
func (c *Connection) BufferStats() BufferStats {
	return c.received.Stats()
}

// Done is closed when the read loop of the current connection stops
func (c *Connection) Done() <-chan struct{} {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.doneChan
}

// readLoop buffers events from the server until the connection fails
func (c *Connection) readLoop(conn *websocket.Conn, done chan struct{}) {
	c.logger.Debug().Msg("Starting read loop")
	defer c.logger.Debug().Msg("Read loop stopped")
	defer close(done)
	defer c.disconnected(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("Read error")
			}
			return
		}

		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to decode event")
			continue
		}
		c.handleEvent(ev)
	}
}

// handleEvent logs and buffers an event received from the server
func (c *Connection) handleEvent(ev models.Event) {
	c.logger.Debug().Str("namespace", ev.Namespace).Str("event", ev.Name).Msg("Received event")

	if ev.Name == models.EventError {
		var payload models.ErrorPayload
		if err := ev.UnmarshalArg(0, &payload); err == nil {
			c.logger.Warn().Str("namespace", ev.Namespace).Str("msg", payload.Message).Msg("Server error")
		}
	}

	if !c.received.Push(ev) {
		c.logger.Warn().Str("event", ev.Name).Str("buffer", c.received.String()).Msg("Receive buffer full, dropping event")
	}
}

// disconnected marks conn as gone unless a newer connection replaced it
func (c *Connection) disconnected(conn *websocket.Conn) {
	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()
	if c.conn == conn {
		c.state = StateDisconnected
	}
}

// Close gracefully shuts down the connection
func (c *Connection) Close() error {
	c.stateMutex.RLock()
	conn := c.conn
	c.stateMutex.RUnlock()
	if conn == nil {
		return nil
	}
	c.logger.Info().Msg("Closing connection")

	c.writeMutex.Lock()
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMutex.Unlock()

	err := conn.Close()
	c.disconnected(conn)
	c.logger.Info().Msg("Connection closed")
	return err
}
