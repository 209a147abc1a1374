package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/realtimeapp/internal/models"
)

// MockWebSocketServer acknowledges connects and answers pings
type MockWebSocketServer struct {
	server       *httptest.Server
	upgrader     websocket.Upgrader
	shouldAccept bool

	mu           sync.Mutex
	receivedEvs  []models.Event
	authHeader   string
	originHeader string
}

func NewMockWebSocketServer() *MockWebSocketServer {
	mock := &MockWebSocketServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		shouldAccept: true,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handleWebSocket))
	return mock
}

func (m *MockWebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !m.shouldAccept {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	m.mu.Lock()
	m.authHeader = r.Header.Get("Authorization")
	m.originHeader = r.Header.Get("Origin")
	m.mu.Unlock()

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var ev models.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}

		m.mu.Lock()
		m.receivedEvs = append(m.receivedEvs, ev)
		m.mu.Unlock()

		var reply *models.Event
		switch ev.Name {
		case models.EventConnect:
			reply, _ = models.NewEvent(ev.Namespace, models.EventConnected, models.ConnectedPayload{Data: models.ConnectedData})
		case models.EventPing:
			reply, _ = models.NewEvent(ev.Namespace, models.EventPong)
		}
		if reply != nil {
			conn.WriteJSON(reply)
		}
	}
}

func (m *MockWebSocketServer) URL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http")
}

func (m *MockWebSocketServer) Close() {
	m.server.Close()
}

func (m *MockWebSocketServer) Received() []models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Event(nil), m.receivedEvs...)
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

func newTestConnection(url string) *Connection {
	return NewConnection(ConnectionConfig{
		URL:       url,
		AuthToken: "test-token",
		Origin:    "http://dashboard.local",
	}, testLogger())
}

func TestConnectionState_String(t *testing.T) {
	tests := map[ConnectionState]string{
		StateDisconnected:  "disconnected",
		StateConnecting:    "connecting",
		StateConnected:     "connected",
		ConnectionState(9): "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func TestConnection_Connect(t *testing.T) {
	mock := NewMockWebSocketServer()
	defer mock.Close()

	conn := newTestConnection(mock.URL())
	if conn.State() != StateDisconnected {
		t.Errorf("Initial state = %v, want disconnected", conn.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	if !conn.IsConnected() {
		t.Error("Expected connected state")
	}

	mock.mu.Lock()
	auth, origin := mock.authHeader, mock.originHeader
	mock.mu.Unlock()
	if auth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want Bearer test-token", auth)
	}
	if origin != "http://dashboard.local" {
		t.Errorf("Origin = %q, want http://dashboard.local", origin)
	}
}

func TestConnection_ConnectRejected(t *testing.T) {
	mock := NewMockWebSocketServer()
	mock.shouldAccept = false
	defer mock.Close()

	conn := newTestConnection(mock.URL())
	err := conn.Connect(context.Background())
	if err == nil {
		t.Fatal("Expected error when server rejects the handshake")
	}
	if conn.State() != StateDisconnected {
		t.Errorf("State = %v, want disconnected", conn.State())
	}
}

func TestConnection_JoinAndPing(t *testing.T) {
	mock := NewMockWebSocketServer()
	defer mock.Close()

	conn := newTestConnection(mock.URL())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	if err := conn.Join("/test"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := conn.Ping("/test"); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	events, err := conn.WaitFor(ctx, "/test", 2)
	if err != nil {
		t.Fatalf("WaitFor failed: %v", err)
	}

	var payload models.ConnectedPayload
	if err := events[0].UnmarshalArg(0, &payload); err != nil {
		t.Fatalf("UnmarshalArg failed: %v", err)
	}
	if payload.Data != "Connected" {
		t.Errorf("first event data = %q, want Connected", payload.Data)
	}
	if events[1].Name != models.EventPong {
		t.Errorf("second event = %q, want pong", events[1].Name)
	}

	if got := conn.Received("/test"); len(got) != 0 {
		t.Errorf("Received after WaitFor = %v, want empty", got)
	}

	sent := mock.Received()
	if len(sent) != 2 || sent[0].Name != models.EventConnect || sent[1].Name != models.EventPing {
		t.Errorf("server received %v", sent)
	}
}

func TestConnection_SendReading(t *testing.T) {
	mock := NewMockWebSocketServer()
	defer mock.Close()

	conn := newTestConnection(mock.URL())
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	reading := models.NewSensorReading("kitchen-1", "kitchen", models.Float(21.5), models.Int(40))
	if err := conn.SendReading("/test", reading); err != nil {
		t.Fatalf("SendReading failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(mock.Received()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	sent := mock.Received()
	if len(sent) != 1 {
		t.Fatalf("server received %d events, want 1", len(sent))
	}

	var got models.SensorReading
	if err := sent[0].UnmarshalArg(0, &got); err != nil {
		t.Fatalf("UnmarshalArg failed: %v", err)
	}
	if got != *reading {
		t.Errorf("server got %+v, want %+v", got, reading)
	}
}

func TestConnection_EmitNotConnected(t *testing.T) {
	conn := newTestConnection("ws://127.0.0.1:1/socket")
	if err := conn.Ping("/test"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Ping before connect = %v, want ErrNotConnected", err)
	}
}

func TestConnection_WaitForContextTimeout(t *testing.T) {
	mock := NewMockWebSocketServer()
	defer mock.Close()

	conn := newTestConnection(mock.URL())
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := conn.WaitFor(ctx, "/test", 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitFor = %v, want deadline exceeded", err)
	}
}

func TestConnection_CloseStopsReadLoop(t *testing.T) {
	mock := NewMockWebSocketServer()
	defer mock.Close()

	conn := newTestConnection(mock.URL())
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	conn.Close()

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop after Close")
	}
	if conn.IsConnected() {
		t.Error("Expected disconnected state after Close")
	}
	if err := conn.Ping("/test"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Ping after close = %v, want ErrNotConnected", err)
	}
}

func TestConnection_ConnectTwice(t *testing.T) {
	mock := NewMockWebSocketServer()
	defer mock.Close()

	conn := newTestConnection(mock.URL())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	firstDone := conn.Done()

	if err := conn.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("second Connect = %v, want ErrAlreadyConnected", err)
	}

	conn.Close()
	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop after Close")
	}

	// Reconnecting starts a fresh read loop with its own done channel
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	defer conn.Close()

	if conn.Done() == firstDone {
		t.Error("reconnect reused the previous done channel")
	}
	if err := conn.Ping("/test"); err != nil {
		t.Fatalf("Ping after reconnect failed: %v", err)
	}
	events, err := conn.WaitFor(ctx, "/test", 1)
	if err != nil {
		t.Fatalf("WaitFor after reconnect failed: %v", err)
	}
	if events[0].Name != models.EventPong {
		t.Errorf("event = %q, want pong", events[0].Name)
	}
}

func TestConnection_DropNewest(t *testing.T) {
	mock := NewMockWebSocketServer()
	defer mock.Close()

	conn := NewConnection(ConnectionConfig{
		URL:        mock.URL(),
		BufferSize: 1,
		DropNewest: true,
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	if err := conn.Join("/test"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := conn.Ping("/test"); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for conn.BufferStats().TotalDropped == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	stats := conn.BufferStats()
	if stats.TotalPushed != 1 || stats.TotalDropped != 1 {
		t.Errorf("stats = %+v, want 1 pushed and 1 dropped", stats)
	}
	if conn.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", conn.Pending())
	}

	events := conn.Received("/test")
	if len(events) != 1 || events[0].Name != models.EventConnected {
		t.Errorf("Received = %v, want only the connect acknowledgement", events)
	}
	if conn.Pending() != 0 {
		t.Errorf("Pending() after Received = %d, want 0", conn.Pending())
	}
}
