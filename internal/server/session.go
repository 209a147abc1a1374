package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/afroash/realtimeapp/internal/models"
)

// Session is one client connection. A session joins any number of namespaces;
// events on a namespace are only accepted after the client connected to it.
type Session struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	ctx        context.Context
	conn       *websocket.Conn
	writeMutex sync.Mutex
	nsMutex    sync.RWMutex
	namespaces map[string]time.Time
	done       chan struct{}
	closeOnce  sync.Once
}

// SessionInfo is a snapshot of a session for reporting
type SessionInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	Namespaces  []string  `json:"namespaces"`
}

func newSession(ctx context.Context, id string, conn *websocket.Conn) *Session {
	return &Session{
		ID:          id,
		RemoteAddr:  conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
		ctx:         ctx,
		conn:        conn,
		namespaces:  make(map[string]time.Time),
		done:        make(chan struct{}),
	}
}

// emit writes one event to the client
func (s *Session) emit(namespace, name string, args ...interface{}) error {
	ev, err := models.NewEvent(namespace, name, args...)
	if err != nil {
		return err
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(ev)
}

// keepalive sends control pings until the session closes
func (s *Session) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) join(namespace string) {
	s.nsMutex.Lock()
	defer s.nsMutex.Unlock()
	if _, ok := s.namespaces[namespace]; !ok {
		s.namespaces[namespace] = time.Now()
	}
}

func (s *Session) leave(namespace string) {
	s.nsMutex.Lock()
	defer s.nsMutex.Unlock()
	delete(s.namespaces, namespace)
}

// Joined reports whether the session is connected to namespace
func (s *Session) Joined(namespace string) bool {
	s.nsMutex.RLock()
	defer s.nsMutex.RUnlock()
	_, ok := s.namespaces[namespace]
	return ok
}

// Namespaces returns the joined namespaces, sorted
func (s *Session) Namespaces() []string {
	s.nsMutex.RLock()
	defer s.nsMutex.RUnlock()
	names := make([]string, 0, len(s.namespaces))
	for ns := range s.namespaces {
		names = append(names, ns)
	}
	sort.Strings(names)
	return names
}

// Info returns a snapshot of the session
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:          s.ID,
		RemoteAddr:  s.RemoteAddr,
		ConnectedAt: s.ConnectedAt,
		Namespaces:  s.Namespaces(),
	}
}

// close sends a close frame and releases the connection
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMutex.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.writeMutex.Unlock()
		s.conn.Close()
	})
}
