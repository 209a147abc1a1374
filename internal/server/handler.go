package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/realtimeapp/internal/models"
	"github.com/afroash/realtimeapp/internal/storage"
)

// Constants for WebSocket timeouts
const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// DefaultNamespace is used for events sent without a namespace
const DefaultNamespace = "/"

// eventHandler handles one inbound event kind for a session
type eventHandler func(s *Session, ev *models.Event) error

// Handler manages real-time client connections
type Handler struct {
	upgrader       websocket.Upgrader
	authToken      string
	store          storage.ReadingStore
	logger         zerolog.Logger
	namespaces     map[string]struct{}
	allowedOrigins []string
	pingInterval   time.Duration
	dispatch       map[models.EventKind]eventHandler
	sessions       map[string]*Session
	mutex          sync.RWMutex
}

// HandlerConfig holds configuration for the connection handler
type HandlerConfig struct {
	Namespaces     []string      // namespaces clients may connect to
	AllowedOrigins []string      // Origin allowlist; empty allows same-origin only
	AuthToken      string        // optional bearer token
	PingInterval   time.Duration // keepalive ping interval (default: 30s)
}

// NewHandler creates a new WebSocket handler
func NewHandler(config HandlerConfig, store storage.ReadingStore, logger zerolog.Logger) *Handler {
	h := &Handler{
		authToken:      config.AuthToken,
		store:          store,
		logger:         logger,
		namespaces:     make(map[string]struct{}),
		allowedOrigins: config.AllowedOrigins,
		pingInterval:   config.PingInterval,
		sessions:       make(map[string]*Session),
	}
	for _, ns := range config.Namespaces {
		h.namespaces[normalizeNamespace(ns)] = struct{}{}
	}
	if h.pingInterval <= 0 || h.pingInterval >= pongWait {
		h.pingInterval = 30 * time.Second
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	h.dispatch = map[models.EventKind]eventHandler{
		models.KindConnect:    h.onConnect,
		models.KindPing:       h.onPing,
		models.KindDisconnect: h.onDisconnect,
		models.KindReading:    h.onReading,
	}

	return h
}

// normalizeNamespace maps "" and names without a leading slash onto "/name"
func normalizeNamespace(ns string) string {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return DefaultNamespace
	}
	if !strings.HasPrefix(ns, "/") {
		ns = "/" + ns
	}
	return ns
}

// checkOrigin validates the incoming request's Origin against the configured allowlist
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// No Origin header means same-origin request
	if origin == "" {
		return true
	}

	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || origin == allowed {
			return true
		}
	}

	h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not in allowlist")
	return false
}

// ServeHTTP handles WebSocket connection requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	session := newSession(r.Context(), uuid.NewString(), conn)
	h.handleConnection(session)
}

// authorized checks the bearer token when one is configured.
// Browsers cannot set headers on websocket requests, so a token query parameter is accepted too.
func (h *Handler) authorized(r *http.Request) bool {
	if h.authToken == "" {
		return true
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token == h.authToken
	}
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return false
	}
	return strings.TrimPrefix(authHeader, "Bearer ") == h.authToken
}

// handleConnection runs the read loop for one session
func (h *Handler) handleConnection(session *Session) {
	h.mutex.Lock()
	h.sessions[session.ID] = session
	h.mutex.Unlock()

	h.logger.Info().Str("session_id", session.ID).Str("remote_addr", session.RemoteAddr).Msg("Client connected")

	defer h.removeSession(session)

	conn := session.conn
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go session.keepalive(h.pingInterval)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("session_id", session.ID).Msg("WebSocket error")
			}
			break
		}

		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			h.logger.Warn().Err(err).Str("session_id", session.ID).Msg("Failed to decode event")
			h.sendError(session, DefaultNamespace, "malformed event")
			continue
		}
		h.handleEvent(session, &ev)
	}
}

// handleEvent dispatches a single event by kind
func (h *Handler) handleEvent(session *Session, ev *models.Event) {
	ev.Namespace = normalizeNamespace(ev.Namespace)
	kind := ev.Kind()

	h.logger.Debug().
		Str("session_id", session.ID).
		Str("namespace", ev.Namespace).
		Str("event", kind.String()).
		Msg("Received event")

	handle, ok := h.dispatch[kind]
	if !ok {
		h.logger.Warn().Str("session_id", session.ID).Str("event", ev.Name).Msg("Unknown event")
		h.sendError(session, ev.Namespace, fmt.Sprintf("unknown event %q", ev.Name))
		return
	}

	if err := handle(session, ev); err != nil {
		h.logger.Warn().Err(err).Str("session_id", session.ID).Str("event", ev.Name).Msg("Event refused")
		h.sendError(session, ev.Namespace, err.Error())
	}
}

// onConnect joins the namespace and acknowledges it
func (h *Handler) onConnect(s *Session, ev *models.Event) error {
	if _, ok := h.namespaces[ev.Namespace]; !ok {
		return fmt.Errorf("unknown namespace %q", ev.Namespace)
	}
	s.join(ev.Namespace)

	h.logger.Info().Str("session_id", s.ID).Str("namespace", ev.Namespace).Msg("Namespace connected")
	return s.emit(ev.Namespace, models.EventConnected, models.ConnectedPayload{Data: models.ConnectedData})
}

// onPing answers with pong on the same namespace
func (h *Handler) onPing(s *Session, ev *models.Event) error {
	if !s.Joined(ev.Namespace) {
		return fmt.Errorf("not connected to namespace %q", ev.Namespace)
	}
	return s.emit(ev.Namespace, models.EventPong)
}

// onDisconnect releases the namespace; nothing is emitted
func (h *Handler) onDisconnect(s *Session, ev *models.Event) error {
	if !s.Joined(ev.Namespace) {
		return fmt.Errorf("not connected to namespace %q", ev.Namespace)
	}
	s.leave(ev.Namespace)

	h.logger.Info().Str("session_id", s.ID).Str("namespace", ev.Namespace).Msg("Namespace disconnected")
	return nil
}

// onReading saves a reading submitted by a sensor and forwards it to the other clients on the namespace
func (h *Handler) onReading(s *Session, ev *models.Event) error {
	if !s.Joined(ev.Namespace) {
		return fmt.Errorf("not connected to namespace %q", ev.Namespace)
	}

	var reading models.SensorReading
	if err := ev.UnmarshalArg(0, &reading); err != nil {
		return fmt.Errorf("invalid reading: %w", err)
	}

	saved, err := h.store.Save(s.ctx, &reading)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			return verr
		}
		h.logger.Error().Err(err).Str("reading_id", reading.ReadingID).Msg("Failed to save reading")
		return fmt.Errorf("failed to save reading %s", reading.ReadingID)
	}

	h.logger.Info().
		Str("reading_id", saved.ReadingID).
		Str("room", saved.Room).
		Str("temperature", saved.Temperature.String()).
		Str("humidity", saved.Humidity.String()).
		Msg("Reading stored")

	if err := s.emit(ev.Namespace, models.EventReadingSaved, models.ReadingSavedPayload{ReadingID: saved.ReadingID}); err != nil {
		return err
	}
	h.broadcast(ev.Namespace, s.ID, models.EventNewReading, saved)
	return nil
}

// broadcast emits an event to every session on namespace except the sender
func (h *Handler) broadcast(namespace, exceptID, name string, args ...interface{}) {
	h.mutex.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for id, session := range h.sessions {
		if id != exceptID && session.Joined(namespace) {
			targets = append(targets, session)
		}
	}
	h.mutex.RUnlock()

	for _, session := range targets {
		if err := session.emit(namespace, name, args...); err != nil {
			h.logger.Warn().Err(err).Str("session_id", session.ID).Msg("Failed to broadcast event")
		}
	}
}

// sendError emits an error event
func (h *Handler) sendError(s *Session, namespace, message string) {
	if err := s.emit(namespace, models.EventError, models.ErrorPayload{Message: message}); err != nil {
		h.logger.Warn().Err(err).Str("session_id", s.ID).Msg("Failed to send error")
	}
}

// removeSession drops a session and every namespace it joined
func (h *Handler) removeSession(s *Session) {
	h.mutex.Lock()
	delete(h.sessions, s.ID)
	h.mutex.Unlock()

	s.close()
	h.logger.Info().Str("session_id", s.ID).Strs("namespaces", s.Namespaces()).Msg("Client disconnected")
}

// ActiveSessions returns a snapshot of the connected sessions
func (h *Handler) ActiveSessions() []SessionInfo {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	infos := make([]SessionInfo, 0, len(h.sessions))
	for _, session := range h.sessions {
		infos = append(infos, session.Info())
	}
	return infos
}

// Close closes every active session
func (h *Handler) Close() {
	h.mutex.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, session := range h.sessions {
		sessions = append(sessions, session)
	}
	h.mutex.RUnlock()

	for _, session := range sessions {
		session.close()
	}
}
