package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// SocketPath is where real-time clients connect
const SocketPath = "/socket"

// NewRouter wires the API and the socket endpoint and wraps them in CORS handling
func NewRouter(api *APIHandler, sockets *Handler, allowedOrigins []string, logger zerolog.Logger) http.Handler {
	r := mux.NewRouter()
	r.Use(requestLogger(logger))

	r.HandleFunc("/health", api.HandleHealth).Methods(http.MethodGet)
	r.Handle(SocketPath, sockets)

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/readings", api.HandleAll).Methods(http.MethodGet)
	apiRouter.HandleFunc("/readings", api.HandleSave).Methods(http.MethodPost)
	apiRouter.HandleFunc("/readings/recent", api.HandleRecent).Methods(http.MethodGet)
	apiRouter.HandleFunc("/readings/{id}", api.HandleGet).Methods(http.MethodGet)
	apiRouter.HandleFunc("/stats", api.HandleStats).Methods(http.MethodGet)
	apiRouter.HandleFunc("/sessions", api.HandleSessions).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	recovery := handlers.RecoveryHandler(handlers.RecoveryLogger(panicLogger{logger}))
	return c.Handler(recovery(r))
}

// panicLogger adapts zerolog to the recovery handler's Println logger
type panicLogger struct {
	logger zerolog.Logger
}

func (p panicLogger) Println(v ...interface{}) {
	p.logger.Error().Str("panic", fmt.Sprint(v...)).Msg("Recovered from panic in request handler")
}

// requestLogger logs every request except websocket upgrades, which log their own lifecycle
func requestLogger(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			if r.URL.Path == SocketPath {
				return
			}
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("Request served")
		})
	}
}
