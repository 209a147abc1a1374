package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/afroash/realtimeapp/internal/models"
	"github.com/afroash/realtimeapp/internal/storage"
)

// defaultWindowDays is used by /api/readings/recent without a days parameter
const defaultWindowDays = 1

// APIHandler handles HTTP API requests over the reading store
type APIHandler struct {
	store    storage.ReadingStore
	sessions *Handler
	logger   zerolog.Logger
	version  string
}

// NewAPIHandler creates a new API handler. sessions may be nil.
func NewAPIHandler(store storage.ReadingStore, sessions *Handler, version string, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		store:    store,
		sessions: sessions,
		logger:   logger,
		version:  version,
	}
}

// HandleAll returns every reading keyed by reading id
func (api *APIHandler) HandleAll(w http.ResponseWriter, r *http.Request) {
	readings, err := api.store.All(r.Context())
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to query readings")
		writeError(w, http.StatusInternalServerError, "failed to query readings")
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

// HandleRecent returns readings from the last ?days=N days
func (api *APIHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	days := defaultWindowDays
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		parsed, err := strconv.Atoi(daysStr)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = parsed
	}

	readings, err := api.store.Since(r.Context(), days)
	if err != nil {
		api.logger.Error().Err(err).Int("days", days).Msg("Failed to query recent readings")
		writeError(w, http.StatusInternalServerError, "failed to query readings")
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

// HandleGet returns a single reading
func (api *APIHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	reading, err := api.store.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "reading not found")
		return
	}
	if err != nil {
		api.logger.Error().Err(err).Str("reading_id", id).Msg("Failed to get reading")
		writeError(w, http.StatusInternalServerError, "failed to get reading")
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// HandleSave validates and stores a reading posted as JSON
func (api *APIHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	var reading models.SensorReading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	saved, err := api.store.Save(r.Context(), &reading)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusUnprocessableEntity, verr.Error())
			return
		}
		api.logger.Error().Err(err).Str("reading_id", reading.ReadingID).Msg("Failed to save reading")
		writeError(w, http.StatusInternalServerError, "failed to save reading")
		return
	}

	api.logger.Info().Str("reading_id", saved.ReadingID).Str("room", saved.Room).Msg("Reading stored")
	writeJSON(w, http.StatusCreated, saved)
}

// HandleStats returns store statistics
func (api *APIHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := api.store.Stats(r.Context())
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to get storage stats")
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// SessionsData lists the connected real-time clients
type SessionsData struct {
	Count    int           `json:"count"`
	Sessions []SessionInfo `json:"sessions"`
}

// HandleSessions returns the active real-time sessions
func (api *APIHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	data := SessionsData{Sessions: []SessionInfo{}}
	if api.sessions != nil {
		data.Sessions = api.sessions.ActiveSessions()
	}
	data.Count = len(data.Sessions)
	writeJSON(w, http.StatusOK, data)
}

// HealthData is returned by /health
type HealthData struct {
	Status  string    `json:"status"`
	Version string    `json:"version"`
	Time    time.Time `json:"time"`
}

// HandleHealth reports liveness
func (api *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthData{
		Status:  "ok",
		Version: api.version,
		Time:    time.Now(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorPayload{Message: message})
}
