// Package api exposes the tracked aircraft table over HTTP: REST endpoints
// for snapshots and enrichment requests, plus the WebSocket stream.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yegors/ads-bby/internal/tracker"
	"github.com/yegors/ads-bby/internal/websocket"
	"github.com/yegors/ads-bby/pkg/logger"
)

// EnrichmentStats reports scheduler state for the status endpoint
type EnrichmentStats interface {
	QueueLen() int
	WindowUsed() int
}

// Handler serves the REST API
type Handler struct {
	tracker    *tracker.Service
	enrichment EnrichmentStats // may be nil when enrichment is disabled
	ws         *websocket.Server
	startedAt  time.Time
	logger     *logger.Logger
}

// NewHandler creates the API handler
func NewHandler(svc *tracker.Service, enrichment EnrichmentStats, ws *websocket.Server, log *logger.Logger) *Handler {
	return &Handler{
		tracker:    svc,
		enrichment: enrichment,
		ws:         ws,
		startedAt:  time.Now(),
		logger:     log.Named("api"),
	}
}

// NewRouter builds the chi router with all routes mounted
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/aircraft", h.GetAircraft)
		r.Get("/aircraft/{hex}", h.GetAircraftByHex)
		r.Post("/aircraft/{hex}/enrich", h.RequestEnrich)
		r.Get("/status", h.GetStatus)
	})

	if h.ws != nil {
		r.Get("/ws", h.ws.HandleConnection)
	}

	return r
}

// GetAircraft returns the current fused table
func (h *Handler) GetAircraft(w http.ResponseWriter, r *http.Request) {
	records := h.tracker.Snapshot()
	respondJSON(w, http.StatusOK, map[string]any{
		"count":    len(records),
		"aircraft": records,
	})
}

// GetAircraftByHex returns one record
func (h *Handler) GetAircraftByHex(w http.ResponseWriter, r *http.Request) {
	hex := strings.ToLower(chi.URLParam(r, "hex"))

	rec, ok := h.tracker.Lookup(hex)
	if !ok {
		respondError(w, http.StatusNotFound, "aircraft not tracked")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// RequestEnrich queues an enrichment request for one aircraft
func (h *Handler) RequestEnrich(w http.ResponseWriter, r *http.Request) {
	hex := strings.ToLower(chi.URLParam(r, "hex"))

	if !h.tracker.RequestEnrich(hex) {
		respondError(w, http.StatusNotFound, "aircraft not tracked or enrichment disabled")
		return
	}

	h.logger.Debug("Enrichment requested via API", logger.String("hex", hex))
	respondJSON(w, http.StatusAccepted, map[string]any{
		"hex":    hex,
		"queued": true,
	})
}

// GetStatus reports liveness and subsystem counters
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"uptime_seconds":   int(time.Since(h.startedAt).Seconds()),
		"tracked_aircraft": h.tracker.Count(),
	}
	if h.ws != nil {
		status["websocket_clients"] = h.ws.ClientCount()
	}
	if h.enrichment != nil {
		status["enrichment"] = map[string]any{
			"queued":      h.enrichment.QueueLen(),
			"window_used": h.enrichment.WindowUsed(),
		}
	}
	respondJSON(w, http.StatusOK, status)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"error": message})
}
