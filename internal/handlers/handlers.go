package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajsai47/AI-Calendar/internal/models"
	"github.com/ajsai47/AI-Calendar/internal/storage"
)

// IngestRunner is the trigger surface for a full ingestion run.
type IngestRunner interface {
	Run(ctx context.Context) *models.IngestionStats
}

// EventStore is the read side consumed by the calendar API.
type EventStore interface {
	ListEvents(ctx context.Context, filter storage.EventFilter) ([]models.CanonicalEvent, error)
	ListCommunities(ctx context.Context) ([]models.Community, error)
	Ping(ctx context.Context) error
}

// Handler contains all HTTP handlers
type Handler struct {
	runner      IngestRunner
	store       EventStore
	ingestToken string
}

// NewHandler creates a new handler instance. ingestToken, when
// non-empty, is required as a bearer token on the ingest trigger.
func NewHandler(runner IngestRunner, store EventStore, ingestToken string) *Handler {
	return &Handler{
		runner:      runner,
		store:       store,
		ingestToken: ingestToken,
	}
}

// IngestHandler runs ingestion now and reports structured stats. The
// run itself never fails; the ok flag reflects whether any source or
// batch errors were recorded.
func (h *Handler) IngestHandler(w http.ResponseWriter, r *http.Request) {
	if h.ingestToken != "" {
		if r.Header.Get("Authorization") != "Bearer "+h.ingestToken {
			respondJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"error": "Unauthorized",
			})
			return
		}
	}

	stats := h.runner.Run(r.Context())

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        len(stats.Errors) == 0,
		"stats":     stats,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// EventsHandler lists upcoming approved events, optionally filtered by
// community, format and time window, along with the community registry.
func (h *Handler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	filter := storage.EventFilter{
		Community: params.Get("community"),
		Format:    params.Get("format"),
	}
	if from := params.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = t
		}
	}
	if to := params.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = t
		}
	}

	events, err := h.store.ListEvents(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list events")
		respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to list events",
		})
		return
	}

	communities, err := h.store.ListCommunities(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list communities")
		respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to list communities",
		})
		return
	}

	if events == nil {
		events = []models.CanonicalEvent{}
	}
	if communities == nil {
		communities = []models.Community{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events":      events,
		"communities": communities,
	})
}

// CommunitiesHandler lists the community registry.
func (h *Handler) CommunitiesHandler(w http.ResponseWriter, r *http.Request) {
	communities, err := h.store.ListCommunities(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list communities")
		respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to list communities",
		})
		return
	}
	if communities == nil {
		communities = []models.Community{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"communities": communities,
	})
}

// HealthCheckHandler reports service and database health.
func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		log.Error().Err(err).Msg("Health check: database unreachable")
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	respondJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
