package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"artwork-pipeline/internal/dispatch"
	"artwork-pipeline/internal/models"
	"artwork-pipeline/internal/ratelimit"
	"artwork-pipeline/internal/store"
	"artwork-pipeline/internal/telemetry"
)

// RecordReader serves status polls.
type RecordReader interface {
	GetArtwork(ctx context.Context, id, ownerID string) (models.Artwork, error)
}

// Server wires the dispatcher-facing HTTP surface: enqueue and status polling.
type Server struct {
	dispatcher *dispatch.Dispatcher
	records    RecordReader
	limiter    *ratelimit.TokenBucket
	logger     zerolog.Logger
}

// New constructs the API server. The limiter may be nil to disable throttling.
func New(d *dispatch.Dispatcher, records RecordReader, limiter *ratelimit.TokenBucket, logger zerolog.Logger) *Server {
	return &Server{dispatcher: d, records: records, limiter: limiter, logger: logger}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/artworks/{id}/generate", s.handleGenerate)
	r.Get("/artworks/{id}/status", s.handleStatus)
	return r
}

type generateResponse struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	artworkID := chi.URLParam(r, "id")
	ownerID := ownerFromRequest(r)
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "missing owner identity")
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.AllowOwner(r.Context(), ownerID)
		if err != nil {
			s.logger.Error().Err(err).Msg("rate limiter error")
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	jobID, err := s.dispatcher.Submit(r.Context(), artworkID, ownerID)
	switch {
	case errors.Is(err, dispatch.ErrNotFound):
		writeError(w, http.StatusNotFound, "artwork not found")
	case errors.Is(err, dispatch.ErrConflict):
		writeError(w, http.StatusConflict, "generation already in progress")
	case errors.Is(err, dispatch.ErrQueueUnavailable):
		writeError(w, http.StatusServiceUnavailable, "job queue unavailable")
	case err != nil:
		s.logger.Error().Err(err).Str("artwork_id", artworkID).Msg("submit failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		telemetry.EnqueueCounter.Inc()
		writeJSON(w, http.StatusAccepted, generateResponse{JobID: jobID})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	artworkID := chi.URLParam(r, "id")
	ownerID := ownerFromRequest(r)
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "missing owner identity")
		return
	}

	a, err := s.records.GetArtwork(r.Context(), artworkID, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "artwork not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("artwork_id", artworkID).Msg("status read failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, models.StatusOf(a))
}

// ownerFromRequest extracts the authenticated owner. Authentication itself is
// an upstream concern; this service trusts the identity header it is handed.
func ownerFromRequest(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
