package worker

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/quotely/pricelearn/internal/engine"
	"github.com/quotely/pricelearn/internal/store"
	"github.com/quotely/pricelearn/pkg/models"
)

// DefaultDeadLettersLimit is the default number of dead letters to return.
const DefaultDeadLettersLimit = 100

// writeJSON writes a JSON response with proper error handling.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError maps pipeline errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInvalidEvent):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrProfileNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ready",
		"version": s.version,
		"uptime":  time.Since(s.startTime).String(),
	})
}

func (s *Service) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": s.version,
		"backend": s.config.Backend,
		"uptime":  time.Since(s.startTime).String(),
	})
}

// handleCorrection ingests one correction event.
func (s *Service) handleCorrection(w http.ResponseWriter, r *http.Request) {
	var event models.CorrectionEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	event.BusinessID = chi.URLParam(r, "businessID")
	event.Category = chi.URLParam(r, "category")

	result, err := s.engine.RecordCorrection(r.Context(), &event)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleOutcome ingests one outcome event.
func (s *Service) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var event models.OutcomeEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	event.BusinessID = chi.URLParam(r, "businessID")
	event.Category = chi.URLParam(r, "category")
	if event.Correction != nil {
		event.Correction.BusinessID = event.BusinessID
		event.Correction.Category = event.Category
	}

	if err := s.engine.RecordOutcome(r.Context(), &event); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleInjectionContext serves the ranked learning context for a job.
func (s *Service) handleInjectionContext(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "businessID")
	category := chi.URLParam(r, "category")
	job := r.URL.Query().Get("job")

	injection, err := s.engine.GetInjectionContext(r.Context(), businessID, category, job)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, injection)
}

// handleProfile serves the confidence snapshot for a category.
func (s *Service) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.engine.GetProfile(r.Context(),
		chi.URLParam(r, "businessID"), chi.URLParam(r, "category"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleDNARun triggers the cross-category analysis for a business.
func (s *Service) handleDNARun(w http.ResponseWriter, r *http.Request) {
	dna, err := s.engine.RunDNATransfer(r.Context(), chi.URLParam(r, "businessID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dna)
}

// handleDeadLetters lists escalated events for manual review.
func (s *Service) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := DefaultDeadLettersLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	letters, err := s.engine.ListDeadLetters(r.Context(), chi.URLParam(r, "businessID"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, letters)
}
