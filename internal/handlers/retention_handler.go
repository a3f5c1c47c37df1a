package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/retention"
)

// deletionRequest is the POST /api/deletion-requests payload. Subject is
// matched against stored names and source URLs.
type deletionRequest struct {
	Subject string `json:"subject"`
}

// RetentionHandler handles subject deletion requests and manual sweeps
type RetentionHandler struct {
	retention *retention.Manager
	logger    arbor.ILogger
}

// NewRetentionHandler creates a new retention handler
func NewRetentionHandler(retentionMgr *retention.Manager, logger arbor.ILogger) *RetentionHandler {
	return &RetentionHandler{
		retention: retentionMgr,
		logger:    logger,
	}
}

// DeletionRequestHandler removes or anonymizes all data for a subject
// POST /api/deletion-requests
func (h *RetentionHandler) DeletionRequestHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req deletionRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		WriteError(w, http.StatusBadRequest, "Subject is required")
		return
	}

	result, err := h.retention.HandleDeletionRequest(r.Context(), req.Subject)
	if err != nil {
		h.logger.Error().Err(err).Msg("Deletion request failed")
		WriteError(w, http.StatusInternalServerError, "Deletion request failed")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "processed",
		"deleted":    result.Deleted,
		"anonymized": result.Anonymized,
	})
}

// SweepHandler triggers a retention sweep outside the schedule
// POST /api/retention/sweep
func (h *RetentionHandler) SweepHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	result, err := h.retention.Sweep(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Manual retention sweep failed")
		WriteError(w, http.StatusInternalServerError, "Retention sweep failed")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "completed",
		"discovered_deleted": result.DiscoveredDeleted,
		"extracted_deleted":  result.ExtractedDeleted,
		"jobs_deleted":       result.JobsDeleted,
	})
}
