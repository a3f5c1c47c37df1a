package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// StatusHandler reports pipeline state: job and profile counts per status,
// plus the governor's persisted window snapshots.
type StatusHandler struct {
	jobs     interfaces.JobStorage
	profiles interfaces.ProfileStorage
	windows  interfaces.WindowStorage
	logger   arbor.ILogger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(jobs interfaces.JobStorage, profiles interfaces.ProfileStorage, windows interfaces.WindowStorage, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		jobs:     jobs,
		profiles: profiles,
		windows:  windows,
		logger:   logger,
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobCounts := make(map[string]int)
	for _, status := range []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusRunning,
		models.JobStatusCompleted,
		models.JobStatusFailed,
		models.JobStatusCancelled,
	} {
		jobs, err := h.jobs.GetJobsByStatus(r.Context(), status)
		if err != nil {
			h.logger.Error().Err(err).Str("status", string(status)).Msg("Failed to count jobs")
			WriteError(w, http.StatusInternalServerError, "Failed to gather status")
			return
		}
		jobCounts[string(status)] = len(jobs)
	}

	profileCounts := make(map[string]int)
	for _, status := range []models.ProfileStatus{
		models.ProfileStatusDiscovered,
		models.ProfileStatusExtracted,
		models.ProfileStatusValidated,
		models.ProfileStatusApproved,
		models.ProfileStatusRejected,
	} {
		profiles, err := h.profiles.ListProfiles(r.Context(), &interfaces.ProfileListOptions{Status: string(status)})
		if err != nil {
			h.logger.Error().Err(err).Str("status", string(status)).Msg("Failed to count profiles")
			WriteError(w, http.StatusInternalServerError, "Failed to gather status")
			return
		}
		profileCounts[string(status)] = len(profiles)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":     jobCounts,
		"profiles": profileCounts,
	})
}

// GetWindowsHandler handles GET /api/governor/windows?domain=...
func (h *StatusHandler) GetWindowsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	windows, err := h.windows.ListWindows(r.Context(), r.URL.Query().Get("domain"))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list rate limit windows")
		WriteError(w, http.StatusInternalServerError, "Failed to list rate limit windows")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"windows": windows,
		"count":   len(windows),
	})
}
