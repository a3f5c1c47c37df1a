package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
	"github.com/ternarybob/reperio/internal/review"
)

// reviewActionRequest is the POST /api/profiles/{id}/review payload
type reviewActionRequest struct {
	Action   string `json:"action"`
	Reviewer string `json:"reviewer,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// ReviewHandler handles profile listing and review workflow API requests
type ReviewHandler struct {
	profiles interfaces.ProfileStorage
	workflow *review.Workflow
	logger   arbor.ILogger
}

// NewReviewHandler creates a new review handler
func NewReviewHandler(profiles interfaces.ProfileStorage, workflow *review.Workflow, logger arbor.ILogger) *ReviewHandler {
	return &ReviewHandler{
		profiles: profiles,
		workflow: workflow,
		logger:   logger,
	}
}

// ListProfilesHandler returns a filtered list of discovered profiles
// GET /api/profiles?status=validated&limit=50&offset=0
func (h *ReviewHandler) ListProfilesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	query := r.URL.Query()
	limit := 50
	offset := 0
	if parsed, err := strconv.Atoi(query.Get("limit")); err == nil && parsed > 0 {
		limit = parsed
	}
	if parsed, err := strconv.Atoi(query.Get("offset")); err == nil && parsed > 0 {
		offset = parsed
	}

	opts := &interfaces.ProfileListOptions{
		Status: query.Get("status"),
		Limit:  limit,
		Offset: offset,
	}

	profiles, err := h.profiles.ListProfiles(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list profiles")
		WriteError(w, http.StatusInternalServerError, "Failed to list profiles")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": profiles,
		"count":    len(profiles),
		"limit":    limit,
		"offset":   offset,
	})
}

// GetProfileHandler returns one discovered profile
// GET /api/profiles/{id}
func (h *ReviewHandler) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	profileID := strings.TrimPrefix(r.URL.Path, "/api/profiles/")
	profileID = strings.TrimSuffix(profileID, "/")
	if profileID == "" || strings.Contains(profileID, "/") {
		WriteError(w, http.StatusBadRequest, "Invalid profile ID")
		return
	}

	profile, err := h.profiles.GetProfile(r.Context(), profileID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Profile not found")
		return
	}
	WriteJSON(w, http.StatusOK, profile)
}

// ReviewActionHandler applies one review workflow action to a profile
// POST /api/profiles/{id}/review with {"action": "submit|start|approve|reject|request_changes|resubmit"}
func (h *ReviewHandler) ReviewActionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/profiles/")
	profileID := strings.TrimSuffix(path, "/review")
	if profileID == "" || profileID == path {
		WriteError(w, http.StatusBadRequest, "Invalid review path")
		return
	}

	var req reviewActionRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	var profile *models.DiscoveredProfile
	var err error
	switch req.Action {
	case "submit":
		profile, err = h.workflow.EnterReview(r.Context(), profileID)
	case "start":
		if req.Reviewer == "" {
			WriteError(w, http.StatusBadRequest, "Reviewer is required to start a review")
			return
		}
		profile, err = h.workflow.StartReview(r.Context(), profileID, req.Reviewer)
	case "approve":
		profile, err = h.workflow.Approve(r.Context(), profileID, req.Reviewer, req.Notes)
	case "reject":
		profile, err = h.workflow.Reject(r.Context(), profileID, req.Reviewer, req.Notes)
	case "request_changes":
		profile, err = h.workflow.RequestChanges(r.Context(), profileID, req.Reviewer, req.Notes)
	case "resubmit":
		profile, err = h.workflow.Resubmit(r.Context(), profileID)
	default:
		WriteError(w, http.StatusBadRequest, "Unknown review action: "+req.Action)
		return
	}
	if err != nil {
		h.logger.Warn().Err(err).
			Str("profile_id", profileID).
			Str("action", req.Action).
			Msg("Review action rejected")
		WriteError(w, http.StatusConflict, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, profile)
}
