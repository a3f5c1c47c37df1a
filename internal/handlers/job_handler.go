package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
	"github.com/ternarybob/reperio/internal/queue"
)

// submitJobRequest is the POST /api/jobs payload
type submitJobRequest struct {
	Kind     string           `json:"kind"`
	Priority string           `json:"priority,omitempty"`
	Config   models.JobConfig `json:"config"`
}

// JobHandler handles job submission and lifecycle API requests
type JobHandler struct {
	queueMgr   *queue.Manager
	jobStorage interfaces.JobStorage
	logger     arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(queueMgr *queue.Manager, jobStorage interfaces.JobStorage, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		queueMgr:   queueMgr,
		jobStorage: jobStorage,
		logger:     logger,
	}
}

// SubmitJobHandler enqueues a discovery or extraction job
// POST /api/jobs
func (h *JobHandler) SubmitJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req submitJobRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	priority := models.JobPriority(req.Priority)
	if req.Priority == "" {
		priority = models.PriorityNormal
	}

	job := models.NewJob(models.JobKind(req.Kind), priority, req.Config)
	if err := h.queueMgr.Submit(r.Context(), job); err != nil {
		h.logger.Warn().Err(err).Str("kind", req.Kind).Msg("Job submission rejected")
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

// ListJobsHandler returns a filtered list of jobs
// GET /api/jobs?status=pending&kind=discovery&parent_id=...&limit=50&offset=0
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
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
	orderDir := strings.ToUpper(query.Get("order_dir"))
	if orderDir == "" {
		orderDir = "DESC"
	}

	opts := &interfaces.JobListOptions{
		Status:   query.Get("status"),
		Kind:     query.Get("kind"),
		ParentID: query.Get("parent_id"),
		Limit:    limit,
		Offset:   offset,
		OrderBy:  query.Get("order_by"),
		OrderDir: orderDir,
	}

	jobs, err := h.jobStorage.ListJobs(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   jobs,
		"count":  len(jobs),
		"limit":  limit,
		"offset": offset,
	})
}

// GetJobHandler returns one job with its sub-job statistics
// GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	jobID = strings.TrimSuffix(jobID, "/")
	if jobID == "" || strings.Contains(jobID, "/") {
		WriteError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := h.jobStorage.GetJob(r.Context(), jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	response := map[string]interface{}{"job": job}
	if stats, err := h.jobStorage.GetJobChildStats(r.Context(), jobID); err == nil && stats.ChildCount > 0 {
		response["children"] = stats
	}
	WriteJSON(w, http.StatusOK, response)
}

// CancelJobHandler requests cancellation of a job
// POST /api/jobs/{id}/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	jobID := strings.TrimSuffix(path, "/cancel")
	if jobID == "" || jobID == path {
		WriteError(w, http.StatusBadRequest, "Invalid cancel path")
		return
	}

	if err := h.queueMgr.Cancel(r.Context(), jobID); err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Job cancellation rejected")
		WriteError(w, http.StatusConflict, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": "cancellation_requested",
	})
}
