package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes) // Handles /api/jobs/{id} and /api/jobs/{id}/cancel

	// API routes - Profiles and review
	mux.HandleFunc("/api/profiles", s.app.ReviewHandler.ListProfilesHandler)
	mux.HandleFunc("/api/profiles/", s.handleProfileRoutes) // Handles /api/profiles/{id} and /api/profiles/{id}/review

	// API routes - Retention
	mux.HandleFunc("/api/deletion-requests", s.app.RetentionHandler.DeletionRequestHandler)
	mux.HandleFunc("/api/retention/sweep", s.app.RetentionHandler.SweepHandler)

	// API routes - System
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)
	mux.HandleFunc("/api/governor/windows", s.app.StatusHandler.GetWindowsHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobsRoute dispatches the /api/jobs collection endpoint by method
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.JobHandler.ListJobsHandler(w, r)
	case http.MethodPost:
		s.app.JobHandler.SubmitJobHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobRoutes routes job-related requests to the appropriate handler
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// POST /api/jobs/{id}/cancel
	if r.Method == http.MethodPost && strings.HasSuffix(path, "/cancel") {
		s.app.JobHandler.CancelJobHandler(w, r)
		return
	}

	// GET /api/jobs/{id}
	s.app.JobHandler.GetJobHandler(w, r)
}

// handleProfileRoutes routes profile-related requests to the appropriate handler
func (s *Server) handleProfileRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// POST /api/profiles/{id}/review
	if r.Method == http.MethodPost && strings.HasSuffix(path, "/review") {
		s.app.ReviewHandler.ReviewActionHandler(w, r)
		return
	}

	// GET /api/profiles/{id}
	s.app.ReviewHandler.GetProfileHandler(w, r)
}
