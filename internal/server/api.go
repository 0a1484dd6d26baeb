// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bodaay/GitHubFolderDownloader/pkg/ghfolder"
)

// DownloadRequest is the request body for starting a download.
// Note: Output path is NOT configurable via API for security reasons.
// The server always writes under its configured OutputDir.
type DownloadRequest struct {
	URL    string                `json:"url"`
	Ref    string                `json:"ref,omitempty"`
	Path   string                `json:"path,omitempty"`
	Filter ghfolder.FilterConfig `json:"filter"`
	Force  bool                  `json:"force,omitempty"`
	DryRun bool                  `json:"dryRun,omitempty"`
}

func (r DownloadRequest) job() ghfolder.Job {
	return ghfolder.Job{URL: r.URL, Ref: r.Ref, Path: r.Path, Filter: r.Filter}
}

// PlanResponse is the response for a dry-run/plan request.
type PlanResponse struct {
	Repo       string     `json:"repo"`
	Ref        string     `json:"ref"`
	Path       string     `json:"path,omitempty"`
	Commit     string     `json:"commit"`
	Files      []PlanFile `json:"files"`
	Excluded   int        `json:"excluded"`
	TotalSize  int64      `json:"totalSize"`
	TotalFiles int        `json:"totalFiles"`
}

// PlanFile represents a file in the plan.
type PlanFile struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Binary bool   `json:"binary"`
}

// SettingsResponse represents current settings.
type SettingsResponse struct {
	Token          string `json:"token,omitempty"`
	OutputDir      string `json:"outputDir"`
	MaxConcurrency int    `json:"maxConcurrency"`
	MaxRetries     int    `json:"maxRetries"`
	Verify         string `json:"verify"`
	MaxActiveJobs  int    `json:"maxActiveJobs"`
	Endpoint       string `json:"endpoint,omitempty"`
}

// CacheResponse describes the shared cache.
type CacheResponse struct {
	Location string              `json:"location"`
	Stats    ghfolder.CacheStats `json:"stats"`
}

// PruneRequest bounds a cache prune. Empty fields use the defaults.
type PruneRequest struct {
	MaxAge  string `json:"maxAge,omitempty"`
	MaxSize string `json:"maxSize,omitempty"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a simple success message.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// --- Handlers ---

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.config.Version,
		"time":           time.Now().UTC().Format(time.RFC3339),
		"jobs":           len(s.jobs.ListJobs()),
		"quotaRemaining": s.jobs.Quota().Remaining(),
	})
}

// handleStartDownload starts a new download job.
func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	// Validate
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: url", "")
		return
	}

	// If dry-run, return the plan
	if req.DryRun {
		s.handlePlanInternal(w, r, req)
		return
	}

	// Create and start the job (or return existing if duplicate)
	job, wasExisting, err := s.jobs.CreateJob(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid download request", err.Error())
		return
	}

	// Return appropriate status
	if wasExisting {
		// Job already exists for this target - return it with 200
		writeJSON(w, http.StatusOK, map[string]any{
			"job":     job,
			"message": "Download already in progress",
		})
	} else {
		// New job created
		writeJSON(w, http.StatusAccepted, job)
	}
}

// handlePlan returns a download plan without starting the download.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	req.DryRun = true
	s.handlePlanInternal(w, r, req)
}

func (s *Server) handlePlanInternal(w http.ResponseWriter, r *http.Request, req DownloadRequest) {
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: url", "")
		return
	}
	job := req.job()
	if _, err := ghfolder.ResolveTarget(job); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid repository URL", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	p, err := ghfolder.PlanRepo(ctx, job, s.jobs.Config().settings())
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, ghfolder.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, ghfolder.ErrUnknownPreset), errors.Is(err, ghfolder.ErrInvalidURL):
			status = http.StatusBadRequest
		}
		writeError(w, status, "Failed to scan repository", err.Error())
		return
	}

	resp := PlanResponse{
		Repo:       p.Target.FullName(),
		Ref:        p.Target.Ref,
		Path:       p.Target.Path,
		Commit:     p.Commit,
		Files:      make([]PlanFile, 0, len(p.Items)),
		Excluded:   p.Excluded,
		TotalSize:  p.TotalSize,
		TotalFiles: len(p.Items),
	}
	for _, it := range p.Items {
		resp.Files = append(resp.Files, PlanFile{Path: it.Path, Size: it.Size, Binary: ghfolder.IsBinaryPath(it.Path)})
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleListJobs returns all jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.ListJobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetJob returns a specific job.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID", "")
		return
	}

	job, ok := s.jobs.GetJob(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found", "")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels an active job or removes a finished one.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID", "")
		return
	}

	switch {
	case s.jobs.CancelJob(id):
		writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Job cancelled"})
	case s.jobs.DeleteJob(id):
		writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Job removed"})
	default:
		writeError(w, http.StatusNotFound, "Job not found", "")
	}
}

// handleGetSettings returns current settings.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cfg := s.jobs.Config()

	// Don't expose full token, just indicate if set
	tokenStatus := ""
	if cfg.Token != "" {
		tokenStatus = "********" + cfg.Token[max(0, len(cfg.Token)-4):]
	}

	writeJSON(w, http.StatusOK, SettingsResponse{
		Token:          tokenStatus,
		OutputDir:      cfg.OutputDir,
		MaxConcurrency: cfg.MaxConcurrency,
		MaxRetries:     cfg.MaxRetries,
		Verify:         cfg.Verify,
		MaxActiveJobs:  cfg.MaxActiveJobs,
		Endpoint:       cfg.Endpoint,
	})
}

// handleUpdateSettings updates settings used by new jobs.
// Note: The output directory cannot be changed via API for security.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token          *string `json:"token,omitempty"`
		MaxConcurrency *int    `json:"maxConcurrency,omitempty"`
		MaxRetries     *int    `json:"maxRetries,omitempty"`
		Verify         *string `json:"verify,omitempty"`
		// Note: OutputDir is NOT updatable via API for security
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if req.MaxConcurrency != nil && (*req.MaxConcurrency < 1 || *req.MaxConcurrency > 20) {
		writeError(w, http.StatusBadRequest, "maxConcurrency must be in 1..20", "")
		return
	}
	if req.MaxRetries != nil && (*req.MaxRetries < 1 || *req.MaxRetries > 10) {
		writeError(w, http.StatusBadRequest, "maxRetries must be in 1..10", "")
		return
	}
	if req.Token != nil {
		if err := ghfolder.ValidateToken(*req.Token); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid token", err.Error())
			return
		}
	}
	if req.Verify != nil {
		switch *req.Verify {
		case ghfolder.VerifyNone, ghfolder.VerifySize, ghfolder.VerifyHash:
		default:
			writeError(w, http.StatusBadRequest, "verify must be none, size or hash", "")
			return
		}
	}

	// Update config (only safe fields)
	s.jobs.UpdateConfig(func(c *Config) {
		if req.Token != nil {
			c.Token = *req.Token
		}
		if req.MaxConcurrency != nil {
			c.MaxConcurrency = *req.MaxConcurrency
		}
		if req.MaxRetries != nil {
			c.MaxRetries = *req.MaxRetries
		}
		if req.Verify != nil {
			c.Verify = *req.Verify
		}
	})

	writeJSON(w, http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Settings updated",
	})
}

// handleCacheStats reports the shared cache.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	cache, err := s.cacheStore(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Cache unavailable", err.Error())
		return
	}
	loc := s.config.CacheURL
	if loc == "" {
		loc = ghfolder.DefaultCacheDir()
	}
	writeJSON(w, http.StatusOK, CacheResponse{Location: loc, Stats: cache.Stats()})
}

// handleCachePrune drops stale and excess cache entries.
func (s *Server) handleCachePrune(w http.ResponseWriter, r *http.Request) {
	var req PruneRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}
	}
	def := ghfolder.DefaultSettings()
	maxAge := def.CacheMaxAge
	if req.MaxAge != "" {
		d, err := time.ParseDuration(req.MaxAge)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid maxAge", err.Error())
			return
		}
		maxAge = d
	}
	maxSize, err := ghfolder.ParseSize(req.MaxSize, def.CacheMaxSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid maxSize", err.Error())
		return
	}

	cache, err := s.cacheStore(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Cache unavailable", err.Error())
		return
	}
	rep, err := cache.Prune(r.Context(), maxAge, maxSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Prune failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Details: details,
	})
}
