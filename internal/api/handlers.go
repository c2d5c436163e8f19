package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/meridianlab/profile-crawler/internal/crawler"
)

// Job submission bounds.
const (
	minJobURLs = 1
	maxJobURLs = 100
)

type submitJobRequest struct {
	URLs     []string `json:"urls"`
	Priority string   `json:"priority"`
}

type submitJobResponse struct {
	JobID    string              `json:"job_id"`
	Status   crawler.JobStatus   `json:"status"`
	Priority crawler.JobPriority `json:"priority"`
	Total    int                 `json:"total"`
}

type jobResponse struct {
	Job         crawler.Job          `json:"job"`
	Counts      crawler.StatusCounts `json:"counts"`
	SuccessRate float64              `json:"success_rate"`
}

// submitJob handles POST /v1/jobs: it validates the URL list, persists
// the job with pending items and enqueues it for the dispatcher.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	urls, err := validateURLs(req.URLs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	priority := crawler.JobPriority(req.Priority)
	if priority == "" {
		priority = crawler.PriorityNormal
	}
	if !priority.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown priority %q", req.Priority))
		return
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate job id")
		return
	}
	now := s.clock.Now()
	job := crawler.Job{
		ID:        jobID,
		Status:    crawler.JobStatusQueued,
		Priority:  priority,
		Total:     len(urls),
		CreatedAt: now,
		UpdatedAt: now,
	}

	items := make([]crawler.JobItem, 0, len(urls))
	for _, u := range urls {
		itemID, err := s.idGen.NewID()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "generate item id")
			return
		}
		items = append(items, crawler.JobItem{
			ID:        itemID,
			JobID:     jobID,
			URL:       u,
			Status:    crawler.ItemStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if err := s.jobs.CreateJob(r.Context(), job, items); err != nil {
		s.logger.Error("create job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create job")
		return
	}

	queueItem := crawler.QueueItem{
		JobID:     jobID,
		Priority:  priority,
		Submitted: now.Unix(),
	}
	if err := s.dispatch.Enqueue(r.Context(), queueItem); err != nil {
		s.logger.Error("enqueue job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	writeJSON(w, http.StatusAccepted, submitJobResponse{
		JobID:    jobID,
		Status:   job.Status,
		Priority: priority,
		Total:    job.Total,
	})
}

// getJob handles GET /v1/jobs/{job_id}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "load job")
		return
	}
	items, err := s.jobs.ListItems(r.Context(), jobID)
	if err != nil {
		s.logger.Error("list job items failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "load job items")
		return
	}

	writeJSON(w, http.StatusOK, jobResponse{
		Job:         job,
		Counts:      crawler.GetStatusCounts(items),
		SuccessRate: crawler.SuccessRate(items),
	})
}

// listJobItems handles GET /v1/jobs/{job_id}/items.
func (s *Server) listJobItems(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	items, err := s.jobs.ListItems(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("list job items failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "load job items")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// getProfile handles GET /v1/profiles?source_url=.
func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	sourceURL := strings.TrimSpace(r.URL.Query().Get("source_url"))
	if sourceURL == "" {
		writeError(w, http.StatusBadRequest, "source_url query parameter is required")
		return
	}

	profile, err := s.profiles.GetBySourceURL(r.Context(), sourceURL)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		s.logger.Error("get profile failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "load profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": profile})
}

// validateURLs enforces the submission bounds and requires absolute
// http(s) URLs. Surrounding whitespace is trimmed.
func validateURLs(raw []string) ([]string, error) {
	if len(raw) < minJobURLs {
		return nil, fmt.Errorf("at least %d url is required", minJobURLs)
	}
	if len(raw) > maxJobURLs {
		return nil, fmt.Errorf("at most %d urls are allowed per job", maxJobURLs)
	}

	urls := make([]string, 0, len(raw))
	for _, candidate := range raw {
		candidate = strings.TrimSpace(candidate)
		u, err := url.Parse(candidate)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid url %q", candidate)
		}
		urls = append(urls, candidate)
	}
	return urls, nil
}
