package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/foxzi/arrsync/internal/deploy"
	"github.com/foxzi/arrsync/internal/models"
	"github.com/foxzi/arrsync/internal/repository"
	"github.com/foxzi/arrsync/internal/scheduler"
)

// HealthResponse is the health check response
type HealthResponse struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version"`
	Uptime    string                  `json:"uptime"`
	Scheduler *models.SchedulerStatus `json:"scheduler,omitempty"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// ListResponse wraps paginated lists
type ListResponse struct {
	Items  any `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).String(),
	}
	if s.scheduler != nil {
		st := s.scheduler.Status()
		resp.Scheduler = &st
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleInstances handles GET /api/v1/instances
func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.engine.InstanceStatuses(r.Context()))
}

// handleSchedulerRun handles POST /api/v1/scheduler/run
func (s *Server) handleSchedulerRun(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.sendError(w, http.StatusServiceUnavailable, "scheduler is not running")
		return
	}

	if r.URL.Query().Get("async") == "true" {
		queued := s.scheduler.Trigger()
		s.sendJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
		return
	}

	result, err := s.scheduler.Run(r.Context(), models.RunTriggerManual)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, result)
}

// handleSchedulerStatus handles GET /api/v1/scheduler/status
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.sendJSON(w, http.StatusOK, models.SchedulerStatus{})
		return
	}
	s.sendJSON(w, http.StatusOK, s.scheduler.Status())
}

// handleSchedulerRuns handles GET /api/v1/scheduler/runs
func (s *Server) handleSchedulerRuns(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.sendJSON(w, http.StatusOK, []models.RunResult{})
		return
	}
	limit, _ := pagination(r, 20)
	runs, err := s.scheduler.Runs(limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []models.RunResult{}
	}
	s.sendJSON(w, http.StatusOK, runs)
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

// writeError maps engine errors to HTTP statuses
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		if s.collector != nil {
			s.collector.TrackAPIError("internal")
		}
		s.sendError(w, status, "internal error")
		return
	}
	s.sendError(w, status, err.Error())
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, deploy.ErrTemplateNotFound),
		errors.Is(err, deploy.ErrInstanceNotFound),
		errors.Is(err, deploy.ErrHistoryNotFound),
		errors.Is(err, deploy.ErrCatalogNotFound),
		errors.Is(err, deploy.ErrProfileNotFound),
		errors.Is(err, repository.ErrMappingNotFound):
		return http.StatusNotFound
	case errors.Is(err, deploy.ErrAlreadyRolledBack),
		errors.Is(err, deploy.ErrTemplateExists),
		errors.Is(err, scheduler.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, deploy.ErrInvalidRequest),
		errors.Is(err, deploy.ErrServiceMismatch),
		errors.Is(err, deploy.ErrUnresolvedConflict):
		return http.StatusBadRequest
	case errors.Is(err, deploy.ErrInstanceUnreachable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads the request body into v; an empty body leaves v untouched
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: invalid JSON: %v", deploy.ErrInvalidRequest, err)
	}
	return nil
}

// pagination reads limit and offset query parameters
func pagination(r *http.Request, defaultLimit int) (int, int) {
	limit, offset := defaultLimit, 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if v, err := strconv.Atoi(limitStr); err == nil && v > 0 {
			limit = min(v, 500)
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if v, err := strconv.Atoi(offsetStr); err == nil && v > 0 {
			offset = v
		}
	}
	return limit, offset
}
