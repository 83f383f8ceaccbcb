package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/arrsync/internal/deploy"
	"github.com/foxzi/arrsync/internal/models"
)

// DeployRequest is the body of a single deployment
type DeployRequest struct {
	Resolutions  map[string]models.Resolution `json:"resolutions"`
	SyncStrategy models.SyncStrategy          `json:"sync_strategy"`
}

// BulkDeployRequest is the body of a bulk deployment
type BulkDeployRequest struct {
	InstanceIDs []string                                `json:"instance_ids"`
	Strategies  map[string]models.SyncStrategy          `json:"sync_strategies"`
	Resolutions map[string]map[string]models.Resolution `json:"resolutions"`
}

// ResolutionRequest records one conflict decision
type ResolutionRequest struct {
	Resolution models.Resolution `json:"resolution"`
}

// DeployErrorResponse carries the failed entry of an unreachable deployment
type DeployErrorResponse struct {
	Error string               `json:"error"`
	Entry *models.HistoryEntry `json:"entry,omitempty"`
}

func pair(r *http.Request) (string, string) {
	return chi.URLParam(r, "id"), chi.URLParam(r, "instanceId")
}

// handlePreview handles GET /api/v1/templates/{id}/instances/{instanceId}/preview
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	templateID, instanceID := pair(r)
	plan, err := s.engine.Preview(r.Context(), templateID, instanceID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, plan)
}

// handleDeploy handles POST /api/v1/templates/{id}/instances/{instanceId}/deploy
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req DeployRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	templateID, instanceID := pair(r)
	entry, err := s.engine.Deploy(r.Context(), deploy.Request{
		TemplateID:   templateID,
		InstanceID:   instanceID,
		Resolutions:  req.Resolutions,
		SyncStrategy: req.SyncStrategy,
		DeployedBy:   Identity(r.Context()),
		Trigger:      models.TriggerManual,
	})
	if err != nil {
		if errors.Is(err, deploy.ErrInstanceUnreachable) && entry != nil {
			s.sendJSON(w, http.StatusBadGateway, DeployErrorResponse{Error: err.Error(), Entry: entry})
			return
		}
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, entry)
}

// handleBulkDeploy handles POST /api/v1/templates/{id}/bulk-deploy
func (s *Server) handleBulkDeploy(w http.ResponseWriter, r *http.Request) {
	var req BulkDeployRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.engine.BulkDeploy(r.Context(), deploy.BulkRequest{
		TemplateID:  chi.URLParam(r, "id"),
		InstanceIDs: req.InstanceIDs,
		Strategies:  req.Strategies,
		Resolutions: req.Resolutions,
		DeployedBy:  Identity(r.Context()),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, result)
}

// handleResolutionsGet handles GET .../resolutions
func (s *Server) handleResolutionsGet(w http.ResponseWriter, r *http.Request) {
	templateID, instanceID := pair(r)
	s.sendJSON(w, http.StatusOK, s.engine.Resolutions(templateID, instanceID))
}

// handleResolutionSet handles PUT .../resolutions/{trashId}
func (s *Server) handleResolutionSet(w http.ResponseWriter, r *http.Request) {
	var req ResolutionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	templateID, instanceID := pair(r)
	if err := s.engine.SetResolution(templateID, instanceID, chi.URLParam(r, "trashId"), req.Resolution); err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.engine.Resolutions(templateID, instanceID))
}

// handleResolutionsReset handles DELETE .../resolutions
func (s *Server) handleResolutionsReset(w http.ResponseWriter, r *http.Request) {
	templateID, instanceID := pair(r)
	s.engine.ResetResolutions(templateID, instanceID)
	w.WriteHeader(http.StatusNoContent)
}

// handleStrategyGet handles GET .../strategy
func (s *Server) handleStrategyGet(w http.ResponseWriter, r *http.Request) {
	templateID, instanceID := pair(r)
	info, err := s.engine.Strategy(templateID, instanceID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, info)
}

// handleStrategySet handles PUT .../strategy
func (s *Server) handleStrategySet(w http.ResponseWriter, r *http.Request) {
	var req StrategyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.SyncStrategy == "" && req.AutoDelete == nil {
		s.sendError(w, http.StatusBadRequest, "sync_strategy or auto_delete is required")
		return
	}

	templateID, instanceID := pair(r)
	if req.SyncStrategy != "" {
		if err := s.engine.SetStrategy(templateID, instanceID, req.SyncStrategy); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if req.AutoDelete != nil {
		if err := s.engine.SetAutoDelete(templateID, instanceID, *req.AutoDelete); err != nil {
			s.writeError(w, err)
			return
		}
	}

	info, err := s.engine.Strategy(templateID, instanceID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, info)
}

// handleStrategyUnlink handles DELETE .../strategy
func (s *Server) handleStrategyUnlink(w http.ResponseWriter, r *http.Request) {
	templateID, instanceID := pair(r)
	if err := s.engine.Unlink(templateID, instanceID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
