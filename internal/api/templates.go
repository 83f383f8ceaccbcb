package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/arrsync/internal/models"
)

// TemplateRequest is the body of template create and update
type TemplateRequest struct {
	Name           string                    `json:"name"`
	Description    string                    `json:"description"`
	ServiceType    models.ServiceType        `json:"service_type"`
	Formats        []models.FormatDefinition `json:"formats"`
	Groups         []models.FormatGroup      `json:"groups"`
	QualityProfile models.QualityProfile     `json:"quality_profile"`
	Source         string                    `json:"source"`
}

func (req *TemplateRequest) template(id string) *models.Template {
	return &models.Template{
		ID:             id,
		Name:           req.Name,
		Description:    req.Description,
		ServiceType:    req.ServiceType,
		Formats:        req.Formats,
		Groups:         req.Groups,
		QualityProfile: req.QualityProfile,
		Source:         req.Source,
	}
}

// ImportRequest creates a template from an upstream quality profile
type ImportRequest struct {
	ServiceType models.ServiceType `json:"service_type"`
	Profile     string             `json:"profile"`
	Name        string             `json:"name"`
}

// ScoreRequest is the body of a template format score update
type ScoreRequest struct {
	Score *int `json:"score"`
}

// StrategyRequest changes the sync strategy and auto-delete flag
type StrategyRequest struct {
	SyncStrategy models.SyncStrategy `json:"sync_strategy"`
	AutoDelete   *bool               `json:"auto_delete,omitempty"`
}

// handleTemplatesList handles GET /api/v1/templates
func (s *Server) handleTemplatesList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	filter := models.TemplateListFilter{
		Search:      r.URL.Query().Get("search"),
		ServiceType: models.ServiceType(r.URL.Query().Get("service_type")),
		Source:      r.URL.Query().Get("source"),
		Limit:       limit,
		Offset:      offset,
	}

	templates, total, err := s.engine.ListTemplates(filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if templates == nil {
		templates = []models.Template{}
	}

	s.sendJSON(w, http.StatusOK, ListResponse{
		Items:  templates,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// handleTemplatesCreate handles POST /api/v1/templates
func (s *Server) handleTemplatesCreate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	t := req.template("")
	if err := s.engine.CreateTemplate(t); err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, t)
}

// handleTemplatesImport handles POST /api/v1/templates/import
func (s *Server) handleTemplatesImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Profile == "" {
		s.sendError(w, http.StatusBadRequest, "profile is required")
		return
	}

	t, err := s.engine.ImportTemplate(r.Context(), req.ServiceType, req.Profile, req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, t)
}

// handleTemplatesGet handles GET /api/v1/templates/{id}
func (s *Server) handleTemplatesGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.engine.GetTemplate(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, t)
}

// handleTemplatesUpdate handles PUT /api/v1/templates/{id}
func (s *Server) handleTemplatesUpdate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	t := req.template(chi.URLParam(r, "id"))
	if err := s.engine.UpdateTemplate(t); err != nil {
		s.writeError(w, err)
		return
	}

	updated, err := s.engine.GetTemplate(t.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, updated)
}

// handleTemplatesDelete handles DELETE /api/v1/templates/{id}
func (s *Server) handleTemplatesDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteTemplate(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFormatScore handles PUT /api/v1/templates/{id}/formats/{trashId}/score
func (s *Server) handleFormatScore(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Score == nil {
		s.sendError(w, http.StatusBadRequest, "score is required")
		return
	}

	id, trashID := chi.URLParam(r, "id"), chi.URLParam(r, "trashId")
	if err := s.engine.UpdateFormatScore(id, trashID, *req.Score); err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"trash_id": trashID, "score": *req.Score})
}

// handleTemplateMappings handles GET /api/v1/templates/{id}/mappings
func (s *Server) handleTemplateMappings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.engine.GetTemplate(id); err != nil {
		s.writeError(w, err)
		return
	}

	mappings, err := s.engine.MappingsForTemplate(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if mappings == nil {
		mappings = []models.DeploymentMapping{}
	}
	s.sendJSON(w, http.StatusOK, mappings)
}

// handleBulkStrategy handles PUT /api/v1/templates/{id}/strategy
func (s *Server) handleBulkStrategy(w http.ResponseWriter, r *http.Request) {
	var req StrategyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	updated, err := s.engine.BulkSetStrategy(chi.URLParam(r, "id"), req.SyncStrategy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"updated": updated, "sync_strategy": req.SyncStrategy})
}

// handleCatalog handles GET /api/v1/catalogs/{serviceType}
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.Catalog(r.Context(), models.ServiceType(chi.URLParam(r, "serviceType")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}
