package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/arrsync/internal/models"
)

// handleHistoryList handles GET /api/v1/history
func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	filter := models.HistoryFilter{
		TemplateID: r.URL.Query().Get("template_id"),
		InstanceID: r.URL.Query().Get("instance_id"),
		Limit:      limit,
		Offset:     offset,
	}

	entries, total, err := s.engine.ListHistory(filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}

	s.sendJSON(w, http.StatusOK, ListResponse{
		Items:  entries,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// handleHistoryGet handles GET /api/v1/history/{id}
func (s *Server) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	entry, err := s.engine.GetHistory(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, entry)
}

// handleUndeploy handles POST /api/v1/history/{id}/undeploy
func (s *Server) handleUndeploy(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Undeploy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, result)
}

// handleHistoryDelete handles DELETE /api/v1/history/{id}
func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteHistory(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
