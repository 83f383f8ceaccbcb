package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/arrsync/internal/models"
)

// handleOverridesList handles GET .../overrides
func (s *Server) handleOverridesList(w http.ResponseWriter, r *http.Request) {
	templateID, instanceID := pair(r)
	overrides, err := s.engine.Overrides(templateID, instanceID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if overrides == nil {
		overrides = []models.InstanceOverride{}
	}
	s.sendJSON(w, http.StatusOK, overrides)
}

// handleOverrideSet handles PUT .../overrides/{trashId}
func (s *Server) handleOverrideSet(w http.ResponseWriter, r *http.Request) {
	var upd models.OverrideUpdate
	if err := decodeJSON(r, &upd); err != nil {
		s.writeError(w, err)
		return
	}
	upd.TrashID = chi.URLParam(r, "trashId")

	templateID, instanceID := pair(r)
	o, err := s.engine.SetOverride(templateID, instanceID, upd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if o == nil {
		// Every field cleared, the row is gone
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.sendJSON(w, http.StatusOK, o)
}

// handleOverrideDelete handles DELETE .../overrides/{trashId}
func (s *Server) handleOverrideDelete(w http.ResponseWriter, r *http.Request) {
	templateID, instanceID := pair(r)
	deleted, err := s.engine.DeleteOverride(templateID, instanceID, chi.URLParam(r, "trashId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !deleted {
		s.sendError(w, http.StatusNotFound, "override not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOverridesDeleteAll handles DELETE .../overrides
func (s *Server) handleOverridesDeleteAll(w http.ResponseWriter, r *http.Request) {
	templateID, instanceID := pair(r)
	n, err := s.engine.DeleteOverrides(templateID, instanceID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// handleOverridePromote handles POST .../overrides/{trashId}/promote
func (s *Server) handleOverridePromote(w http.ResponseWriter, r *http.Request) {
	templateID, instanceID := pair(r)
	trashID := chi.URLParam(r, "trashId")
	score, err := s.engine.PromoteOverride(templateID, instanceID, trashID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"trash_id": trashID, "score": score})
}
