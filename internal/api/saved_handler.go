// File path: internal/api/saved_handler.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	chi "github.com/go-chi/chi/v5"

	"github.com/meridianhq/opql/internal/entity"
	"github.com/meridianhq/opql/internal/router"
)

// principalFromRequest decodes the caller identity from the
// X-Opql-Principal header. Upstream auth middleware is expected to set it;
// the demo binary sends it directly.
func principalFromRequest(r *http.Request) (entity.Principal, error) {
	raw := strings.TrimSpace(r.Header.Get("X-Opql-Principal"))
	if raw == "" {
		return entity.Principal{}, fmt.Errorf("missing X-Opql-Principal header")
	}
	var principal entity.Principal
	if err := json.Unmarshal([]byte(raw), &principal); err != nil {
		return entity.Principal{}, fmt.Errorf("decode principal header: %w", err)
	}
	return principal, nil
}

func (s *Server) handleSavedSearchList(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	workspaceID := chi.URLParam(r, "workspace")
	records, err := s.search.ListSavedSearches(r.Context(), workspaceID, principal)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"savedSearches": records})
}

func (s *Server) handleSavedSearchUpsert(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	workspaceID := chi.URLParam(r, "workspace")
	var record router.SavedSearchRecord
	if err := decodeBody(r, &record); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	saved, err := s.search.UpsertSavedSearch(r.Context(), workspaceID, principal, record)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleSavedSearchDelete(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	workspaceID := chi.URLParam(r, "workspace")
	id := chi.URLParam(r, "id")
	if err := s.search.DeleteSavedSearch(r.Context(), workspaceID, id, principal); err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleAlertList(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	workspaceID := chi.URLParam(r, "workspace")
	records, err := s.search.ListAlerts(r.Context(), workspaceID, principal)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": records})
}

func (s *Server) handleAlertUpsert(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	workspaceID := chi.URLParam(r, "workspace")
	var record router.SearchAlertRecord
	if err := decodeBody(r, &record); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	saved, err := s.search.UpsertAlert(r.Context(), workspaceID, principal, record)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleAlertDelete(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	workspaceID := chi.URLParam(r, "workspace")
	id := chi.URLParam(r, "id")
	if err := s.search.DeleteAlert(r.Context(), workspaceID, id, principal); err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	workspaceID := chi.URLParam(r, "workspace")
	diag, err := s.search.Diagnose(r.Context(), workspaceID, principal)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diag)
}
