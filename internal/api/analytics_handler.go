// File path: internal/api/analytics_handler.go
package api

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"github.com/meridianhq/opql/internal/analytics"
	"github.com/meridianhq/opql/internal/common"
)

func (s *Server) handleAnalyticsQuery(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	workspaceID := chi.URLParam(r, "workspace")
	var query analytics.ReportQuery
	if err := decodeBody(r, &query); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.analytics.RunQuery(r.Context(), workspaceID, principal, query)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReportRun(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	workspaceID := chi.URLParam(r, "workspace")
	reportID := chi.URLParam(r, "id")
	common.Logger().Info("api: report run", "workspace", workspaceID, "report", reportID)
	result, err := s.analytics.RunReport(r.Context(), workspaceID, reportID, principal)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDashboardRun(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	workspaceID := chi.URLParam(r, "workspace")
	dashboardID := chi.URLParam(r, "id")
	results, err := s.analytics.RunDashboard(r.Context(), workspaceID, dashboardID, principal)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tiles": results})
}

func (s *Server) handleTileRun(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	workspaceID := chi.URLParam(r, "workspace")
	dashboardID := chi.URLParam(r, "id")
	tileID := chi.URLParam(r, "tile")
	result, err := s.analytics.RunTile(r.Context(), workspaceID, dashboardID, tileID, principal)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
