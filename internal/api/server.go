// File path: internal/api/server.go

// Package api exposes the search router and analytics engine over HTTP.
// Handlers translate the error taxonomy into status codes and never reach
// around the router's gates.
package api

import (
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"

	"github.com/meridianhq/opql/internal/analytics"
	"github.com/meridianhq/opql/internal/common"
	"github.com/meridianhq/opql/internal/engine"
	"github.com/meridianhq/opql/internal/entity"
	"github.com/meridianhq/opql/internal/router"
	"github.com/meridianhq/opql/internal/store"
)

type Server struct {
	router    chi.Router
	search    *router.Router
	analytics *analytics.Engine
}

// NewServer wires the HTTP surface over a search router and an analytics
// engine.
func NewServer(search *router.Router, analyticsEngine *analytics.Engine) (*Server, error) {
	if search == nil {
		return nil, fmt.Errorf("search router required")
	}
	srv := &Server{
		router:    chi.NewRouter(),
		search:    search,
		analytics: analyticsEngine,
	}
	srv.routes()
	common.Logger().Info("api: server ready")
	return srv, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	logger := common.Logger()
	logger.Info("api: configuring routes")
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start), "remote", r.RemoteAddr)
		})
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Post("/api/search", s.handleSearch)
	s.router.Post("/api/search/stream", s.handleSearchStream)
	s.router.Post("/api/search/validate", s.handleValidate)

	s.router.Route("/api/workspaces/{workspace}", func(r chi.Router) {
		r.Get("/saved-searches", s.handleSavedSearchList)
		r.Put("/saved-searches", s.handleSavedSearchUpsert)
		r.Delete("/saved-searches/{id}", s.handleSavedSearchDelete)
		r.Get("/alerts", s.handleAlertList)
		r.Put("/alerts", s.handleAlertUpsert)
		r.Delete("/alerts/{id}", s.handleAlertDelete)
		r.Get("/diagnostics", s.handleDiagnostics)
	})

	if s.analytics != nil {
		s.router.Post("/api/workspaces/{workspace}/analytics/query", s.handleAnalyticsQuery)
		s.router.Post("/api/workspaces/{workspace}/analytics/reports/{id}/run", s.handleReportRun)
		s.router.Post("/api/workspaces/{workspace}/analytics/dashboards/{id}/run", s.handleDashboardRun)
		s.router.Post("/api/workspaces/{workspace}/analytics/dashboards/{id}/tiles/{tile}/run", s.handleTileRun)
	}

	s.router.Get("/v1/logs", s.handleLogs)
	s.router.Method(http.MethodGet, "/debug/vars", expvar.Handler())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger := common.Logger()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeTaxonomyError maps the shared error taxonomy onto HTTP statuses.
func writeTaxonomyError(w http.ResponseWriter, err error) {
	var rateErr *router.RateLimitError
	switch {
	case router.IsPermissionError(err):
		writeError(w, http.StatusForbidden, err)
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", fmt.Sprintf("%d", rateErr.RetryAfter))
		writeError(w, http.StatusTooManyRequests, err)
	case engine.IsPlanningError(err):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case isRepositoryError(err):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func isRepositoryError(err error) bool {
	var repoErr *entity.RepositoryError
	return errors.As(err, &repoErr)
}

func decodeBody(r *http.Request, into interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": common.LogEntries()})
}
