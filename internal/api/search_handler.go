// File path: internal/api/search_handler.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/meridianhq/opql/internal/common"
	"github.com/meridianhq/opql/internal/router"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	var req router.SearchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.WorkspaceID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("workspaceId required"))
		return
	}
	logger.Info("api: search request", "workspace", req.WorkspaceID, "principal", req.Principal.PrincipalID)
	response, err := s.search.Search(r.Context(), req)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// handleSearchStream delivers chunks as newline-delimited JSON, flushing
// after each one so clients see delivery progress.
func (s *Server) handleSearchStream(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	var req router.SearchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.WorkspaceID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("workspaceId required"))
		return
	}

	events, err := s.search.StreamSearch(r.Context(), req)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	encoder := json.NewEncoder(w)
	for event := range events {
		if event.Err != nil {
			_ = encoder.Encode(map[string]string{"error": event.Err.Error()})
			logger.Warn("api: stream aborted", "workspace", req.WorkspaceID, "error", event.Err)
			return
		}
		if err := encoder.Encode(event.Chunk); err != nil {
			logger.Warn("api: stream client gone", "workspace", req.WorkspaceID, "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.search.Validate(req.Query))
}
