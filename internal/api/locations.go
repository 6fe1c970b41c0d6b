// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rentmesh/rentmesh/internal/domain"
	"github.com/rentmesh/rentmesh/internal/log"
)

func (s *Server) listLocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, r, domain.E(domain.CodeInvalidArgument, "", "limit must be a non-negative integer"))
			return
		}
		limit = v
	}
	rows, err := s.Locations.ListUNLocodes(r.Context(), q.Get("country"), q.Get("q"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"locations": rows})
}

// syncSourceLocations pulls the adapter's reported service area and
// reconciles it against the dictionary-backed coverage rows.
func (s *Server) syncSourceLocations(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")
	p := principalFrom(r.Context())
	if p.Type != domain.CompanyAdmin && !(p.Type == domain.CompanySource && p.CompanyID == sourceID) {
		writeError(w, r, domain.E(domain.CodePermissionDenied, "", "sources sync only their own locations"))
		return
	}

	a, err := s.Adapters.Get(r.Context(), sourceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	reported, err := a.Locations(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.Locations.ReplaceSourceLocations(r.Context(), sourceID, reported)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.WithComponentFromContext(r.Context(), "api").Info().
		Str(log.FieldSourceID, sourceID).
		Int("added", result.Added).
		Int("removed", result.Removed).
		Int("unknown", result.Unknown).
		Msg("source locations synced")
	writeJSON(w, r, http.StatusOK, result)
}
