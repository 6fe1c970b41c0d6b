// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rentmesh/rentmesh/internal/domain"
)

func (s *Server) listSourceHealth(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	list, err := s.Health.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]sourceHealthJSON, 0, len(list))
	for _, h := range list {
		out = append(out, sourceHealthView(h))
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"sources": out})
}

func (s *Server) resetSourceHealth(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	sourceID := chi.URLParam(r, "sourceID")
	if err := s.Health.Reset(r.Context(), sourceID, principalFrom(r.Context()).CompanyID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// IntegrityChecker runs a structural check of the relational store and
// returns the problems found, nil when healthy.
type IntegrityChecker func(ctx context.Context, mode string) ([]string, error)

func (s *Server) checkIntegrity(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	if s.Integrity == nil {
		writeError(w, r, domain.E(domain.CodeUnavailable, "", "integrity checks are not configured"))
		return
	}
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "quick"
	}
	problems, err := s.Integrity(r.Context(), mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"healthy":  len(problems) == 0,
		"problems": problems,
	})
}
