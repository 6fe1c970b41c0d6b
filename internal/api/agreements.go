// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rentmesh/rentmesh/internal/cache"
	"github.com/rentmesh/rentmesh/internal/domain"
)

type createAgreementBody struct {
	AgentID      string     `json:"agent_id,omitempty"` // admin only; agents imply themselves
	SourceID     string     `json:"source_id"`
	AgreementRef string     `json:"agreement_ref"`
	ValidFrom    *time.Time `json:"valid_from,omitempty"`
	ValidTo      *time.Time `json:"valid_to,omitempty"`
}

func (s *Server) createAgreement(w http.ResponseWriter, r *http.Request) {
	var body createAgreementBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	p := principalFrom(r.Context())
	agentID := body.AgentID
	switch p.Type {
	case domain.CompanyAgent:
		agentID = p.CompanyID
	case domain.CompanyAdmin:
		if agentID == "" {
			writeError(w, r, domain.E(domain.CodeInvalidArgument, "", "agent_id is required"))
			return
		}
	default:
		writeError(w, r, domain.E(domain.CodePermissionDenied, "", "sources do not open agreements"))
		return
	}
	a, err := s.Agreements.CreateDraft(r.Context(), agentID, body.SourceID, body.AgreementRef, body.ValidFrom, body.ValidTo)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, agreementView(a))
}

func (s *Server) listAgreements(w http.ResponseWriter, r *http.Request) {
	status := domain.AgreementStatus(strings.ToUpper(r.URL.Query().Get("status")))
	list, err := s.Agreements.ListForPrincipal(r.Context(), principalFrom(r.Context()), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]agreementJSON, 0, len(list))
	for _, a := range list {
		out = append(out, agreementView(a))
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"agreements": out})
}

func (s *Server) getAgreement(w http.ResponseWriter, r *http.Request) {
	a, err := s.Agreements.Get(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "agreementID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, agreementView(a))
}

func (s *Server) transitionAgreement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agreementID")
	action := chi.URLParam(r, "action")
	a, err := s.Agreements.Transition(r.Context(), principalFrom(r.Context()), id, action)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, agreementView(a))
}

func (s *Server) getCoverage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agreementID")
	a, err := s.Agreements.Get(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	key := cache.CoverageKey(id)
	if s.Cache != nil {
		if cached, ok := s.Cache.Get(key); ok {
			if items, ok := cached.([]domain.CoverageItem); ok {
				writeJSON(w, r, http.StatusOK, map[string]any{"agreement_id": id, "coverage": items})
				return
			}
		}
	}

	items, err := s.Coverage.Effective(r.Context(), id, a.SourceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.Cache != nil {
		s.Cache.Set(key, items, s.CoverageCacheTTL)
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"agreement_id": id, "coverage": items})
}

type overrideBody struct {
	Unlocode string `json:"unlocode"`
	Allowed  bool   `json:"allowed"`
}

// putOverride upserts one allow or deny row. Both parties may shape the
// coverage of their own agreement.
func (s *Server) putOverride(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agreementID")
	if _, err := s.Agreements.Get(r.Context(), principalFrom(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	var body overrideBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Coverage.ValidateCodes(r.Context(), []string{body.Unlocode}); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Overrides.UpsertOverride(r.Context(), id, body.Unlocode, body.Allowed); err != nil {
		writeError(w, r, err)
		return
	}
	if s.Cache != nil {
		s.Cache.Delete(cache.CoverageKey(id))
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"agreement_id": id, "unlocode": body.Unlocode, "allowed": body.Allowed})
}

func (s *Server) deleteOverride(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agreementID")
	code := chi.URLParam(r, "unlocode")
	if _, err := s.Agreements.Get(r.Context(), principalFrom(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Overrides.RemoveOverride(r.Context(), id, code); err != nil {
		writeError(w, r, err)
		return
	}
	if s.Cache != nil {
		s.Cache.Delete(cache.CoverageKey(id))
	}
	w.WriteHeader(http.StatusNoContent)
}
