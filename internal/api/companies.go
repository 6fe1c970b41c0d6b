// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rentmesh/rentmesh/internal/domain"
)

type createCompanyBody struct {
	Type        string                 `json:"type"`
	Name        string                 `json:"name"`
	CompanyCode string                 `json:"company_code,omitempty"`
	Endpoint    *domain.SourceEndpoint `json:"endpoint,omitempty"`
}

func (s *Server) createCompany(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	var body createCompanyBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	t := domain.CompanyType(strings.ToUpper(body.Type))
	switch t {
	case domain.CompanyAgent, domain.CompanySource, domain.CompanyAdmin:
	default:
		writeError(w, r, domain.E(domain.CodeInvalidArgument, "", "type must be AGENT, SOURCE or ADMIN"))
		return
	}
	if body.Name == "" {
		writeError(w, r, domain.E(domain.CodeInvalidArgument, "", "name is required"))
		return
	}
	if body.Endpoint != nil && t != domain.CompanySource {
		writeError(w, r, domain.E(domain.CodeInvalidArgument, "", "only sources carry an endpoint"))
		return
	}
	c := &domain.Company{
		ID:          uuid.NewString(),
		Type:        t,
		Status:      domain.CompanyPendingVerification,
		Name:        body.Name,
		CompanyCode: body.CompanyCode,
		Endpoint:    body.Endpoint,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.Companies.Create(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, companyView(c, true))
}

func (s *Server) getCompany(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "companyID")
	p := principalFrom(r.Context())
	if p.Type != domain.CompanyAdmin && p.CompanyID != id {
		writeError(w, r, domain.E(domain.CodePermissionDenied, "", "companies read only themselves"))
		return
	}
	c, err := s.Companies.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// Endpoint credentials stay between the source and the admins.
	includeEndpoint := p.Type == domain.CompanyAdmin || p.CompanyID == id
	writeJSON(w, r, http.StatusOK, companyView(c, includeEndpoint))
}

func (s *Server) listCompanies(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	t := domain.CompanyType(strings.ToUpper(r.URL.Query().Get("type")))
	switch t {
	case domain.CompanyAgent, domain.CompanySource, domain.CompanyAdmin:
	default:
		writeError(w, r, domain.E(domain.CodeInvalidArgument, "", "type query must name a company type"))
		return
	}
	list, err := s.Companies.ListByType(r.Context(), t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]companyJSON, 0, len(list))
	for _, c := range list {
		out = append(out, companyView(c, true))
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"companies": out})
}

type setStatusBody struct {
	Status string `json:"status"`
}

func (s *Server) setCompanyStatus(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	var body setStatusBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	status := domain.CompanyStatus(strings.ToUpper(body.Status))
	switch status {
	case domain.CompanyPendingVerification, domain.CompanyActive, domain.CompanySuspended:
	default:
		writeError(w, r, domain.E(domain.CodeInvalidArgument, "", "unknown company status %q", body.Status))
		return
	}
	id := chi.URLParam(r, "companyID")
	if err := s.Companies.SetStatus(r.Context(), id, status); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"id": id, "status": status})
}

func (s *Server) verifyCompanyEmail(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "companyID")
	if err := s.Companies.SetEmailVerified(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"id": id, "email_verified": true})
}
