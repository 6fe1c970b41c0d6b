// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rentmesh/rentmesh/internal/domain"
	"github.com/rentmesh/rentmesh/internal/log"
)

// Headers filled in by the fronting auth proxy. Requests arriving without
// them are anonymous and rejected by principal-guarded routes.
const (
	headerRequestID   = "X-Request-Id"
	headerCompanyID   = "X-Company-Id"
	headerCompanyType = "X-Company-Type"
	headerCompanyRole = "X-Company-Role"
)

type principalKeyType struct{}

var principalKey principalKeyType

// requestID honors an inbound X-Request-Id and mints one otherwise.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		ctx := log.ContextWithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// principal lifts the auth-proxy identity headers into a domain.Principal.
func principal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		companyID := r.Header.Get(headerCompanyID)
		if companyID == "" {
			writeError(w, r, domain.E(domain.CodePermissionDenied, "", "missing caller identity"))
			return
		}
		p := domain.Principal{
			CompanyID: companyID,
			Type:      domain.CompanyType(r.Header.Get(headerCompanyType)),
			Role:      r.Header.Get(headerCompanyRole),
		}
		switch p.Type {
		case domain.CompanyAgent, domain.CompanySource, domain.CompanyAdmin:
		default:
			writeError(w, r, domain.E(domain.CodePermissionDenied, "", "unknown company type %q", p.Type))
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, p)
		if p.Type == domain.CompanyAgent {
			ctx = log.ContextWithAgentID(ctx, p.CompanyID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// principalFrom returns the caller set by the principal middleware.
func principalFrom(ctx context.Context) domain.Principal {
	p, _ := ctx.Value(principalKey).(domain.Principal)
	return p
}

func requireAdmin(ctx context.Context) error {
	if p := principalFrom(ctx); p.Type != domain.CompanyAdmin {
		return domain.E(domain.CodePermissionDenied, "", "admin role required")
	}
	return nil
}

// accessLog emits one structured line per request.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.WithComponentFromContext(r.Context(), "api").Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
