// SPDX-License-Identifier: MIT

package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rentmesh/rentmesh/internal/domain"
	"github.com/rentmesh/rentmesh/internal/fanout"
	"github.com/rentmesh/rentmesh/internal/log"
)

func (s *Server) submitAvailability(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if p.Type != domain.CompanyAgent {
		writeError(w, r, domain.E(domain.CodePermissionDenied, "", "only agents search availability"))
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, r, domain.WrapE(domain.CodeInvalidArgument, "", err, "reading request body"))
		return
	}
	criteria, err := fanout.ParseCriteria(raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.Fanout.Submit(r.Context(), p, criteria)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, result)
}

func (s *Server) pollAvailability(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	jobID := chi.URLParam(r, "requestID")
	ctx := log.ContextWithJobID(r.Context(), jobID)

	sinceSeq, err := queryInt64(r, "since_seq", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	waitMS, err := queryInt64(r, "wait_ms", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := s.Fanout.Poll(ctx, p, jobID, sinceSeq, time.Duration(waitMS)*time.Millisecond)
	if err != nil {
		writeError(w, r, err)
		return
	}

	env, err := s.Envelope.Build(ctx, jobID, resp, s.RecommendedPollMS)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", `"`+env.AggregateETag+`"`)
	if match := r.Header.Get("If-None-Match"); match != "" && match == `"`+env.AggregateETag+`"` {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, r, http.StatusOK, env)
}

func queryInt64(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, domain.E(domain.CodeInvalidArgument, "", "%s must be a non-negative integer", name)
	}
	return v, nil
}
