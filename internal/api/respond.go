// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/rentmesh/rentmesh/internal/domain"
	"github.com/rentmesh/rentmesh/internal/log"
)

// errorBody is the wire shape of every error answer.
type errorBody struct {
	Code      string `json:"code"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func httpStatusFor(code domain.Code) int {
	switch code {
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeAlreadyExists:
		return http.StatusConflict
	case domain.CodePermissionDenied:
		return http.StatusForbidden
	case domain.CodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case domain.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	case domain.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithComponentFromContext(r.Context(), "api").Error().Err(err).Msg("encoding response failed")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.CodeOf(err)
	status := httpStatusFor(code)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Internal details stay in the log, not on the wire.
		log.WithComponentFromContext(r.Context(), "api").Error().Err(err).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, r, status, errorBody{
		Code:      string(code),
		Reason:    domain.ReasonOf(err),
		Message:   msg,
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}

func decodeBody(r *http.Request, into any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return domain.WrapE(domain.CodeInvalidArgument, "", err, "malformed request body")
	}
	return nil
}
