// SPDX-License-Identifier: MIT

package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"

	"github.com/rentmesh/rentmesh/internal/domain"
)

// HTTPAdapter speaks the supplier JSON-over-HTTP contract:
//
//	GET  {base}/v1/locations
//	POST {base}/v1/availability
//	POST {base}/v1/bookings
//	POST {base}/v1/bookings/{modify,cancel,check}
//
// Transport failures are retried once; any answer from the supplier, even an
// error status, is final and never retried.
type HTTPAdapter struct {
	sourceID string
	base     string
	auth     string
	client   *http.Client
}

// NewHTTP builds an HTTP adapter for the given endpoint.
func NewHTTP(sourceID string, ep domain.SourceEndpoint) *HTTPAdapter {
	return &HTTPAdapter{
		sourceID: sourceID,
		base:     strings.TrimRight(ep.Address, "/"),
		auth:     ep.Auth,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (a *HTTPAdapter) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, method, a.base+path, bytes.NewReader(body))
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if a.auth != "" {
			req.Header.Set("Authorization", "Bearer "+a.auth)
		}

		resp, err := a.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Unrecoverable(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return retry.Unrecoverable(a.statusError(resp.StatusCode, string(msg)))
		}
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	err := retry.Do(attempt,
		retry.Attempts(2),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	return err
}

// statusError maps a supplier HTTP status to the broker taxonomy.
func (a *HTTPAdapter) statusError(status int, body string) error {
	body = strings.TrimSpace(body)
	switch {
	case status == http.StatusNotFound:
		return domain.E(domain.CodeNotFound, "", "source %s: %s", a.sourceID, body)
	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		return domain.E(domain.CodeFailedPrecondition, "", "source %s: %s", a.sourceID, body)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.E(domain.CodePermissionDenied, "", "source %s: %s", a.sourceID, body)
	case status >= 400 && status < 500:
		return domain.E(domain.CodeInvalidArgument, "", "source %s: %s", a.sourceID, body)
	default:
		return domain.E(domain.CodeUnavailable, "", "source %s answered %d: %s", a.sourceID, status, body)
	}
}

func (a *HTTPAdapter) Locations(ctx context.Context) ([]string, error) {
	var out struct {
		Unlocodes []string `json:"unlocodes"`
	}
	if err := a.do(ctx, http.MethodGet, "/v1/locations", nil, &out); err != nil {
		return nil, err
	}
	return out.Unlocodes, nil
}

func (a *HTTPAdapter) Availability(ctx context.Context, req AvailabilityRequest) ([]domain.Offer, error) {
	var out struct {
		Offers []domain.Offer `json:"offers"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/availability", req, &out); err != nil {
		return nil, err
	}
	normalizeOffers(a.sourceID, req, out.Offers)
	return out.Offers, nil
}

func (a *HTTPAdapter) CreateBooking(ctx context.Context, req BookingCreateRequest) (*BookingResponse, error) {
	var out BookingResponse
	if err := a.do(ctx, http.MethodPost, "/v1/bookings", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAdapter) ModifyBooking(ctx context.Context, req BookingModifyRequest) (*BookingResponse, error) {
	var out BookingResponse
	if err := a.do(ctx, http.MethodPost, "/v1/bookings/modify", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAdapter) CancelBooking(ctx context.Context, ref BookingRef) (*BookingResponse, error) {
	var out BookingResponse
	if err := a.do(ctx, http.MethodPost, "/v1/bookings/cancel", ref, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAdapter) CheckBooking(ctx context.Context, ref BookingRef) (*BookingResponse, error) {
	var out BookingResponse
	if err := a.do(ctx, http.MethodPost, "/v1/bookings/check", ref, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAdapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ SourceAdapter = (*HTTPAdapter)(nil)
