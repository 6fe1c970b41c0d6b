// SPDX-License-Identifier: MIT

package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentmesh/rentmesh/internal/domain"
)

func availReq() AvailabilityRequest {
	return AvailabilityRequest{
		AgreementRef: "AGR-1",
		Criteria: domain.AvailabilityCriteria{
			PickupUnlocode: "GBMAN", DropoffUnlocode: "GBGLA",
			PickupISO: "2025-11-01T10:00:00Z", DropoffISO: "2025-11-03T10:00:00Z",
		},
	}
}

func TestMockOffersAreDeterministic(t *testing.T) {
	m := NewMock("src-1", MockScript{OfferCount: 4})
	ctx := context.Background()

	first, err := m.Availability(ctx, availReq())
	require.NoError(t, err)
	second, err := m.Availability(ctx, availReq())
	require.NoError(t, err)

	require.Len(t, first, 4)
	assert.Equal(t, first, second, "same request yields the same offers")
	assert.NotEqual(t, first[0].SupplierOfferRef, first[1].SupplierOfferRef)

	other := availReq()
	other.Criteria.PickupUnlocode = "GBEDI"
	third, err := m.Availability(ctx, other)
	require.NoError(t, err)
	assert.NotEqual(t, first[0].SupplierOfferRef, third[0].SupplierOfferRef)
}

func TestMockBookingLifecycle(t *testing.T) {
	m := NewMock("src-1", MockScript{})
	ctx := context.Background()

	created, err := m.CreateBooking(ctx, BookingCreateRequest{
		AgreementRef: "AGR-1",
		Rental:       domain.RentalDetails{PickupUnlocode: "GBMAN", DropoffUnlocode: "GBMAN"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, created.Status)
	assert.NotEmpty(t, created.SupplierBookingRef)

	modified, err := m.ModifyBooking(ctx, BookingModifyRequest{
		SupplierBookingRef: created.SupplierBookingRef,
		AgreementRef:       "AGR-1",
		Rental:             domain.RentalDetails{PickupUnlocode: "GBGLA", DropoffUnlocode: "GBGLA"},
	})
	require.NoError(t, err)
	assert.Equal(t, "GBGLA", modified.Rental.PickupUnlocode)

	cancelled, err := m.CancelBooking(ctx, BookingRef{SupplierBookingRef: created.SupplierBookingRef})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, cancelled.Status)

	_, err = m.ModifyBooking(ctx, BookingModifyRequest{SupplierBookingRef: created.SupplierBookingRef})
	assert.ErrorIs(t, err, domain.ErrFailedPrecondition)

	_, err = m.CheckBooking(ctx, BookingRef{SupplierBookingRef: "nope"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMockLatencyHonorsContext(t *testing.T) {
	m := NewMock("src-1", MockScript{Latency: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := m.Availability(ctx, availReq())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify(nil, "s1"))

	err := Classify(context.DeadlineExceeded, "s1")
	assert.ErrorIs(t, err, domain.ErrDeadlineExceeded)

	already := domain.E(domain.CodeInvalidArgument, "", "bad dates")
	classified := Classify(already, "s1")
	assert.ErrorIs(t, classified, domain.ErrInvalidArgument, "classified errors pass through")

	err = Classify(errors.New("connection refused"), "s1")
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestIsRemoteRejection(t *testing.T) {
	assert.True(t, IsRemoteRejection(domain.E(domain.CodeInvalidArgument, "", "x")))
	assert.True(t, IsRemoteRejection(domain.E(domain.CodeFailedPrecondition, "", "x")))
	assert.False(t, IsRemoteRejection(domain.E(domain.CodeUnavailable, "", "x")))
	assert.False(t, IsRemoteRejection(domain.E(domain.CodeDeadlineExceeded, "", "x")))
}

func TestHTTPAdapterAvailability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/availability", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req AvailabilityRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(map[string]any{
			"offers": []domain.Offer{{SupplierOfferRef: "OF-1", VehicleClass: "suv"}},
		})
	}))
	defer srv.Close()

	a := NewHTTP("src-1", domain.SourceEndpoint{Transport: "http", Address: srv.URL, Auth: "secret"})
	defer a.Close()

	offers, err := a.Availability(context.Background(), availReq())
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "src-1", offers[0].SourceID, "source id is stamped locally")
}

func TestHTTPAdapterSynthesizesMissingOfferRefs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"offers": []domain.Offer{
				{SupplierOfferRef: "OF-THEIRS", VehicleClass: "mini"},
				{VehicleClass: "suv"},
			},
		})
	}))
	defer srv.Close()

	a := NewHTTP("src-1", domain.SourceEndpoint{Transport: "http", Address: srv.URL})
	defer a.Close()

	req := availReq()
	offers, err := a.Availability(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, "OF-THEIRS", offers[0].SupplierOfferRef, "supplier-issued refs pass through")
	assert.Equal(t, offerRef("src-1", req.AgreementRef, req.Criteria, 1), offers[1].SupplierOfferRef,
		"omitted refs are derived from the request so they are stable")

	again, err := a.Availability(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, offers[1].SupplierOfferRef, again[1].SupplierOfferRef)
}

func TestHTTPAdapterStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, domain.ErrInvalidArgument},
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusConflict, domain.ErrFailedPrecondition},
		{http.StatusForbidden, domain.ErrPermissionDenied},
		{http.StatusInternalServerError, domain.ErrUnavailable},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		a := NewHTTP("src-1", domain.SourceEndpoint{Address: srv.URL})
		_, err := a.CheckBooking(context.Background(), BookingRef{SupplierBookingRef: "BK-1"})
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
		a.Close()
		srv.Close()
	}
}

func TestHTTPAdapterRetriesTransportOnce(t *testing.T) {
	calls := 0
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// Drop the connection mid-request to simulate a transport fault.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"unlocodes": []string{"GBMAN"}})
	}))
	defer srv.Close()

	a := NewHTTP("src-1", domain.SourceEndpoint{Address: srv.URL})
	defer a.Close()

	locs, err := a.Locations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"GBMAN"}, locs)
	assert.Equal(t, 2, calls)
}

func TestHTTPAdapterDoesNotRetryRejections(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	a := NewHTTP("src-1", domain.SourceEndpoint{Address: srv.URL})
	defer a.Close()

	_, err := a.Locations(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Equal(t, 1, calls, "supplier answers are final")
}

func TestNewDispatchesOnTransport(t *testing.T) {
	a, err := New("s1", domain.SourceEndpoint{Transport: "mock"})
	require.NoError(t, err)
	assert.IsType(t, (*Mock)(nil), a)

	a, err = New("s1", domain.SourceEndpoint{Transport: "http", Address: "http://localhost:1"})
	require.NoError(t, err)
	assert.IsType(t, (*HTTPAdapter)(nil), a)

	_, err = New("s1", domain.SourceEndpoint{Transport: "smtp"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
