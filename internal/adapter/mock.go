// SPDX-License-Identifier: MIT

package adapter

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rentmesh/rentmesh/internal/domain"
)

// MockScript tunes the behavior of a mock source. The zero value answers
// instantly with deterministic offers.
type MockScript struct {
	Latency    time.Duration // artificial delay per call
	FailWith   error         // returned verbatim from every call when set
	OfferCount int           // offers per availability call (default 3)
	NoOffers   bool          // availability answers with an empty slice
	Locations  []string      // served UN/LOCODEs (default a small UK set)
}

// Mock is an in-process supplier used for local development and tests. Its
// responses are a pure function of the request, so repeated calls agree.
type Mock struct {
	sourceID string
	script   MockScript

	mu       sync.Mutex
	bookings map[string]*BookingResponse
	seq      int
}

var mockVehicleClasses = []string{"mini", "compact", "intermediate", "suv", "van"}

// NewMock builds a scripted mock adapter for sourceID.
func NewMock(sourceID string, script MockScript) *Mock {
	if script.OfferCount <= 0 {
		script.OfferCount = 3
	}
	if len(script.Locations) == 0 {
		script.Locations = []string{"GBMAN", "GBLHR", "GBGLA", "GBEDI", "GBBHX"}
	}
	return &Mock{sourceID: sourceID, script: script, bookings: make(map[string]*BookingResponse)}
}

func (m *Mock) delay(ctx context.Context) error {
	if m.script.FailWith != nil {
		return m.script.FailWith
	}
	if m.script.Latency <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.script.Latency):
		return nil
	}
}

func (m *Mock) Locations(ctx context.Context) ([]string, error) {
	if err := m.delay(ctx); err != nil {
		return nil, err
	}
	out := make([]string, len(m.script.Locations))
	copy(out, m.script.Locations)
	return out, nil
}

// offerRef derives a stable supplier offer reference from the request so the
// same search always yields the same refs.
func offerRef(sourceID, agreementRef string, c domain.AvailabilityCriteria, idx int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%d", sourceID, agreementRef,
		c.PickupUnlocode, c.DropoffUnlocode, c.PickupISO, c.DropoffISO, idx)
	return fmt.Sprintf("OF-%012X", h.Sum64()&0xFFFFFFFFFFFF)
}

func (m *Mock) Availability(ctx context.Context, req AvailabilityRequest) ([]domain.Offer, error) {
	if err := m.delay(ctx); err != nil {
		return nil, err
	}
	if m.script.NoOffers {
		return nil, nil
	}
	offers := make([]domain.Offer, 0, m.script.OfferCount)
	for i := 0; i < m.script.OfferCount; i++ {
		offers = append(offers, domain.Offer{
			SupplierOfferRef:   offerRef(m.sourceID, req.AgreementRef, req.Criteria, i),
			SourceID:           m.sourceID,
			AgreementRef:       req.AgreementRef,
			VehicleClass:       mockVehicleClasses[i%len(mockVehicleClasses)],
			Currency:           "GBP",
			TotalPrice:         fmt.Sprintf("%d.00", 80+20*i),
			AvailabilityStatus: "AVAILABLE",
			PickupUnlocode:     req.Criteria.PickupUnlocode,
			DropoffUnlocode:    req.Criteria.DropoffUnlocode,
		})
	}
	return offers, nil
}

func (m *Mock) CreateBooking(ctx context.Context, req BookingCreateRequest) (*BookingResponse, error) {
	if err := m.delay(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	resp := &BookingResponse{
		SupplierBookingRef: fmt.Sprintf("BK-%s-%06d", m.sourceID, m.seq),
		Status:             domain.BookingConfirmed,
		Rental:             req.Rental,
	}
	m.bookings[resp.SupplierBookingRef] = resp
	return resp, nil
}

func (m *Mock) lookup(ref string) (*BookingResponse, error) {
	b, ok := m.bookings[ref]
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "", "supplier booking %s not found", ref)
	}
	return b, nil
}

func (m *Mock) ModifyBooking(ctx context.Context, req BookingModifyRequest) (*BookingResponse, error) {
	if err := m.delay(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.lookup(req.SupplierBookingRef)
	if err != nil {
		return nil, err
	}
	if b.Status == domain.BookingCancelled {
		return nil, domain.E(domain.CodeFailedPrecondition, "", "supplier booking %s is cancelled", req.SupplierBookingRef)
	}
	b.Rental = req.Rental
	cp := *b
	return &cp, nil
}

func (m *Mock) CancelBooking(ctx context.Context, ref BookingRef) (*BookingResponse, error) {
	if err := m.delay(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.lookup(ref.SupplierBookingRef)
	if err != nil {
		return nil, err
	}
	b.Status = domain.BookingCancelled
	cp := *b
	return &cp, nil
}

func (m *Mock) CheckBooking(ctx context.Context, ref BookingRef) (*BookingResponse, error) {
	if err := m.delay(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.lookup(ref.SupplierBookingRef)
	if err != nil {
		return nil, err
	}
	cp := *b
	return &cp, nil
}

func (m *Mock) Close() error { return nil }

var _ SourceAdapter = (*Mock)(nil)
