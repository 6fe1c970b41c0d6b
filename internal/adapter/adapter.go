// SPDX-License-Identifier: MIT

// Package adapter defines the supplier-facing contract and its transport
// implementations. The rest of the broker only ever talks to a SourceAdapter.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rentmesh/rentmesh/internal/domain"
)

// AvailabilityRequest is one fan-out call to a single source.
type AvailabilityRequest struct {
	AgreementRef string                      `json:"agreement_ref"`
	Criteria     domain.AvailabilityCriteria `json:"criteria"`
}

// BookingCreateRequest asks a supplier to create a reservation. The
// idempotency key travels with the payload so the supplier can dedupe
// retries on its side too.
type BookingCreateRequest struct {
	AgreementRef     string               `json:"agreement_ref"`
	SupplierOfferRef string               `json:"supplier_offer_ref"`
	IdempotencyKey   string               `json:"idempotency_key"`
	AgentBookingRef  string               `json:"agent_booking_ref,omitempty"`
	Rental           domain.RentalDetails `json:"rental"`
	CustomerInfo     json.RawMessage      `json:"customer_info,omitempty"`
	PaymentInfo      json.RawMessage      `json:"payment_info,omitempty"`
}

// BookingModifyRequest updates an existing reservation in place.
type BookingModifyRequest struct {
	SupplierBookingRef string               `json:"supplier_booking_ref"`
	AgreementRef       string               `json:"agreement_ref"`
	Rental             domain.RentalDetails `json:"rental"`
}

// BookingRef addresses an existing reservation for cancel and check.
type BookingRef struct {
	SupplierBookingRef string `json:"supplier_booking_ref"`
	AgreementRef       string `json:"agreement_ref"`
}

// BookingResponse is the supplier's view of a reservation after any call.
type BookingResponse struct {
	SupplierBookingRef string               `json:"supplier_booking_ref"`
	Status             domain.BookingStatus `json:"status"`
	Rental             domain.RentalDetails `json:"rental,omitempty"`
}

// SourceAdapter is the per-source client. Implementations are safe for
// concurrent use; every call honors ctx cancellation and deadlines.
type SourceAdapter interface {
	// Locations lists the UN/LOCODEs the source claims to serve.
	Locations(ctx context.Context) ([]string, error)

	// Availability returns offers for one agreement. An empty slice with a
	// nil error means the source answered with no matching vehicles.
	Availability(ctx context.Context, req AvailabilityRequest) ([]domain.Offer, error)

	CreateBooking(ctx context.Context, req BookingCreateRequest) (*BookingResponse, error)
	ModifyBooking(ctx context.Context, req BookingModifyRequest) (*BookingResponse, error)
	CancelBooking(ctx context.Context, ref BookingRef) (*BookingResponse, error)
	CheckBooking(ctx context.Context, ref BookingRef) (*BookingResponse, error)

	Close() error
}

// Factory builds an adapter from a source's endpoint configuration.
type Factory func(sourceID string, ep domain.SourceEndpoint) (SourceAdapter, error)

// New dispatches on the configured transport.
func New(sourceID string, ep domain.SourceEndpoint) (SourceAdapter, error) {
	switch ep.Transport {
	case "mock", "":
		return NewMock(sourceID, MockScript{}), nil
	case "http":
		return NewHTTP(sourceID, ep), nil
	case "grpc":
		return NewGRPC(sourceID, ep)
	default:
		return nil, domain.E(domain.CodeInvalidArgument, "", "source %s: unknown transport %q", sourceID, ep.Transport)
	}
}

// normalizeOffers stamps the source onto returned offers and derives a
// deterministic supplier offer ref for suppliers that omit one, so every
// offer in the system is bookable by reference.
func normalizeOffers(sourceID string, req AvailabilityRequest, offers []domain.Offer) {
	for i := range offers {
		offers[i].SourceID = sourceID
		if offers[i].SupplierOfferRef == "" {
			offers[i].SupplierOfferRef = offerRef(sourceID, req.AgreementRef, req.Criteria, i)
		}
	}
}

// Classify folds a raw adapter error into the broker taxonomy. Context
// expiry becomes DEADLINE_EXCEEDED, already-classified errors pass through,
// anything else is treated as a transport fault.
func Classify(err error, sourceID string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapE(domain.CodeDeadlineExceeded, "", err, "source %s timed out", sourceID)
	}
	if errors.Is(err, context.Canceled) {
		return domain.WrapE(domain.CodeDeadlineExceeded, "", err, "source %s call cancelled", sourceID)
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.WrapE(domain.CodeUnavailable, "", err, "source %s unreachable", sourceID)
}

// IsRemoteRejection reports whether the supplier answered and rejected the
// request, as opposed to being unreachable or slow.
func IsRemoteRejection(err error) bool {
	switch domain.CodeOf(err) {
	case domain.CodeInvalidArgument, domain.CodeNotFound, domain.CodeFailedPrecondition, domain.CodePermissionDenied:
		return true
	}
	return false
}

func fullAddress(ep domain.SourceEndpoint) (string, error) {
	if ep.Address == "" {
		return "", fmt.Errorf("endpoint address is empty")
	}
	return ep.Address, nil
}
