// SPDX-License-Identifier: MIT

// Package booking is the reservation core: idempotent create, modify,
// cancel and check against the supplier of record, with an append-only
// history journal.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rentmesh/rentmesh/internal/adapter"
	"github.com/rentmesh/rentmesh/internal/domain"
	"github.com/rentmesh/rentmesh/internal/log"
	"github.com/rentmesh/rentmesh/internal/metrics"
	"github.com/rentmesh/rentmesh/internal/telemetry"
)

const idemScopeCreate = "booking.create"

// Store is the persistence slice the core needs.
type Store interface {
	Create(ctx context.Context, b *domain.Booking) error
	Get(ctx context.Context, id string) (*domain.Booking, error)
	FindBySupplierRef(ctx context.Context, supplierRef, sourceID string) (*domain.Booking, error)
	Update(ctx context.Context, b *domain.Booking) error
	PutIdempotencyKey(ctx context.Context, agentID, scope, key, responseRef string) error
	GetIdempotencyRef(ctx context.Context, agentID, scope, key string) (string, error)
	AppendHistory(ctx context.Context, ev *domain.HistoryEvent) error
	History(ctx context.Context, bookingID string) ([]*domain.HistoryEvent, error)
}

// AgreementFinder resolves the ACTIVE agreement backing a booking call.
type AgreementFinder interface {
	FindActive(ctx context.Context, agentID, sourceID, agreementRef string) (*domain.Agreement, error)
}

// AdapterProvider hands out the adapter for a source.
type AdapterProvider interface {
	Get(ctx context.Context, sourceID string) (adapter.SourceAdapter, error)
}

// Core owns booking mutations. Every supplier call runs under CallTimeout.
type Core struct {
	store      Store
	agreements AgreementFinder
	adapters   AdapterProvider
	timeout    time.Duration
}

// NewCore wires the booking core. timeout bounds each supplier call.
func NewCore(store Store, agreements AgreementFinder, adapters AdapterProvider, timeout time.Duration) *Core {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Core{store: store, agreements: agreements, adapters: adapters, timeout: timeout}
}

// CreateRequest is one booking create call.
type CreateRequest struct {
	SourceID         string
	AgreementRef     string
	SupplierOfferRef string
	IdempotencyKey   string
	AgentBookingRef  string
	Rental           domain.RentalDetails
	CustomerInfo     json.RawMessage
	PaymentInfo      json.RawMessage
}

func (r CreateRequest) validate() error {
	switch {
	case r.SourceID == "":
		return domain.E(domain.CodeInvalidArgument, "", "source_id is required")
	case r.AgreementRef == "":
		return domain.E(domain.CodeInvalidArgument, "", "agreement_ref is required")
	case r.IdempotencyKey == "":
		return domain.E(domain.CodeInvalidArgument, "", "idempotency_key is required")
	case r.Rental.PickupUnlocode == "" || r.Rental.DropoffUnlocode == "":
		return domain.E(domain.CodeInvalidArgument, "", "pickup and dropoff unlocodes are required")
	case r.Rental.PickupISO == "" || r.Rental.DropoffISO == "":
		return domain.E(domain.CodeInvalidArgument, "", "pickup and dropoff times are required")
	}
	return nil
}

// findActiveAgreement maps a missing row to the AGREEMENT_INACTIVE
// precondition instead of NOT_FOUND: the caller named an agreement, it just
// cannot trade right now.
func (c *Core) findActiveAgreement(ctx context.Context, agentID, sourceID, ref string) error {
	_, err := c.agreements.FindActive(ctx, agentID, sourceID, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.E(domain.CodeFailedPrecondition, domain.ReasonAgreementInactive,
			"agreement %s with source %s is not active", ref, sourceID)
	}
	return err
}

func (c *Core) callAdapter(ctx context.Context, sourceID, op string, fn func(ctx context.Context, a adapter.SourceAdapter) error) error {
	a, err := c.adapters.Get(ctx, sourceID)
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err = adapter.Classify(fn(callCtx, a), sourceID)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveAdapterCall(sourceID, op, outcome, time.Since(start))
	return err
}

// Create books with the supplier exactly once per (agent, idempotency key).
// A replayed key returns the stored booking without a second supplier call.
func (c *Core) Create(ctx context.Context, p domain.Principal, req CreateRequest) (*domain.Booking, error) {
	ctx, span := telemetry.Tracer("booking").Start(ctx, "booking.create")
	defer span.End()

	if err := req.validate(); err != nil {
		metrics.RecordBookingOp("create", "invalid")
		return nil, err
	}

	if ref, err := c.store.GetIdempotencyRef(ctx, p.CompanyID, idemScopeCreate, req.IdempotencyKey); err != nil {
		return nil, err
	} else if ref != "" {
		metrics.RecordBookingOp("create", "replay")
		return c.store.Get(ctx, ref)
	}

	if err := c.findActiveAgreement(ctx, p.CompanyID, req.SourceID, req.AgreementRef); err != nil {
		metrics.RecordBookingOp("create", "rejected")
		return nil, err
	}

	var resp *adapter.BookingResponse
	err := c.callAdapter(ctx, req.SourceID, "create", func(ctx context.Context, a adapter.SourceAdapter) error {
		var err error
		resp, err = a.CreateBooking(ctx, adapter.BookingCreateRequest{
			AgreementRef:     req.AgreementRef,
			SupplierOfferRef: req.SupplierOfferRef,
			IdempotencyKey:   req.IdempotencyKey,
			AgentBookingRef:  req.AgentBookingRef,
			Rental:           req.Rental,
			CustomerInfo:     req.CustomerInfo,
			PaymentInfo:      req.PaymentInfo,
		})
		return err
	})
	if err != nil {
		metrics.RecordBookingOp("create", "supplier_error")
		return nil, err
	}

	snapshot, _ := json.Marshal(req)
	b := &domain.Booking{
		ID:                 uuid.NewString(),
		AgentID:            p.CompanyID,
		SourceID:           req.SourceID,
		AgreementRef:       req.AgreementRef,
		SupplierBookingRef: resp.SupplierBookingRef,
		AgentBookingRef:    req.AgentBookingRef,
		IdempotencyKey:     req.IdempotencyKey,
		Status:             resp.Status,
		Rental:             req.Rental,
		CustomerInfo:       req.CustomerInfo,
		PaymentInfo:        req.PaymentInfo,
		PayloadSnapshot:    snapshot,
	}
	if err := c.store.Create(ctx, b); err != nil {
		return nil, err
	}

	if err := c.store.PutIdempotencyKey(ctx, p.CompanyID, idemScopeCreate, req.IdempotencyKey, b.ID); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// A concurrent request with the same key won the claim. Its
			// booking is the answer; ours stays as an orphaned row for
			// reconciliation.
			ref, lookupErr := c.store.GetIdempotencyRef(ctx, p.CompanyID, idemScopeCreate, req.IdempotencyKey)
			if lookupErr != nil {
				return nil, lookupErr
			}
			log.WithComponent("booking").Warn().
				Str(log.FieldIdemKey, req.IdempotencyKey).
				Str(log.FieldBookingRef, b.ID).
				Msg("lost idempotency race after supplier create")
			metrics.RecordBookingOp("create", "replay")
			return c.store.Get(ctx, ref)
		}
		return nil, err
	}

	c.journal(ctx, &domain.HistoryEvent{
		BookingID:   b.ID,
		EventType:   domain.HistoryCreated,
		AfterState:  stateOf(b),
		Actor:       p.CompanyID,
		ActorSource: domain.ActorAgent,
	})
	span.SetAttributes(telemetry.BookingAttributes(b.ID, "create", "ok")...)
	metrics.RecordBookingOp("create", "ok")
	log.WithComponent("booking").Info().
		Str(log.FieldBookingRef, b.ID).
		Str(log.FieldSourceID, b.SourceID).
		Str(log.FieldAgreementRef, b.AgreementRef).
		Msg("booking created")
	return b, nil
}

// locate loads the caller's booking addressed by supplier reference, and
// verifies any caller-supplied agreement ref against the stored one.
func (c *Core) locate(ctx context.Context, p domain.Principal, sourceID, supplierRef, agreementRef string) (*domain.Booking, error) {
	b, err := c.store.FindBySupplierRef(ctx, supplierRef, sourceID)
	if err != nil {
		return nil, err
	}
	if p.Type != domain.CompanyAdmin && b.AgentID != p.CompanyID {
		return nil, domain.E(domain.CodePermissionDenied, "", "booking %s belongs to another agent", supplierRef)
	}
	if agreementRef != "" && agreementRef != b.AgreementRef {
		return nil, domain.E(domain.CodeInvalidArgument, "",
			"agreement_ref %s does not match the booking's agreement", agreementRef)
	}
	return b, nil
}

// ModifyRequest updates the rental core of an existing booking.
type ModifyRequest struct {
	SourceID           string
	SupplierBookingRef string
	AgreementRef       string // optional; must match the stored value when set
	Rental             domain.RentalDetails
}

// mergeRental folds the set fields of patch into base, leaving the rest of
// the stored rental untouched.
func mergeRental(base, patch domain.RentalDetails) domain.RentalDetails {
	if patch.PickupUnlocode != "" {
		base.PickupUnlocode = patch.PickupUnlocode
	}
	if patch.DropoffUnlocode != "" {
		base.DropoffUnlocode = patch.DropoffUnlocode
	}
	if patch.PickupISO != "" {
		base.PickupISO = patch.PickupISO
	}
	if patch.DropoffISO != "" {
		base.DropoffISO = patch.DropoffISO
	}
	if patch.VehicleClass != "" {
		base.VehicleClass = patch.VehicleClass
	}
	if patch.MakeModel != "" {
		base.MakeModel = patch.MakeModel
	}
	if patch.RatePlan != "" {
		base.RatePlan = patch.RatePlan
	}
	if patch.DriverAge != 0 {
		base.DriverAge = patch.DriverAge
	}
	if patch.ResidencyCountry != "" {
		base.ResidencyCountry = patch.ResidencyCountry
	}
	return base
}

// Modify pushes a rental change to the supplier and journals the field diff.
// Only the fields set in the request change; the supplier sees the merged
// rental.
func (c *Core) Modify(ctx context.Context, p domain.Principal, req ModifyRequest) (*domain.Booking, error) {
	b, err := c.locate(ctx, p, req.SourceID, req.SupplierBookingRef, req.AgreementRef)
	if err != nil {
		metrics.RecordBookingOp("modify", "rejected")
		return nil, err
	}
	if b.Status == domain.BookingCancelled {
		metrics.RecordBookingOp("modify", "rejected")
		return nil, domain.E(domain.CodeFailedPrecondition, "", "booking %s is cancelled", b.ID)
	}
	if err := c.findActiveAgreement(ctx, b.AgentID, b.SourceID, b.AgreementRef); err != nil {
		metrics.RecordBookingOp("modify", "rejected")
		return nil, err
	}

	merged := mergeRental(b.Rental, req.Rental)
	var resp *adapter.BookingResponse
	err = c.callAdapter(ctx, b.SourceID, "modify", func(ctx context.Context, a adapter.SourceAdapter) error {
		var err error
		resp, err = a.ModifyBooking(ctx, adapter.BookingModifyRequest{
			SupplierBookingRef: b.SupplierBookingRef,
			AgreementRef:       b.AgreementRef,
			Rental:             merged,
		})
		return err
	})
	if err != nil {
		metrics.RecordBookingOp("modify", "supplier_error")
		return nil, err
	}

	before := *b
	b.Rental = merged
	if resp.Status != "" {
		b.Status = resp.Status
	}
	if err := c.store.Update(ctx, b); err != nil {
		return nil, err
	}

	c.journal(ctx, &domain.HistoryEvent{
		BookingID:   b.ID,
		EventType:   domain.HistoryModified,
		BeforeState: stateOf(&before),
		AfterState:  stateOf(b),
		Changes:     diffBookings(&before, b),
		Actor:       p.CompanyID,
		ActorSource: actorOf(p),
	})
	metrics.RecordBookingOp("modify", "ok")
	return b, nil
}

// Cancel cancels the reservation with the supplier. Cancelling an already
// cancelled booking is a no-op replay.
func (c *Core) Cancel(ctx context.Context, p domain.Principal, sourceID, supplierRef, agreementRef string) (*domain.Booking, error) {
	b, err := c.locate(ctx, p, sourceID, supplierRef, agreementRef)
	if err != nil {
		metrics.RecordBookingOp("cancel", "rejected")
		return nil, err
	}
	if b.Status == domain.BookingCancelled {
		metrics.RecordBookingOp("cancel", "replay")
		return b, nil
	}
	if err := c.findActiveAgreement(ctx, b.AgentID, b.SourceID, b.AgreementRef); err != nil {
		metrics.RecordBookingOp("cancel", "rejected")
		return nil, err
	}

	err = c.callAdapter(ctx, b.SourceID, "cancel", func(ctx context.Context, a adapter.SourceAdapter) error {
		_, err := a.CancelBooking(ctx, adapter.BookingRef{
			SupplierBookingRef: b.SupplierBookingRef,
			AgreementRef:       b.AgreementRef,
		})
		return err
	})
	if err != nil {
		metrics.RecordBookingOp("cancel", "supplier_error")
		return nil, err
	}

	before := *b
	b.Status = domain.BookingCancelled
	if err := c.store.Update(ctx, b); err != nil {
		return nil, err
	}

	c.journal(ctx, &domain.HistoryEvent{
		BookingID:   b.ID,
		EventType:   domain.HistoryCancelled,
		BeforeState: stateOf(&before),
		AfterState:  stateOf(b),
		Changes:     diffBookings(&before, b),
		Actor:       p.CompanyID,
		ActorSource: actorOf(p),
	})
	metrics.RecordBookingOp("cancel", "ok")
	log.WithComponent("booking").Info().
		Str(log.FieldBookingRef, b.ID).Msg("booking cancelled")
	return b, nil
}

// Check asks the supplier for the live state of the reservation and folds
// any status drift back into the stored row.
func (c *Core) Check(ctx context.Context, p domain.Principal, sourceID, supplierRef, agreementRef string) (*domain.Booking, error) {
	b, err := c.locate(ctx, p, sourceID, supplierRef, agreementRef)
	if err != nil {
		metrics.RecordBookingOp("check", "rejected")
		return nil, err
	}
	if err := c.findActiveAgreement(ctx, b.AgentID, b.SourceID, b.AgreementRef); err != nil {
		metrics.RecordBookingOp("check", "rejected")
		return nil, err
	}

	var resp *adapter.BookingResponse
	err = c.callAdapter(ctx, b.SourceID, "check", func(ctx context.Context, a adapter.SourceAdapter) error {
		var err error
		resp, err = a.CheckBooking(ctx, adapter.BookingRef{
			SupplierBookingRef: b.SupplierBookingRef,
			AgreementRef:       b.AgreementRef,
		})
		return err
	})
	if err != nil {
		metrics.RecordBookingOp("check", "supplier_error")
		return nil, err
	}

	if resp.Status != "" && resp.Status != b.Status {
		before := *b
		b.Status = resp.Status
		if err := c.store.Update(ctx, b); err != nil {
			return nil, err
		}
		c.journal(ctx, &domain.HistoryEvent{
			BookingID:   b.ID,
			EventType:   domain.HistoryStatusChanged,
			BeforeState: stateOf(&before),
			AfterState:  stateOf(b),
			Changes:     diffBookings(&before, b),
			Actor:       b.SourceID,
			ActorSource: domain.ActorSource,
		})
		log.WithComponent("booking").Info().
			Str(log.FieldBookingRef, b.ID).
			Str(log.FieldOldState, string(before.Status)).
			Str(log.FieldNewState, string(b.Status)).
			Msg("supplier reported status drift")
	}
	metrics.RecordBookingOp("check", "ok")
	return b, nil
}

// Get returns the caller's booking by internal id.
func (c *Core) Get(ctx context.Context, p domain.Principal, id string) (*domain.Booking, error) {
	b, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Type != domain.CompanyAdmin && b.AgentID != p.CompanyID {
		return nil, domain.E(domain.CodePermissionDenied, "", "booking %s belongs to another agent", id)
	}
	return b, nil
}

// History returns the caller's booking journal in write order.
func (c *Core) History(ctx context.Context, p domain.Principal, id string) ([]*domain.HistoryEvent, error) {
	if _, err := c.Get(ctx, p, id); err != nil {
		return nil, err
	}
	return c.store.History(ctx, id)
}

// journal appends a history row. The mutation it describes has already
// committed, so failures are logged and counted, never surfaced.
func (c *Core) journal(ctx context.Context, ev *domain.HistoryEvent) {
	if err := c.store.AppendHistory(ctx, ev); err != nil {
		metrics.RecordHistoryJournalFailure()
		log.WithComponent("booking").Error().Err(err).
			Str(log.FieldBookingRef, ev.BookingID).
			Str("event_type", string(ev.EventType)).
			Msg("history journal write failed")
	}
}

func actorOf(p domain.Principal) domain.HistoryActorSource {
	switch p.Type {
	case domain.CompanyAdmin:
		return domain.ActorAdmin
	case domain.CompanySource:
		return domain.ActorSource
	default:
		return domain.ActorAgent
	}
}
