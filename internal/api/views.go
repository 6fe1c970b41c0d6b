// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"time"

	"github.com/rentmesh/rentmesh/internal/domain"
)

// bookingJSON is the public projection of a booking. Customer and payment
// blobs never leave the broker through read endpoints.
type bookingJSON struct {
	ID                 string               `json:"id"`
	SourceID           string               `json:"source_id"`
	AgreementRef       string               `json:"agreement_ref"`
	SupplierBookingRef string               `json:"supplier_booking_ref"`
	AgentBookingRef    string               `json:"agent_booking_ref,omitempty"`
	Status             string               `json:"status"`
	Rental             domain.RentalDetails `json:"rental"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

func bookingView(b *domain.Booking) bookingJSON {
	return bookingJSON{
		ID:                 b.ID,
		SourceID:           b.SourceID,
		AgreementRef:       b.AgreementRef,
		SupplierBookingRef: b.SupplierBookingRef,
		AgentBookingRef:    b.AgentBookingRef,
		Status:             string(b.Status),
		Rental:             b.Rental,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
	}
}

type historyEventView struct {
	EventType   string          `json:"event_type"`
	Changes     json.RawMessage `json:"changes,omitempty"`
	Actor       string          `json:"actor"`
	ActorSource string          `json:"actor_source"`
	Timestamp   time.Time       `json:"timestamp"`
}

type agreementJSON struct {
	ID           string     `json:"id"`
	AgentID      string     `json:"agent_id"`
	SourceID     string     `json:"source_id"`
	AgreementRef string     `json:"agreement_ref"`
	Status       string     `json:"status"`
	ValidFrom    *time.Time `json:"valid_from,omitempty"`
	ValidTo      *time.Time `json:"valid_to,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func agreementView(a *domain.Agreement) agreementJSON {
	return agreementJSON{
		ID:           a.ID,
		AgentID:      a.AgentID,
		SourceID:     a.SourceID,
		AgreementRef: a.AgreementRef,
		Status:       string(a.Status),
		ValidFrom:    a.ValidFrom,
		ValidTo:      a.ValidTo,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

type companyJSON struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	Status        string                 `json:"status"`
	Name          string                 `json:"name"`
	CompanyCode   string                 `json:"company_code,omitempty"`
	EmailVerified bool                   `json:"email_verified"`
	Endpoint      *domain.SourceEndpoint `json:"endpoint,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

func companyView(c *domain.Company, includeEndpoint bool) companyJSON {
	out := companyJSON{
		ID:            c.ID,
		Type:          string(c.Type),
		Status:        string(c.Status),
		Name:          c.Name,
		CompanyCode:   c.CompanyCode,
		EmailVerified: c.EmailVerified,
		CreatedAt:     c.CreatedAt,
	}
	if includeEndpoint {
		out.Endpoint = c.Endpoint
	}
	return out
}

type sourceHealthJSON struct {
	SourceID      string     `json:"source_id"`
	SampleCount   int64      `json:"sample_count"`
	SlowCount     int64      `json:"slow_count"`
	SlowRate      float64    `json:"slow_rate"`
	BackoffLevel  int        `json:"backoff_level"`
	ExcludedUntil *time.Time `json:"excluded_until,omitempty"`
	LastResetBy   string     `json:"last_reset_by,omitempty"`
	LastResetAt   *time.Time `json:"last_reset_at,omitempty"`
}

func sourceHealthView(h *domain.SourceHealth) sourceHealthJSON {
	return sourceHealthJSON{
		SourceID:      h.SourceID,
		SampleCount:   h.SampleCount,
		SlowCount:     h.SlowCount,
		SlowRate:      h.SlowRate,
		BackoffLevel:  h.BackoffLevel,
		ExcludedUntil: h.ExcludedUntil,
		LastResetBy:   h.LastResetBy,
		LastResetAt:   h.LastResetAt,
	}
}
