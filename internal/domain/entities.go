// SPDX-License-Identifier: MIT

// Package domain holds the broker's entities, enumerations and error taxonomy.
package domain

import (
	"encoding/json"
	"time"
)

// CompanyType distinguishes the three kinds of registered companies.
type CompanyType string

const (
	CompanyAgent  CompanyType = "AGENT"
	CompanySource CompanyType = "SOURCE"
	CompanyAdmin  CompanyType = "ADMIN"
)

// CompanyStatus is the registration lifecycle of a company.
type CompanyStatus string

const (
	CompanyPendingVerification CompanyStatus = "PENDING_VERIFICATION"
	CompanyActive              CompanyStatus = "ACTIVE"
	CompanySuspended           CompanyStatus = "SUSPENDED"
)

// SourceEndpoint is the transport configuration of a SOURCE company,
// consumed by the adapter registry.
type SourceEndpoint struct {
	Transport string `json:"transport"` // mock | grpc | http
	Address   string `json:"address"`
	Auth      string `json:"auth,omitempty"`
}

// Company is a registered participant: an agent, a source or an admin.
type Company struct {
	ID            string
	Type          CompanyType
	Status        CompanyStatus
	Name          string
	CompanyCode   string
	EmailVerified bool
	Endpoint      *SourceEndpoint // only for SOURCE companies
	CreatedAt     time.Time
}

// AgreementStatus is the commercial agreement lifecycle.
type AgreementStatus string

const (
	AgreementDraft     AgreementStatus = "DRAFT"
	AgreementOffered   AgreementStatus = "OFFERED"
	AgreementAccepted  AgreementStatus = "ACCEPTED"
	AgreementActive    AgreementStatus = "ACTIVE"
	AgreementSuspended AgreementStatus = "SUSPENDED"
	AgreementExpired   AgreementStatus = "EXPIRED"
)

// Agreement is a commercial contract between an agent and a source.
// (SourceID, AgreementRef) is unique.
type Agreement struct {
	ID           string
	AgentID      string
	SourceID     string
	AgreementRef string
	Status       AgreementStatus
	ValidFrom    *time.Time
	ValidTo      *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UNLocode is one row of the read-only place dictionary.
type UNLocode struct {
	Code     string // five-letter UN/LOCODE, primary key
	Country  string
	Place    string
	IATACode string
	Lat      *float64
	Lon      *float64
}

// CoverageItem is one entry of an agreement's effective coverage listing.
type CoverageItem struct {
	Unlocode  string `json:"unlocode"`
	Inherited bool   `json:"inherited,omitempty"` // dictionary fallback, list-view only
	Override  bool   `json:"override,omitempty"`  // added by an allow override
}

// BookingStatus is the booking lifecycle as reported by suppliers.
type BookingStatus string

const (
	BookingRequested BookingStatus = "REQUESTED"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingFailed    BookingStatus = "FAILED"
)

// RentalDetails carries the rental core of a booking or an availability request.
type RentalDetails struct {
	PickupUnlocode   string `json:"pickup_unlocode"`
	DropoffUnlocode  string `json:"dropoff_unlocode"`
	PickupISO        string `json:"pickup_iso"`
	DropoffISO       string `json:"dropoff_iso"`
	VehicleClass     string `json:"vehicle_class,omitempty"`
	MakeModel        string `json:"make_model,omitempty"`
	RatePlan         string `json:"rate_plan,omitempty"`
	DriverAge        int    `json:"driver_age,omitempty"`
	ResidencyCountry string `json:"residency_country,omitempty"`
}

// Booking is exclusively owned by its AgentID and mutated only through the
// booking core.
type Booking struct {
	ID                 string
	AgentID            string
	SourceID           string
	AgreementRef       string
	SupplierBookingRef string
	AgentBookingRef    string
	IdempotencyKey     string
	Status             BookingStatus
	Rental             RentalDetails
	CustomerInfo       json.RawMessage
	PaymentInfo        json.RawMessage
	PayloadSnapshot    json.RawMessage
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HistoryEventType classifies booking journal entries.
type HistoryEventType string

const (
	HistoryCreated       HistoryEventType = "CREATED"
	HistoryModified      HistoryEventType = "MODIFIED"
	HistoryCancelled     HistoryEventType = "CANCELLED"
	HistoryStatusChanged HistoryEventType = "STATUS_CHANGED"
)

// HistoryActorSource identifies who triggered a journal entry.
type HistoryActorSource string

const (
	ActorAgent  HistoryActorSource = "AGENT"
	ActorSource HistoryActorSource = "SOURCE"
	ActorSystem HistoryActorSource = "SYSTEM"
	ActorAdmin  HistoryActorSource = "ADMIN"
)

// HistoryEvent is one append-only journal row for a booking.
type HistoryEvent struct {
	ID          int64
	BookingID   string
	EventType   HistoryEventType
	BeforeState json.RawMessage
	AfterState  json.RawMessage
	Changes     json.RawMessage // per-field change map
	Actor       string
	ActorSource HistoryActorSource
	Timestamp   time.Time
	Metadata    json.RawMessage
}

// SourceHealth is the derived slow-rate state of one source. It is
// rebuildable from future samples.
type SourceHealth struct {
	SourceID      string
	SampleCount   int64
	SlowCount     int64
	SlowRate      float64
	BackoffLevel  int
	ExcludedUntil *time.Time
	LastResetBy   string
	LastResetAt   *time.Time
}

// AvailabilityJobStatus is the two-state job lifecycle.
type AvailabilityJobStatus string

const (
	JobRunning  AvailabilityJobStatus = "RUNNING"
	JobComplete AvailabilityJobStatus = "COMPLETE"
)

// AvailabilityCriteria is the canonical, normalized search request.
type AvailabilityCriteria struct {
	PickupUnlocode   string   `json:"pickup_unlocode"`
	DropoffUnlocode  string   `json:"dropoff_unlocode"`
	PickupISO        string   `json:"pickup_iso"`
	DropoffISO       string   `json:"dropoff_iso"`
	DriverAge        int      `json:"driver_age,omitempty"`
	ResidencyCountry string   `json:"residency_country,omitempty"`
	VehicleClasses   []string `json:"vehicle_classes,omitempty"`
	AgreementRefs    []string `json:"agreement_refs,omitempty"`
}

// AvailabilityJob is one Submit. Results reference it by JobID.
type AvailabilityJob struct {
	ID              string
	AgentID         string
	Criteria        AvailabilityCriteria
	ExpectedSources int
	Status          AvailabilityJobStatus
	CreatedAt       time.Time
}

// ResultError marks a synthetic availability result.
type ResultError string

const (
	ResultTimeout     ResultError = "TIMEOUT"
	ResultSourceError ResultError = "SOURCE_ERROR"
	ResultNoResult    ResultError = "NO_RESULT"
)

// Offer is a vehicle offer as returned by a source adapter. Synthetic
// markers carry Error instead of offer fields.
type Offer struct {
	SupplierOfferRef   string      `json:"supplier_offer_ref,omitempty"`
	SourceID           string      `json:"source_id"`
	AgreementRef       string      `json:"agreement_ref,omitempty"`
	VehicleClass       string      `json:"vehicle_class,omitempty"`
	MakeModel          string      `json:"make_model,omitempty"`
	Currency           string      `json:"currency,omitempty"`
	TotalPrice         string      `json:"total_price,omitempty"`
	AvailabilityStatus string      `json:"availability_status,omitempty"`
	PickupUnlocode     string      `json:"pickup_unlocode,omitempty"`
	DropoffUnlocode    string      `json:"dropoff_unlocode,omitempty"`
	Error              ResultError `json:"error,omitempty"`
	ErrorMessage       string      `json:"message,omitempty"`
}

// IsMarker reports whether the offer is a synthetic error marker.
func (o Offer) IsMarker() bool { return o.Error != "" }

// AvailabilityResult is one committed partial result. Seq is strictly
// monotonic per job and assigned at commit time.
type AvailabilityResult struct {
	JobID    string
	Seq      int64
	SourceID string
	Offer    Offer
}

// Principal is the authenticated caller handed in by the fronting auth layer.
type Principal struct {
	CompanyID string
	Type      CompanyType
	Role      string
}
