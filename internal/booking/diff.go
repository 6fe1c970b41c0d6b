// SPDX-License-Identifier: MIT

package booking

import (
	"encoding/json"

	"github.com/rentmesh/rentmesh/internal/domain"
)

// journaled is the projection of a booking that goes into before/after
// snapshots and the per-field change map. Payment and customer blobs stay
// out of the journal.
type journaled struct {
	Status             domain.BookingStatus `json:"status"`
	SupplierBookingRef string               `json:"supplier_booking_ref"`
	AgentBookingRef    string               `json:"agent_booking_ref,omitempty"`
	AgreementRef       string               `json:"agreement_ref"`
	PickupUnlocode     string               `json:"pickup_unlocode"`
	DropoffUnlocode    string               `json:"dropoff_unlocode"`
	PickupISO          string               `json:"pickup_iso"`
	DropoffISO         string               `json:"dropoff_iso"`
	VehicleClass       string               `json:"vehicle_class,omitempty"`
	MakeModel          string               `json:"make_model,omitempty"`
	RatePlan           string               `json:"rate_plan,omitempty"`
	DriverAge          int                  `json:"driver_age,omitempty"`
	ResidencyCountry   string               `json:"residency_country,omitempty"`
}

func projection(b *domain.Booking) journaled {
	return journaled{
		Status:             b.Status,
		SupplierBookingRef: b.SupplierBookingRef,
		AgentBookingRef:    b.AgentBookingRef,
		AgreementRef:       b.AgreementRef,
		PickupUnlocode:     b.Rental.PickupUnlocode,
		DropoffUnlocode:    b.Rental.DropoffUnlocode,
		PickupISO:          b.Rental.PickupISO,
		DropoffISO:         b.Rental.DropoffISO,
		VehicleClass:       b.Rental.VehicleClass,
		MakeModel:          b.Rental.MakeModel,
		RatePlan:           b.Rental.RatePlan,
		DriverAge:          b.Rental.DriverAge,
		ResidencyCountry:   b.Rental.ResidencyCountry,
	}
}

func stateOf(b *domain.Booking) json.RawMessage {
	raw, _ := json.Marshal(projection(b))
	return raw
}

type fieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// diffBookings computes the per-field change map between two booking states.
// Returns nil when nothing in the journaled projection changed.
func diffBookings(before, after *domain.Booking) json.RawMessage {
	a, b := projection(before), projection(after)
	changes := map[string]fieldChange{}

	addStr := func(name, from, to string) {
		if from != to {
			changes[name] = fieldChange{From: from, To: to}
		}
	}
	addStr("status", string(a.Status), string(b.Status))
	addStr("supplier_booking_ref", a.SupplierBookingRef, b.SupplierBookingRef)
	addStr("agent_booking_ref", a.AgentBookingRef, b.AgentBookingRef)
	addStr("agreement_ref", a.AgreementRef, b.AgreementRef)
	addStr("pickup_unlocode", a.PickupUnlocode, b.PickupUnlocode)
	addStr("dropoff_unlocode", a.DropoffUnlocode, b.DropoffUnlocode)
	addStr("pickup_iso", a.PickupISO, b.PickupISO)
	addStr("dropoff_iso", a.DropoffISO, b.DropoffISO)
	addStr("vehicle_class", a.VehicleClass, b.VehicleClass)
	addStr("make_model", a.MakeModel, b.MakeModel)
	addStr("rate_plan", a.RatePlan, b.RatePlan)
	addStr("residency_country", a.ResidencyCountry, b.ResidencyCountry)
	if a.DriverAge != b.DriverAge {
		changes["driver_age"] = fieldChange{From: a.DriverAge, To: b.DriverAge}
	}

	if len(changes) == 0 {
		return nil
	}
	raw, _ := json.Marshal(changes)
	return raw
}
