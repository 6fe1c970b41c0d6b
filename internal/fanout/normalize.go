// SPDX-License-Identifier: MIT

package fanout

import (
	"encoding/json"
	"time"

	"github.com/rentmesh/rentmesh/internal/domain"
)

// rawCriteria tolerates the request shapes seen in the wild: snake_case and
// camelCase field names, and agreement_ref as either a string or a list.
type rawCriteria struct {
	PickupUnlocode    string          `json:"pickup_unlocode"`
	PickupUnlocodeCC  string          `json:"pickupUnlocode"`
	DropoffUnlocode   string          `json:"dropoff_unlocode"`
	DropoffUnlocodeCC string          `json:"dropoffUnlocode"`
	PickupISO         string          `json:"pickup_iso"`
	PickupISOCC       string          `json:"pickupIso"`
	DropoffISO        string          `json:"dropoff_iso"`
	DropoffISOCC      string          `json:"dropoffIso"`
	DriverAge         int             `json:"driver_age"`
	DriverAgeCC       int             `json:"driverAge"`
	Residency         string          `json:"residency_country"`
	ResidencyCC       string          `json:"residencyCountry"`
	VehicleClasses    []string        `json:"vehicle_classes"`
	VehicleClassesCC  []string        `json:"vehicleClasses"`
	AgreementRef      json.RawMessage `json:"agreement_ref"`
	AgreementRefCC    json.RawMessage `json:"agreementRef"`
	AgreementRefs     []string        `json:"agreement_refs"`
	AgreementRefsCC   []string        `json:"agreementRefs"`
}

func pick(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func pickInt(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

func pickList(a, b []string) []string {
	if len(a) > 0 {
		return a
	}
	return b
}

// refList accepts "AGR-1" and ["AGR-1","AGR-2"] interchangeably.
func refList(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one == "" {
			return nil, nil
		}
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	return nil, domain.E(domain.CodeInvalidArgument, "", "agreement_ref must be a string or a list of strings")
}

// ParseCriteria normalizes a raw availability request into the canonical
// criteria and validates the required fields.
func ParseCriteria(raw json.RawMessage) (domain.AvailabilityCriteria, error) {
	var c domain.AvailabilityCriteria
	var r rawCriteria
	if err := json.Unmarshal(raw, &r); err != nil {
		return c, domain.WrapE(domain.CodeInvalidArgument, "", err, "malformed availability criteria")
	}

	c = domain.AvailabilityCriteria{
		PickupUnlocode:   pick(r.PickupUnlocode, r.PickupUnlocodeCC),
		DropoffUnlocode:  pick(r.DropoffUnlocode, r.DropoffUnlocodeCC),
		PickupISO:        pick(r.PickupISO, r.PickupISOCC),
		DropoffISO:       pick(r.DropoffISO, r.DropoffISOCC),
		DriverAge:        pickInt(r.DriverAge, r.DriverAgeCC),
		ResidencyCountry: pick(r.Residency, r.ResidencyCC),
		VehicleClasses:   pickList(r.VehicleClasses, r.VehicleClassesCC),
	}

	refs := pickList(r.AgreementRefs, r.AgreementRefsCC)
	if len(refs) == 0 {
		var err error
		refs, err = refList(r.AgreementRef)
		if err != nil {
			return c, err
		}
		if len(refs) == 0 {
			refs, err = refList(r.AgreementRefCC)
			if err != nil {
				return c, err
			}
		}
	}
	c.AgreementRefs = refs

	return c, validateCriteria(c)
}

func validateCriteria(c domain.AvailabilityCriteria) error {
	switch {
	case c.PickupUnlocode == "":
		return domain.E(domain.CodeInvalidArgument, "", "pickup_unlocode is required")
	case c.DropoffUnlocode == "":
		return domain.E(domain.CodeInvalidArgument, "", "dropoff_unlocode is required")
	case c.PickupISO == "":
		return domain.E(domain.CodeInvalidArgument, "", "pickup_iso is required")
	case c.DropoffISO == "":
		return domain.E(domain.CodeInvalidArgument, "", "dropoff_iso is required")
	}
	pickup, err := time.Parse(time.RFC3339, c.PickupISO)
	if err != nil {
		return domain.E(domain.CodeInvalidArgument, "", "pickup_iso is not RFC 3339")
	}
	dropoff, err := time.Parse(time.RFC3339, c.DropoffISO)
	if err != nil {
		return domain.E(domain.CodeInvalidArgument, "", "dropoff_iso is not RFC 3339")
	}
	if !dropoff.After(pickup) {
		return domain.E(domain.CodeInvalidArgument, "", "dropoff must be after pickup")
	}
	if c.DriverAge < 0 || c.DriverAge > 120 {
		return domain.E(domain.CodeInvalidArgument, "", "driver_age out of range")
	}
	return nil
}
