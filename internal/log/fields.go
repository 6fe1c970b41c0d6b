// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldAgentID   = "agent_id"
	FieldSourceID  = "source_id"
	FieldJobID     = "job_id"
	FieldComponent = "component"

	// Booking fields
	FieldBookingRef   = "booking_ref"
	FieldAgreementRef = "agreement_ref"
	FieldIdemKey      = "idempotency_key"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Fan-out fields
	FieldExpected  = "expected_sources"
	FieldEligible  = "eligible_sources"
	FieldLatencyMS = "latency_ms"
	FieldOutcome   = "outcome"
)
