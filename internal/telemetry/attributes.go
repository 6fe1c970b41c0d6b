// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared across broker spans.
const (
	SourceIDKey     = "broker.source_id"
	AgreementRefKey = "broker.agreement_ref"
	JobIDKey        = "broker.job_id"
	BookingRefKey   = "broker.booking_ref"
	OperationKey    = "broker.operation"
	OutcomeKey      = "broker.outcome"
	ExpectedKey     = "broker.expected_sources"
	SeqKey          = "broker.seq"
)

// SourceCallAttributes describes one supplier call.
func SourceCallAttributes(sourceID, agreementRef, op string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SourceIDKey, sourceID),
		attribute.String(AgreementRefKey, agreementRef),
		attribute.String(OperationKey, op),
	}
}

// FanoutAttributes describes one availability fan-out.
func FanoutAttributes(jobID string, expectedSources int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobIDKey, jobID),
		attribute.Int(ExpectedKey, expectedSources),
	}
}

// BookingAttributes describes one booking operation.
func BookingAttributes(bookingRef, op, outcome string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(BookingRefKey, bookingRef),
		attribute.String(OperationKey, op),
		attribute.String(OutcomeKey, outcome),
	}
}
