// SPDX-License-Identifier: MIT

// Package ota shapes poll results into the vendor-grouped envelope agents
// consume. Building is pure apart from one bounded company-name lookup.
package ota

import (
	"context"
	"sort"

	"github.com/samber/lo"

	"github.com/rentmesh/rentmesh/internal/availability"
	"github.com/rentmesh/rentmesh/internal/domain"
)

// CompanyNamer resolves display names for a batch of company ids.
type CompanyNamer interface {
	GetMany(ctx context.Context, ids []string) (map[string]*domain.Company, error)
}

// VendorError is a synthetic marker surfaced per vendor.
type VendorError struct {
	Kind    domain.ResultError `json:"kind"`
	Message string             `json:"message,omitempty"`
}

// Vendor is one source's slice of the envelope.
type Vendor struct {
	Code   string         `json:"code"`
	Name   string         `json:"name,omitempty"`
	Offers []domain.Offer `json:"offers,omitempty"`
	Errors []VendorError  `json:"errors,omitempty"`
}

// Envelope is the availability response document.
type Envelope struct {
	RequestID         string                       `json:"request_id"`
	Status            domain.AvailabilityJobStatus `json:"status"`
	Complete          bool                         `json:"complete"`
	LastSeq           int64                        `json:"last_seq"`
	ResponsesReceived int                          `json:"responses_received"`
	TotalExpected     int                          `json:"total_expected"`
	TimedOutSources   []string                     `json:"timed_out_sources,omitempty"`
	AggregateETag     string                       `json:"aggregate_etag"`
	RecommendedPollMS int                          `json:"recommended_poll_ms,omitempty"`
	Vendors           []Vendor                     `json:"vendors"`
}

// Builder assembles envelopes.
type Builder struct {
	companies CompanyNamer
}

// NewBuilder wires the builder. companies may be nil; vendors then carry
// codes only.
func NewBuilder(companies CompanyNamer) *Builder {
	return &Builder{companies: companies}
}

// Build groups one poll response by vendor. Offers keep their commit order
// inside each vendor; vendors are sorted by code for stable output.
func (b *Builder) Build(ctx context.Context, jobID string, resp *availability.PollResponse, recommendedPollMS int) (*Envelope, error) {
	bySource := lo.GroupBy(resp.NewItems, func(r domain.AvailabilityResult) string {
		return r.SourceID
	})

	codes := lo.Keys(bySource)
	sort.Strings(codes)

	names := map[string]*domain.Company{}
	if b.companies != nil && len(codes) > 0 {
		var err error
		names, err = b.companies.GetMany(ctx, codes)
		if err != nil {
			return nil, err
		}
	}

	vendors := make([]Vendor, 0, len(codes))
	for _, code := range codes {
		v := Vendor{Code: code}
		if c, ok := names[code]; ok {
			v.Name = c.Name
		}
		for _, item := range bySource[code] {
			if item.Offer.IsMarker() {
				v.Errors = append(v.Errors, VendorError{Kind: item.Offer.Error, Message: item.Offer.ErrorMessage})
				continue
			}
			v.Offers = append(v.Offers, item.Offer)
		}
		vendors = append(vendors, v)
	}

	return &Envelope{
		RequestID:         jobID,
		Status:            resp.Status,
		Complete:          resp.Complete,
		LastSeq:           resp.LastSeq,
		ResponsesReceived: resp.ResponsesReceived,
		TotalExpected:     resp.TotalExpected,
		TimedOutSources:   resp.TimedOutSources,
		AggregateETag:     resp.AggregateETag,
		RecommendedPollMS: recommendedPollMS,
		Vendors:           vendors,
	}, nil
}
