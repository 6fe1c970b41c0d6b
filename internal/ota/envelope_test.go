// SPDX-License-Identifier: MIT

package ota

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentmesh/rentmesh/internal/availability"
	"github.com/rentmesh/rentmesh/internal/domain"
)

type fakeNamer map[string]string

func (f fakeNamer) GetMany(ctx context.Context, ids []string) (map[string]*domain.Company, error) {
	out := map[string]*domain.Company{}
	for _, id := range ids {
		if name, ok := f[id]; ok {
			out[id] = &domain.Company{ID: id, Name: name}
		}
	}
	return out, nil
}

func result(seq int64, sourceID string, offer domain.Offer) domain.AvailabilityResult {
	offer.SourceID = sourceID
	return domain.AvailabilityResult{JobID: "job-1", Seq: seq, SourceID: sourceID, Offer: offer}
}

func TestBuildGroupsByVendor(t *testing.T) {
	b := NewBuilder(fakeNamer{"src-1": "Hertz of Salford", "src-2": "Manchester Motors"})
	resp := &availability.PollResponse{
		Status:            domain.JobComplete,
		Complete:          true,
		LastSeq:           4,
		ResponsesReceived: 2,
		TotalExpected:     2,
		AggregateETag:     "abc123",
		NewItems: []domain.AvailabilityResult{
			result(1, "src-2", domain.Offer{SupplierOfferRef: "o1", VehicleClass: "suv"}),
			result(2, "src-1", domain.Offer{SupplierOfferRef: "o2", VehicleClass: "mini"}),
			result(3, "src-1", domain.Offer{SupplierOfferRef: "o3", VehicleClass: "van"}),
			result(4, "src-2", domain.Offer{Error: domain.ResultSourceError, ErrorMessage: "boom"}),
		},
	}

	env, err := b.Build(context.Background(), "job-1", resp, 1500)
	require.NoError(t, err)

	assert.Equal(t, "job-1", env.RequestID)
	assert.True(t, env.Complete)
	assert.EqualValues(t, 4, env.LastSeq)
	assert.Equal(t, "abc123", env.AggregateETag)
	assert.Equal(t, 1500, env.RecommendedPollMS)

	require.Len(t, env.Vendors, 2)
	assert.Equal(t, "src-1", env.Vendors[0].Code, "vendors sorted by code")
	assert.Equal(t, "Hertz of Salford", env.Vendors[0].Name)
	assert.Len(t, env.Vendors[0].Offers, 2)
	assert.Equal(t, "o2", env.Vendors[0].Offers[0].SupplierOfferRef, "commit order kept inside a vendor")

	require.Len(t, env.Vendors[1].Errors, 1)
	assert.Equal(t, domain.ResultSourceError, env.Vendors[1].Errors[0].Kind)
	assert.Len(t, env.Vendors[1].Offers, 1)
}

func TestBuildWithoutNamer(t *testing.T) {
	b := NewBuilder(nil)
	resp := &availability.PollResponse{
		NewItems: []domain.AvailabilityResult{
			result(1, "src-9", domain.Offer{SupplierOfferRef: "o1"}),
		},
	}
	env, err := b.Build(context.Background(), "job-1", resp, 0)
	require.NoError(t, err)
	require.Len(t, env.Vendors, 1)
	assert.Empty(t, env.Vendors[0].Name)
}

func TestBuildEmptyPoll(t *testing.T) {
	b := NewBuilder(fakeNamer{})
	env, err := b.Build(context.Background(), "job-1", &availability.PollResponse{Status: domain.JobRunning}, 0)
	require.NoError(t, err)
	assert.Empty(t, env.Vendors)
	assert.False(t, env.Complete)
}

func TestBuildUnknownVendorNameOmitted(t *testing.T) {
	b := NewBuilder(fakeNamer{"src-1": "Known"})
	resp := &availability.PollResponse{
		NewItems: []domain.AvailabilityResult{
			result(1, "src-1", domain.Offer{SupplierOfferRef: "o1"}),
			result(2, "src-unknown", domain.Offer{SupplierOfferRef: "o2"}),
		},
	}
	env, err := b.Build(context.Background(), "job-1", resp, 0)
	require.NoError(t, err)
	require.Len(t, env.Vendors, 2)
	assert.Equal(t, "Known", env.Vendors[0].Name)
	assert.Empty(t, env.Vendors[1].Name)
}
