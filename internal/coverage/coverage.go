// SPDX-License-Identifier: MIT

// Package coverage answers where an agreement can trade: the source's
// reported service area adjusted by per-agreement allow and deny overrides.
package coverage

import (
	"context"
	"sort"

	"github.com/rentmesh/rentmesh/internal/domain"
)

// LocationReader is the slice of the location store the resolver needs.
type LocationReader interface {
	SourceLocations(ctx context.Context, sourceID string) (map[string]bool, error)
	AllCodes(ctx context.Context) ([]string, error)
	KnownCodes(ctx context.Context, candidates []string) (map[string]bool, error)
}

// OverrideReader yields an agreement's overrides: true allows a place the
// base set lacks, false denies one it has.
type OverrideReader interface {
	Overrides(ctx context.Context, agreementID string) (map[string]bool, error)
}

// Resolver computes effective coverage. It is stateless; both backing
// stores are safe for concurrent reads.
type Resolver struct {
	locations LocationReader
	overrides OverrideReader
}

// NewResolver wires the two read sides together.
func NewResolver(locations LocationReader, overrides OverrideReader) *Resolver {
	return &Resolver{locations: locations, overrides: overrides}
}

// Allowed is the point test: can this agreement serve unlocode. An allow
// override dictates true and a deny override false regardless of the base
// set. With no override the answer is base membership, and a source that
// never reported locations serves nothing.
func (r *Resolver) Allowed(ctx context.Context, agreementID, sourceID, unlocode string) (bool, error) {
	ov, err := r.overrides.Overrides(ctx, agreementID)
	if err != nil {
		return false, err
	}
	if allowed, ok := ov[unlocode]; ok {
		return allowed, nil
	}
	base, err := r.locations.SourceLocations(ctx, sourceID)
	if err != nil {
		return false, err
	}
	return base[unlocode], nil
}

// Effective lists the agreement's coverage: (base ∪ allows) minus denies,
// sorted by code. A source with no reported locations falls back to the
// full place dictionary for listing purposes only; those rows are flagged
// Inherited and do not make the point test pass.
func (r *Resolver) Effective(ctx context.Context, agreementID, sourceID string) ([]domain.CoverageItem, error) {
	ov, err := r.overrides.Overrides(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	base, err := r.locations.SourceLocations(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	inherited := false
	if len(base) == 0 {
		all, err := r.locations.AllCodes(ctx)
		if err != nil {
			return nil, err
		}
		base = make(map[string]bool, len(all))
		for _, code := range all {
			base[code] = true
		}
		inherited = true
	}

	items := make(map[string]domain.CoverageItem, len(base))
	for code := range base {
		items[code] = domain.CoverageItem{Unlocode: code, Inherited: inherited}
	}
	for code, allowed := range ov {
		if allowed {
			items[code] = domain.CoverageItem{Unlocode: code, Override: true}
		} else {
			delete(items, code)
		}
	}

	out := make([]domain.CoverageItem, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unlocode < out[j].Unlocode })
	return out, nil
}

// ValidateCodes rejects override candidates that are not in the dictionary.
func (r *Resolver) ValidateCodes(ctx context.Context, codes []string) error {
	known, err := r.locations.KnownCodes(ctx, codes)
	if err != nil {
		return err
	}
	for _, code := range codes {
		if !known[code] {
			return domain.E(domain.CodeInvalidArgument, "", "unknown UN/LOCODE %q", code)
		}
	}
	return nil
}
