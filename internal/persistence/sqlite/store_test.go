// SPDX-License-Identifier: MIT

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentmesh/rentmesh/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func seedCompanies(t *testing.T, db *sql.DB) {
	t.Helper()
	cs := NewCompanyStore(db)
	ctx := context.Background()
	require.NoError(t, cs.Create(ctx, &domain.Company{
		ID: "agent-1", Type: domain.CompanyAgent, Status: domain.CompanyActive,
		Name: "Acme Travel", CompanyCode: "ACME",
	}))
	require.NoError(t, cs.Create(ctx, &domain.Company{
		ID: "src-1", Type: domain.CompanySource, Status: domain.CompanyActive,
		Name: "Manchester Rentals", CompanyCode: "MANR",
		Endpoint: &domain.SourceEndpoint{Transport: "mock"},
	}))
}

func TestCompanyUniqueCode(t *testing.T) {
	db := openTestDB(t)
	seedCompanies(t, db)

	err := NewCompanyStore(db).Create(context.Background(), &domain.Company{
		ID: "agent-2", Type: domain.CompanyAgent, Status: domain.CompanyActive,
		Name: "Clone", CompanyCode: "ACME",
	})
	assert.True(t, errors.Is(err, domain.ErrAlreadyExists))
}

func TestCompanyEndpointRoundTrip(t *testing.T) {
	db := openTestDB(t)
	seedCompanies(t, db)

	c, err := NewCompanyStore(db).Get(context.Background(), "src-1")
	require.NoError(t, err)
	require.NotNil(t, c.Endpoint)
	assert.Equal(t, "mock", c.Endpoint.Transport)
}

func TestAgreementUniqueRefPerSource(t *testing.T) {
	db := openTestDB(t)
	seedCompanies(t, db)
	as := NewAgreementStore(db)
	ctx := context.Background()

	require.NoError(t, as.Create(ctx, &domain.Agreement{
		ID: "ag-1", AgentID: "agent-1", SourceID: "src-1",
		AgreementRef: "AG-1", Status: domain.AgreementDraft,
	}))
	err := as.Create(ctx, &domain.Agreement{
		ID: "ag-2", AgentID: "agent-1", SourceID: "src-1",
		AgreementRef: "AG-1", Status: domain.AgreementDraft,
	})
	assert.True(t, errors.Is(err, domain.ErrAlreadyExists))
}

func TestAgreementStatusCAS(t *testing.T) {
	db := openTestDB(t)
	seedCompanies(t, db)
	as := NewAgreementStore(db)
	ctx := context.Background()

	require.NoError(t, as.Create(ctx, &domain.Agreement{
		ID: "ag-1", AgentID: "agent-1", SourceID: "src-1",
		AgreementRef: "AG-1", Status: domain.AgreementDraft,
	}))

	// DRAFT -> OFFERED is fine.
	require.NoError(t, as.UpdateStatusIf(ctx, "ag-1", []domain.AgreementStatus{domain.AgreementDraft}, domain.AgreementOffered))

	// DRAFT -> OFFERED again must fail: state already moved.
	err := as.UpdateStatusIf(ctx, "ag-1", []domain.AgreementStatus{domain.AgreementDraft}, domain.AgreementOffered)
	assert.True(t, errors.Is(err, domain.ErrFailedPrecondition))

	// State unchanged by the failed transition.
	a, err := as.Get(ctx, "ag-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AgreementOffered, a.Status)

	// Unknown id is NOT_FOUND, not precondition.
	err = as.UpdateStatusIf(ctx, "nope", []domain.AgreementStatus{domain.AgreementDraft}, domain.AgreementOffered)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestOverridesRoundTrip(t *testing.T) {
	db := openTestDB(t)
	seedCompanies(t, db)
	as := NewAgreementStore(db)
	ctx := context.Background()

	require.NoError(t, as.Create(ctx, &domain.Agreement{
		ID: "ag-1", AgentID: "agent-1", SourceID: "src-1",
		AgreementRef: "AG-1", Status: domain.AgreementActive,
	}))

	require.NoError(t, as.UpsertOverride(ctx, "ag-1", "FRPAR", true))
	require.NoError(t, as.UpsertOverride(ctx, "ag-1", "GBGLA", false))
	require.NoError(t, as.UpsertOverride(ctx, "ag-1", "FRPAR", true)) // idempotent

	ov, err := as.Overrides(ctx, "ag-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"FRPAR": true, "GBGLA": false}, ov)

	require.NoError(t, as.RemoveOverride(ctx, "ag-1", "GBGLA"))
	ov, err = as.Overrides(ctx, "ag-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"FRPAR": true}, ov)

	err = as.RemoveOverride(ctx, "ag-1", "GBGLA")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestIdempotencyKeySingleClaim(t *testing.T) {
	db := openTestDB(t)
	bs := NewBookingStore(db)
	ctx := context.Background()

	require.NoError(t, bs.PutIdempotencyKey(ctx, "agent-1", "booking:create", "K", "bk-1"))
	err := bs.PutIdempotencyKey(ctx, "agent-1", "booking:create", "K", "bk-2")
	assert.True(t, errors.Is(err, domain.ErrAlreadyExists))

	ref, err := bs.GetIdempotencyRef(ctx, "agent-1", "booking:create", "K")
	require.NoError(t, err)
	assert.Equal(t, "bk-1", ref)

	// Same key under a different agent is independent.
	require.NoError(t, bs.PutIdempotencyKey(ctx, "agent-2", "booking:create", "K", "bk-3"))
}

func TestBookingRoundTripAndHistory(t *testing.T) {
	db := openTestDB(t)
	bs := NewBookingStore(db)
	ctx := context.Background()

	b := &domain.Booking{
		ID: "bk-1", AgentID: "agent-1", SourceID: "src-1", AgreementRef: "AG-1",
		SupplierBookingRef: "SUP-9", Status: domain.BookingConfirmed,
		Rental: domain.RentalDetails{
			PickupUnlocode: "GBMAN", DropoffUnlocode: "GBGLA",
			PickupISO: "2025-11-01T10:00:00Z", DropoffISO: "2025-11-03T10:00:00Z",
			VehicleClass: "compact", DriverAge: 30, ResidencyCountry: "GB",
		},
		PayloadSnapshot: []byte(`{"supplier_booking_ref":"SUP-9"}`),
	}
	require.NoError(t, bs.Create(ctx, b))

	got, err := bs.FindBySupplierRef(ctx, "SUP-9", "src-1")
	require.NoError(t, err)
	assert.Equal(t, "bk-1", got.ID)
	assert.Equal(t, "GBMAN", got.Rental.PickupUnlocode)
	assert.JSONEq(t, `{"supplier_booking_ref":"SUP-9"}`, string(got.PayloadSnapshot))

	got.Status = domain.BookingCancelled
	require.NoError(t, bs.Update(ctx, got))

	require.NoError(t, bs.AppendHistory(ctx, &domain.HistoryEvent{
		BookingID: "bk-1", EventType: domain.HistoryCreated, ActorSource: domain.ActorAgent,
	}))
	require.NoError(t, bs.AppendHistory(ctx, &domain.HistoryEvent{
		BookingID: "bk-1", EventType: domain.HistoryCancelled, ActorSource: domain.ActorAgent,
	}))

	hist, err := bs.History(ctx, "bk-1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, domain.HistoryCreated, hist[0].EventType)
	assert.Equal(t, domain.HistoryCancelled, hist[1].EventType)
}

func TestReplaceSourceLocations(t *testing.T) {
	db := openTestDB(t)
	seedCompanies(t, db)
	ls := NewLocationStore(db)
	ctx := context.Background()

	require.NoError(t, ls.UpsertUNLocodes(ctx, []domain.UNLocode{
		{Code: "GBMAN", Country: "GB", Place: "Manchester"},
		{Code: "GBGLA", Country: "GB", Place: "Glasgow"},
		{Code: "FRPAR", Country: "FR", Place: "Paris"},
	}))

	res, err := ls.ReplaceSourceLocations(ctx, "src-1", []string{"GBMAN", "GBGLA", "ZZXXX"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 1, res.Unknown)

	// Second sync drops GBGLA, adds FRPAR.
	res, err = ls.ReplaceSourceLocations(ctx, "src-1", []string{"GBMAN", "FRPAR"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 1, res.Kept)

	locs, err := ls.SourceLocations(ctx, "src-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"GBMAN": true, "FRPAR": true}, locs)
}

func TestHealthRowRoundTrip(t *testing.T) {
	db := openTestDB(t)
	hs := NewHealthStore(db)
	ctx := context.Background()

	// Unknown source yields a zero row, not an error.
	h, err := hs.Get(ctx, "src-1")
	require.NoError(t, err)
	assert.Zero(t, h.SampleCount)

	until := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second)
	require.NoError(t, hs.Put(ctx, &domain.SourceHealth{
		SourceID: "src-1", SampleCount: 100, SlowCount: 30, SlowRate: 0.3,
		BackoffLevel: 1, ExcludedUntil: &until,
	}))

	h, err = hs.Get(ctx, "src-1")
	require.NoError(t, err)
	assert.EqualValues(t, 100, h.SampleCount)
	require.NotNil(t, h.ExcludedUntil)
	assert.WithinDuration(t, until, *h.ExcludedUntil, time.Second)
}
